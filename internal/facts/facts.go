// Package facts reads and writes the JSONL fact stream produced by the
// source parser. Each non-blank line is one record:
//
//	{"type":"class","unit":"src/main/java/a/A.java","data":{"full_name":"a.A"}}
package facts

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// MaxLineSize bounds a single record.
const MaxLineSize = 4 << 20

// Decoder reads facts from a JSONL stream.
type Decoder struct {
	sc   *bufio.Scanner
	line int
	seq  int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{sc: sc}
}

// LineError is a record that could not be decoded. It wraps
// model.ErrMalformedEntity.
type LineError struct {
	Line int
	Seq  int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v: %v", e.Line, model.ErrMalformedEntity, e.Err)
}

func (e *LineError) Unwrap() []error { return []error{model.ErrMalformedEntity, e.Err} }

// Decode returns the next fact. Its Seq is the record's position among the
// non-blank lines of the stream, starting at 1. A record that does not
// parse yields a *LineError and decoding may continue; io.EOF marks the
// end of the stream.
func (d *Decoder) Decode() (*model.Fact, error) {
	for d.sc.Scan() {
		d.line++
		text := strings.TrimSpace(d.sc.Text())
		if text == "" {
			continue
		}
		d.seq++
		var f model.Fact
		if err := json.Unmarshal([]byte(text), &f); err != nil {
			return nil, &LineError{Line: d.line, Seq: d.seq, Err: err}
		}
		f.Seq = d.seq
		return &f, nil
	}
	if err := d.sc.Err(); err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	return nil, io.EOF
}

// ReadAll decodes the whole stream. Records that do not parse are
// returned as malformed issues rather than failing the read; only an I/O
// error does that.
func ReadAll(r io.Reader) ([]*model.Fact, []model.Issue, error) {
	dec := NewDecoder(r)
	var (
		out    []*model.Fact
		issues []model.Issue
	)
	for {
		f, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return out, issues, nil
		}
		var le *LineError
		if errors.As(err, &le) {
			issues = append(issues, model.Issue{
				Kind:    model.IssueMalformed,
				Seq:     le.Seq,
				Message: le.Error(),
			})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		out = append(out, f)
	}
}

// Encoder writes facts as JSONL.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

// Encode writes one fact followed by a newline.
func (e *Encoder) Encode(f *model.Fact) error {
	if err := e.enc.Encode(f); err != nil {
		return fmt.Errorf("encode %s fact: %w", f.Type, err)
	}
	return nil
}

// WriteAll encodes every fact in order.
func WriteAll(w io.Writer, facts []*model.Fact) error {
	enc := NewEncoder(w)
	for _, f := range facts {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return nil
}
