package sync

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	keys   []string
	bodies []string
	meta   []map[string]string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, string(body))
	f.meta = append(f.meta, in.Metadata)
	return &s3.PutObjectOutput{}, nil
}

func TestGenerationKey(t *testing.T) {
	for _, tc := range []struct {
		key  string
		gen  int64
		want string
	}{
		{"archgraph/graph.jsonl", 42, "archgraph/generations/graph-000042.jsonl"},
		{"graph.jsonl", 1, "generations/graph-000001.jsonl"},
		{"exports/latest", 7, "exports/generations/latest-000007.jsonl"},
	} {
		if got := generationKey(tc.key, tc.gen); got != tc.want {
			t.Errorf("generationKey(%q, %d) = %q, want %q", tc.key, tc.gen, got, tc.want)
		}
	}
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakePutter{}
	d := &S3Destination{client: fake, bucket: "graphs", key: "archgraph/graph.jsonl"}

	if got := d.Name(); got != "s3://graphs/archgraph/graph.jsonl" {
		t.Errorf("Name = %q", got)
	}
	if err := d.Write(context.Background(), Payload{Generation: 3, Data: []byte("{}\n")}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []string{"archgraph/generations/graph-000003.jsonl", "archgraph/graph.jsonl"}
	if len(fake.keys) != 2 || fake.keys[0] != want[0] || fake.keys[1] != want[1] {
		t.Fatalf("keys = %v, want %v", fake.keys, want)
	}
	for i := range fake.keys {
		if fake.bodies[i] != "{}\n" || fake.meta[i]["archgraph-generation"] != "3" {
			t.Errorf("object %d: body %q meta %v", i, fake.bodies[i], fake.meta[i])
		}
	}
}

func TestS3Destination_WriteError(t *testing.T) {
	boom := errors.New("access denied")
	d := &S3Destination{client: &fakePutter{err: boom}, bucket: "b", key: "k.jsonl"}
	err := d.Write(context.Background(), Payload{Generation: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
