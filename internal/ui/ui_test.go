package ui

import (
	"strings"
	"testing"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

func TestShouldUseColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should win over CLICOLOR_FORCE")
	}

	t.Setenv("NO_COLOR", "")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE=1 should force color")
	}

	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Error("CLICOLOR=0 should disable color")
	}
}

func TestRenderKey(t *testing.T) {
	got := RenderKey(model.KindEndpoint, "GET /api/users")
	if !strings.Contains(got, "\x1b[38;5;176m") || !strings.Contains(got, "GET /api/users") {
		t.Errorf("RenderKey = %q", got)
	}
	if got := RenderKey("other", "x"); got != "x" {
		t.Errorf("unknown kind should be plain, got %q", got)
	}
}

func TestRenderCommand(t *testing.T) {
	if got := RenderCommand("explain"); got != "\x1b[1m\x1b[38;5;74mexplain\x1b[0m" {
		t.Errorf("RenderCommand = %q", got)
	}
}

func TestRenderEdge(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	if got := RenderEdge(model.EdgeCalls, model.Outgoing); got != "-CALLS->" {
		t.Errorf("outgoing = %q", got)
	}
	if got := RenderEdge(model.EdgeCalls, model.Incoming); got != "<-CALLS-" {
		t.Errorf("incoming = %q", got)
	}
	if got := KindTag(model.KindClass); got != "[class]   " {
		t.Errorf("KindTag = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncated", 5, "trun…"},
		{"x", 0, "x"},
		{"ab", 1, "…"},
	} {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}
