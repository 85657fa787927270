package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// newClone creates a bare remote with one commit on main and returns the
// path of a working clone.
func newClone(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}

	remoteDir := t.TempDir()
	run(t, remoteDir, "git", "init", "--bare")

	workDir := t.TempDir()
	run(t, workDir, "git", "clone", remoteDir, "repo")
	repoDir := filepath.Join(workDir, "repo")

	run(t, repoDir, "git", "config", "user.email", "test@test.com")
	run(t, repoDir, "git", "config", "user.name", "Test")
	run(t, repoDir, "git", "checkout", "-b", "main")

	if err := os.WriteFile(filepath.Join(repoDir, ".gitkeep"), nil, 0o644); err != nil {
		t.Fatalf("write .gitkeep: %v", err)
	}
	run(t, repoDir, "git", "add", ".")
	run(t, repoDir, "git", "commit", "-m", "init")
	run(t, repoDir, "git", "push", "origin", "main")
	return repoDir
}

func TestGitDestination(t *testing.T) {
	repoDir := newClone(t)
	dest := NewGitDestination(repoDir, "graph.jsonl", "main")
	ctx := context.Background()

	first := Payload{Generation: 1, Data: []byte(`{"version":"1","type":"header","generation":1}` + "\n")}
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repoDir, "graph.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(first.Data) {
		t.Fatalf("file content mismatch: got %q", got)
	}
	if msg := lastCommit(t, repoDir); msg != "archgraph: export generation 1" {
		t.Errorf("commit message = %q", msg)
	}

	// Identical data makes no commit.
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("second write (no-op): %v", err)
	}
	if n := commitCount(t, repoDir); n != 2 {
		t.Errorf("commits = %d, want 2", n)
	}

	second := Payload{Generation: 2, Data: []byte(`{"version":"1","type":"header","generation":2}` + "\n")}
	if err := dest.Write(ctx, second); err != nil {
		t.Fatalf("third write: %v", err)
	}
	if msg := lastCommit(t, repoDir); msg != "archgraph: export generation 2" {
		t.Errorf("commit message = %q", msg)
	}
}

func TestGitDestination_SubDirectory(t *testing.T) {
	repoDir := newClone(t)
	dest := NewGitDestination(repoDir, "exports/shop/graph.jsonl", "main")

	p := Payload{Generation: 4, Data: []byte(`{"type":"header"}` + "\n")}
	if err := dest.Write(context.Background(), p); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(repoDir, "exports", "shop", "graph.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(p.Data) {
		t.Fatalf("content mismatch: got %q", got)
	}
}

func TestGitDestination_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	dest := NewGitDestination(t.TempDir(), "graph.jsonl", "main")
	err := dest.Write(context.Background(), Payload{Data: []byte("{}\n")})
	if err == nil || !strings.Contains(err.Error(), "git checkout") {
		t.Fatalf("err = %v, want git checkout failure", err)
	}
}

func lastCommit(t *testing.T, dir string) string {
	t.Helper()
	return strings.TrimSpace(output(t, dir, "git", "log", "-1", "--format=%s"))
}

func commitCount(t *testing.T, dir string) int {
	t.Helper()
	return len(strings.Fields(output(t, dir, "git", "rev-list", "HEAD")))
}

func output(t *testing.T, dir string, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("%s %v failed: %v", name, args, err)
	}
	return string(out)
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("%s %v failed: %v", name, args, err)
	}
}
