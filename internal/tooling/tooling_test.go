package tooling

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWriteFileRoundtrip(t *testing.T) {
	root := t.TempDir()
	ts := New(root)

	if _, err := ts.Run("write_file", map[string]any{"path": "notes.txt", "content": "hello"}); err != nil {
		t.Fatalf("write_file error = %v", err)
	}
	out, err := ts.Run("read_file", map[string]any{"path": "notes.txt"})
	if err != nil {
		t.Fatalf("read_file error = %v", err)
	}
	if out != "hello" {
		t.Errorf("read_file = %q, want hello", out)
	}
}

func TestReadFileRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	ts := New(root)

	_, err := ts.Run("read_file", map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		t.Fatal("expected error for path escaping workspace root")
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(root, "sub"), 0o755)
	ts := New(root)

	out, err := ts.Run("list_dir", map[string]any{})
	if err != nil {
		t.Fatalf("list_dir error = %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("list_dir output = %q, missing expected entries", out)
	}
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	ts := New(t.TempDir())
	out, err := ts.Run("web_fetch", map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("web_fetch error = %v", err)
	}
	if !strings.Contains(out, "pong") {
		t.Errorf("web_fetch output = %q, want it to contain pong", out)
	}
}

func TestWebFetchRejectsNonHTTPScheme(t *testing.T) {
	ts := New(t.TempDir())
	_, err := ts.Run("web_fetch", map[string]any{"url": "file:///etc/passwd"})
	if err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestContractsCoverAllTools(t *testing.T) {
	contracts := Contracts()
	names := map[string]bool{}
	for _, c := range contracts {
		names[c.ToolName] = true
	}
	for _, want := range []string{"read_file", "write_file", "list_dir", "run_command", "web_fetch"} {
		if !names[want] {
			t.Errorf("missing contract for tool %q", want)
		}
	}
}
