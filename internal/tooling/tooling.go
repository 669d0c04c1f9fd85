// Package tooling provides the concrete, sandboxed tool implementations
// an agent profile can be granted access to, plus their argument
// contracts for toolcontract validation.
package tooling

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/huddle-chat/huddle/internal/toolcontract"
)

// MaxReadBytes bounds how much of a file read_file will return.
const MaxReadBytes = 64 * 1024

// MaxWriteBytes bounds how much write_file will accept in one call.
const MaxWriteBytes = 256 * 1024

// WebFetchTimeout bounds how long web_fetch waits for a response.
const WebFetchTimeout = 10 * time.Second

// MaxFetchBytes bounds how much of a web_fetch response body is returned.
const MaxFetchBytes = 32 * 1024

// Contracts returns the argument schema for every built-in tool, ready
// to hand to toolcontract.NewRegistry.
func Contracts() []toolcontract.Contract {
	return []toolcontract.Contract{
		{
			ToolName: "read_file",
			Fields: []toolcontract.Field{
				{Name: "path", Type: toolcontract.TypeString, Required: true, Path: true, Description: "path relative to the workspace root"},
			},
		},
		{
			ToolName: "write_file",
			Fields: []toolcontract.Field{
				{Name: "path", Type: toolcontract.TypeString, Required: true, Path: true},
				{Name: "content", Type: toolcontract.TypeString, Required: true},
			},
		},
		{
			ToolName: "list_dir",
			Fields: []toolcontract.Field{
				{Name: "path", Type: toolcontract.TypeString, Required: false, Path: true},
			},
		},
		{
			ToolName: "run_command",
			Fields: []toolcontract.Field{
				{Name: "command", Type: toolcontract.TypeString, Required: true},
				{Name: "cwd", Type: toolcontract.TypeString, Required: false, Path: true, Description: "working directory to run the command in; must resolve inside an allowed root"},
			},
		},
		{
			ToolName: "web_fetch",
			Fields: []toolcontract.Field{
				{Name: "url", Type: toolcontract.TypeString, Required: true},
			},
		},
	}
}

// Toolset resolves tool names to their implementations, rooted under a
// single workspace directory so file tools cannot escape it.
type Toolset struct {
	WorkspaceRoot string
	HTTPClient    *http.Client
}

// New creates a Toolset rooted at workspaceRoot.
func New(workspaceRoot string) *Toolset {
	return &Toolset{
		WorkspaceRoot: workspaceRoot,
		HTTPClient:    &http.Client{Timeout: WebFetchTimeout},
	}
}

// Run executes the built-in read-only and filesystem tools by name. It
// takes no context argument, so a Toolset does not satisfy
// actions.Runner; run_command is handled separately by
// actions.CommandRunner since it needs process-level sandboxing.
func (t *Toolset) Run(name string, args map[string]any) (string, error) {
	switch name {
	case "read_file":
		return t.readFile(args)
	case "write_file":
		return t.writeFile(args)
	case "list_dir":
		return t.listDir(args)
	case "web_fetch":
		return t.webFetch(args)
	default:
		return "", fmt.Errorf("tooling: unknown tool %q", name)
	}
}

func (t *Toolset) resolve(relPath string) (string, error) {
	if relPath == "" {
		relPath = "."
	}
	full := filepath.Join(t.WorkspaceRoot, relPath)
	rootAbs, err := filepath.Abs(t.WorkspaceRoot)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", relPath)
	}
	return fullAbs, nil
}

func (t *Toolset) readFile(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxReadBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxReadBytes {
		return string(data[:MaxReadBytes]) + "\n... [truncated]", nil
	}
	return string(data), nil
}

func (t *Toolset) writeFile(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if len(content) > MaxWriteBytes {
		return "", fmt.Errorf("content exceeds %d byte limit", MaxWriteBytes)
	}
	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (t *Toolset) listDir(args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			b.WriteString(e.Name() + "/\n")
		} else {
			b.WriteString(e.Name() + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Toolset) webFetch(args map[string]any) (string, error) {
	url, _ := args["url"].(string)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("web_fetch requires an http(s) URL, got %q", url)
	}
	resp, err := t.HTTPClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return "", err
	}
	out := string(data)
	if len(data) > MaxFetchBytes {
		out = out[:MaxFetchBytes] + "\n... [truncated]"
	}
	return fmt.Sprintf("status %d\n%s", resp.StatusCode, out), nil
}
