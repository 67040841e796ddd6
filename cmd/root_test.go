package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/embed and /api/chat. The chat endpoint answers
// directly unless the last user message mentions "multiply", in which case it
// first asks for a codebase search.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		embs := make([][]float32, len(req.Input))
		for i, in := range req.Input {
			embs[i] = []float32{float32(len(in)%7) + 1, float32(strings.Count(in, "a")) + 1, 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": embs})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Tools []any `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		last := req.Messages[len(req.Messages)-1].Content

		msg := map[string]any{"role": "assistant", "content": "Direct answer."}
		switch {
		case len(req.Tools) > 0 && strings.Contains(last, "multiply"):
			msg = map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []any{map[string]any{
					"function": map[string]any{"name": "search_codebase", "arguments": map[string]any{"query": "multiply"}},
				}},
			}
		case strings.Contains(last, "In math_utils.py_Calculator_multiply:"):
			msg["content"] = "Grounded answer."
		}
		json.NewEncoder(w).Encode(map[string]any{"message": msg, "done": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAssistantEndToEnd(t *testing.T) {
	srv := fakeOllama(t)

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "math_utils.py"), []byte(
		"def add(a, b):\n    return a + b\n\n\nclass Calculator:\n    def multiply(self, a, b):\n        return a * b\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# Math\n"), 0o644))

	cfgPath := filepath.Join(t.TempDir(), "codeassist.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"embedder:\n  base_url: "+srv.URL+"\n"+
			"chat:\n  base_url: "+srv.URL+"\n"+
			"index:\n  path: "+filepath.Join(t.TempDir(), "index.db")+"\n"+
			"log:\n  level: error\n"), 0o644))
	t.Setenv("CODEASSIST_CONFIG", cfgPath)

	var out bytes.Buffer
	rootCmd.SetArgs([]string{repo})
	rootCmd.SetIn(strings.NewReader("What is Go?\nHow does multiply work?\nquit\n"))
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())

	got := out.String()
	assert.Contains(t, got, "codeassist indexing "+repo)
	assert.Contains(t, got, "Processing: math_utils.py")
	assert.Contains(t, got, "Indexed 2 units from 1 of 1 files")
	assert.Contains(t, got, "Welcome to code assistant, type quit to exit")
	assert.Contains(t, got, "Direct answer.")
	assert.Contains(t, got, "Looking up code...")
	assert.Contains(t, got, "Finishing up response...")
	assert.Contains(t, got, "Grounded answer.")
}

func TestRootRequiresDirectory(t *testing.T) {
	rootCmd.SetArgs([]string{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	assert.Error(t, rootCmd.Execute())

	f := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(f, []byte("x = 1\n"), 0o644))
	rootCmd.SetArgs([]string{f})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestDirectoryNamedHelpIsNotACommand(t *testing.T) {
	rootCmd.InitDefaultHelpCmd()

	c, args, err := rootCmd.Find([]string{"help"})
	require.NoError(t, err)
	assert.Same(t, rootCmd, c)
	assert.Equal(t, []string{"help"}, args)

	c, _, err = rootCmd.Find([]string{"mcp"})
	require.NoError(t, err)
	assert.Same(t, mcpCmd, c)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("info")
	assert.NoError(t, err)
	_, err = newLogger("chatty")
	assert.Error(t, err)
}
