package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeassist/internal/chunker"
	"codeassist/internal/chunker/languages"
	"codeassist/internal/embedder"
	"codeassist/internal/store"
)

const mathUtils = `import math


def add(a, b):
    return a + b


class Calculator:
    def multiply(self, a, b):
        return a * b
`

// memIndex is an in-memory Index that records every call.
type memIndex struct {
	entries map[string]store.Entry
	meta    map[string]string
	inserts int
	resets  int
}

func newMemIndex() *memIndex {
	return &memIndex{entries: map[string]store.Entry{}, meta: map[string]string{}}
}

func (m *memIndex) Insert(_ context.Context, entries []store.Entry) error {
	m.inserts++
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *memIndex) Reset(context.Context) error {
	m.resets++
	m.entries = map[string]store.Entry{}
	return nil
}

func (m *memIndex) GetMeta(_ context.Context, key string) (string, error) { return m.meta[key], nil }

func (m *memIndex) SetMeta(_ context.Context, key, value string) error {
	m.meta[key] = value
	return nil
}

func (m *memIndex) ids() []string {
	var ids []string
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fakeEmbedder returns a vector derived from text length and can fail on demand.
type fakeEmbedder struct {
	model   string
	calls   [][]string
	failOn  string
	failErr error
}

func (f *fakeEmbedder) Model() string { return f.model }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, &embedder.Error{Provider: "fake", Err: f.failErr}
		}
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func newChunker() *chunker.Chunker {
	reg := chunker.NewRegistry()
	languages.RegisterAll(reg)
	return chunker.New(reg)
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func newIndexer(t *testing.T, idx Index, emb embedder.Embedder, cfg Config, opts ...Option) *Indexer {
	t.Helper()
	ix, err := New(idx, emb, newChunker(), cfg, opts...)
	require.NoError(t, err)
	return ix
}

func TestIndexSingleFile(t *testing.T) {
	root := writeTree(t, map[string]string{"math_utils.py": mathUtils})
	mem := newMemIndex()
	emb := &fakeEmbedder{model: "m1"}

	var progress []string
	ix := newIndexer(t, mem, emb, DefaultConfig(), WithProgress(func(p string) { progress = append(progress, p) }))

	res, err := ix.Index(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"math_utils.py_Calculator_multiply", "math_utils.py_add"}, mem.ids())
	assert.Equal(t, 1, mem.inserts, "one insert per file")
	assert.Equal(t, []string{"math_utils.py"}, progress)
	assert.Equal(t, Stats{FilesTotal: 1, FilesIndexed: 1, UnitsTotal: 2}, res.Stats)
	assert.Equal(t, "m1", mem.meta[MetaModelKey])

	add := mem.entries["math_utils.py_add"]
	assert.Equal(t, "def add(a, b):\n    return a + b", add.Document)
	assert.Equal(t, "math_utils.py_add", add.Metadata["source"])
	assert.Equal(t, "", add.Metadata["class"])
	assert.Equal(t, "4", add.Metadata["start_line"])
	assert.Equal(t, "5", add.Metadata["end_line"])

	mul := mem.entries["math_utils.py_Calculator_multiply"]
	assert.Equal(t, "Calculator", mul.Metadata["class"])
	assert.Equal(t, "math_utils.py", mul.Metadata["path"])
}

func TestIndexIsIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{"math_utils.py": mathUtils, "lib/other.py": "def f():\n    pass\n"})
	mem := newMemIndex()
	ix := newIndexer(t, mem, &fakeEmbedder{model: "m1"}, DefaultConfig())

	_, err := ix.Index(context.Background(), root)
	require.NoError(t, err)
	first := mem.ids()

	_, err = ix.Index(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, first, mem.ids())
	assert.Len(t, first, 3)
}

func TestIndexWithoutRebuildResetsOnModelChange(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "def f():\n    pass\n"})
	mem := newMemIndex()
	cfg := DefaultConfig()
	cfg.Rebuild = false

	_, err := newIndexer(t, mem, &fakeEmbedder{model: "m1"}, cfg).Index(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, mem.resets)

	_, err = newIndexer(t, mem, &fakeEmbedder{model: "m1"}, cfg).Index(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, mem.resets)

	_, err = newIndexer(t, mem, &fakeEmbedder{model: "m2"}, cfg).Index(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.resets)
	assert.Equal(t, "m2", mem.meta[MetaModelKey])
}

func TestIndexCollisionPolicies(t *testing.T) {
	files := map[string]string{
		"a/util.py": "def run():\n    return 1\n",
		"b/util.py": "def run():\n    return 2\n",
	}

	t.Run("overwrite", func(t *testing.T) {
		mem := newMemIndex()
		res, err := newIndexer(t, mem, &fakeEmbedder{model: "m"}, DefaultConfig()).Index(context.Background(), writeTree(t, files))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.Collisions)
		assert.Equal(t, 1, res.Stats.UnitsTotal, "an overwritten unit is not counted twice")
		assert.Equal(t, len(mem.entries), res.Stats.UnitsTotal)
		assert.Equal(t, 2, res.Stats.FilesIndexed)
		assert.Equal(t, "def run():\n    return 2", mem.entries["util.py_run"].Document)
	})

	t.Run("reject", func(t *testing.T) {
		mem := newMemIndex()
		cfg := DefaultConfig()
		cfg.Collisions = CollisionReject
		res, err := newIndexer(t, mem, &fakeEmbedder{model: "m"}, cfg).Index(context.Background(), writeTree(t, files))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.Collisions)
		assert.Equal(t, 1, res.Stats.UnitsTotal)
		assert.Equal(t, 1, res.Stats.FilesSkipped)
		assert.Equal(t, "def run():\n    return 1", mem.entries["util.py_run"].Document)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(newMemIndex(), &fakeEmbedder{}, newChunker(), Config{Collisions: "merge"})
		assert.Error(t, err)
	})
}

func TestIndexCollisionWithinOneFile(t *testing.T) {
	src := "def run():\n    return 1\n\n\ndef run():\n    return 2\n"
	mem := newMemIndex()
	res, err := newIndexer(t, mem, &fakeEmbedder{model: "m"}, DefaultConfig()).
		Index(context.Background(), writeTree(t, map[string]string{"dup.py": src}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Collisions)
	assert.Equal(t, 1, res.Stats.UnitsTotal)
	assert.Equal(t, "def run():\n    return 2", mem.entries["dup.py_run"].Document)
}

func TestIndexSkipsParseErrors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bad.py":  "def broken(:\n    pass\n",
		"good.py": "def ok():\n    pass\n",
		"none.py": "x = 1\n",
	})
	mem := newMemIndex()
	res, err := newIndexer(t, mem, &fakeEmbedder{model: "m"}, DefaultConfig()).Index(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.py_ok"}, mem.ids())
	assert.Equal(t, Stats{FilesTotal: 3, FilesIndexed: 1, FilesSkipped: 1, FilesFailed: 1, UnitsTotal: 1}, res.Stats)
	assert.Equal(t, 1, mem.inserts, "files without units are not inserted")
}

func TestIndexAbortsOnEmbeddingError(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py": "def first():\n    pass\n",
		"b.py": "def second():\n    pass\n",
		"c.py": "def third():\n    pass\n",
	})
	mem := newMemIndex()
	emb := &fakeEmbedder{model: "m", failOn: "second", failErr: errors.New("connection refused")}

	res, err := newIndexer(t, mem, emb, DefaultConfig()).Index(context.Background(), root)
	require.Error(t, err)
	assert.ErrorIs(t, err, embedder.ErrEmbedding)
	assert.Contains(t, err.Error(), "b.py")

	require.NotNil(t, res)
	assert.Equal(t, 1, res.Stats.FilesIndexed)
	assert.Equal(t, []string{"a.py_first"}, mem.ids())
	assert.Empty(t, mem.meta[MetaModelKey], "model is recorded only after a complete run")
}

func TestIndexEmbedsInBatches(t *testing.T) {
	var b strings.Builder
	for i := range 5 {
		fmt.Fprintf(&b, "def f%d():\n    pass\n\n\n", i)
	}
	mem := newMemIndex()
	emb := &fakeEmbedder{model: "m"}
	cfg := DefaultConfig()
	cfg.BatchSize = 2

	res, err := newIndexer(t, mem, emb, cfg).Index(context.Background(), writeTree(t, map[string]string{"many.py": b.String()}))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Stats.UnitsTotal)
	require.Len(t, emb.calls, 3)
	assert.Len(t, emb.calls[2], 1)
	assert.Equal(t, 1, mem.inserts)
}

func TestIndexReturnsShallowestReadme(t *testing.T) {
	root := writeTree(t, map[string]string{
		"docs/README.md": "nested",
		"readme.rst":     "top level",
		"a.py":           "def f():\n    pass\n",
	})
	res, err := newIndexer(t, newMemIndex(), &fakeEmbedder{model: "m"}, DefaultConfig()).Index(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "top level", res.Readme)
	assert.Equal(t, 1, res.Stats.FilesTotal, "READMEs are not source files")

	res, err = newIndexer(t, newMemIndex(), &fakeEmbedder{model: "m"}, DefaultConfig()).
		Index(context.Background(), writeTree(t, map[string]string{"a.py": "def f():\n    pass\n"}))
	require.NoError(t, err)
	assert.Empty(t, res.Readme)
}

func TestIndexIntoStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer s.Close()
	coll, err := s.GetOrCreateCollection(ctx, "my_collection")
	require.NoError(t, err)

	root := writeTree(t, map[string]string{"math_utils.py": mathUtils})
	_, err = newIndexer(t, coll, &fakeEmbedder{model: "m"}, DefaultConfig()).Index(ctx, root)
	require.NoError(t, err)

	n, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := coll.Get(ctx, "math_utils.py_Calculator_multiply")
	require.NoError(t, err)
	assert.Equal(t, "    def multiply(self, a, b):\n        return a * b", got.Document)
}
