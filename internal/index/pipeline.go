package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"codeassist/internal/chunker"
	"codeassist/internal/store"
	"codeassist/internal/walker"
)

// Stats reports indexing results.
type Stats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int // no units, or every unit rejected as a duplicate
	FilesFailed  int // unreadable or unparsable
	UnitsTotal   int
	Collisions   int
}

// Result is the outcome of an indexing run.
type Result struct {
	Stats Stats
	// Readme is the content of the shallowest README under the root, or "".
	Readme string
}

type pass struct {
	*Indexer
	res         Result
	readmeDepth int
	seen        map[string]string // identifier → relative path of its first unit
}

func (idx *Indexer) run(ctx context.Context, root string) (*Result, error) {
	p := &pass{Indexer: idx, readmeDepth: -1, seen: make(map[string]string)}
	err := walker.Walk(root, idx.chunker.Registry().Extensions(), func(fi walker.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.Readme {
			p.readme(fi)
			return nil
		}
		return p.file(ctx, fi)
	})
	if err != nil {
		return &p.res, err
	}
	return &p.res, nil
}

// readme keeps the first README found at the shallowest depth. The walk is
// lexical, so among equally shallow READMEs the first in name order wins.
func (p *pass) readme(fi walker.FileInfo) {
	if p.readmeDepth >= 0 && fi.Depth >= p.readmeDepth {
		return
	}
	src, err := os.ReadFile(fi.Path)
	if err != nil {
		p.log.Warn("skipping unreadable README", "path", fi.RelPath, "error", err)
		return
	}
	p.res.Readme = string(src)
	p.readmeDepth = fi.Depth
}

func (p *pass) file(ctx context.Context, fi walker.FileInfo) error {
	p.res.Stats.FilesTotal++
	if p.progress != nil {
		p.progress(fi.RelPath)
	}

	src, err := os.ReadFile(fi.Path)
	if err != nil {
		p.log.Warn("skipping unreadable file", "path", fi.RelPath, "error", err)
		p.res.Stats.FilesFailed++
		return nil
	}

	units, err := p.chunker.Extract(fi.RelPath, src)
	if err != nil {
		if errors.Is(err, chunker.ErrParse) || errors.Is(err, chunker.ErrUnsupportedLanguage) {
			p.log.Warn("skipping file", "path", fi.RelPath, "error", err)
			p.res.Stats.FilesFailed++
			return nil
		}
		return fmt.Errorf("extract %s: %w", fi.RelPath, err)
	}

	units, replaced := p.resolveCollisions(fi.RelPath, units)
	if len(units) == 0 {
		p.res.Stats.FilesSkipped++
		return nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Body
	}

	// Embed in sub-batches of BatchSize.
	embeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += p.config.BatchSize {
		end := min(i+p.config.BatchSize, len(texts))
		embs, err := p.embedder.Embed(ctx, texts[i:end])
		if err != nil {
			return fmt.Errorf("embed %s: %w", fi.RelPath, err)
		}
		if len(embs) != end-i {
			return fmt.Errorf("embed %s: expected %d embeddings, got %d", fi.RelPath, end-i, len(embs))
		}
		embeddings = append(embeddings, embs...)
	}

	entries := make([]store.Entry, len(units))
	for i, u := range units {
		entries[i] = store.Entry{
			ID:        u.ID(),
			Embedding: embeddings[i],
			Document:  u.Body,
			Metadata:  unitMetadata(u),
		}
	}
	if err := p.index.Insert(ctx, entries); err != nil {
		return fmt.Errorf("store %s: %w", fi.RelPath, err)
	}

	p.res.Stats.FilesIndexed++
	// Units that replaced an entry stored from an earlier file add nothing to the index.
	p.res.Stats.UnitsTotal += len(units) - replaced
	return nil
}

// resolveCollisions applies the collision policy to units whose identifier
// was already produced during this run, including earlier units of the same
// file. It also returns how many kept units overwrite an entry stored by an
// earlier file.
func (p *pass) resolveCollisions(relPath string, units []chunker.CodeUnit) ([]chunker.CodeUnit, int) {
	replaced := 0
	kept := units[:0:0]
	batch := make(map[string]int)
	for _, u := range units {
		id := u.ID()
		first, dup := p.seen[id]
		if !dup {
			p.seen[id] = relPath
			batch[id] = len(kept)
			kept = append(kept, u)
			continue
		}

		p.res.Stats.Collisions++
		if p.config.Collisions == CollisionReject {
			p.log.Warn("duplicate identifier rejected", "id", id, "path", relPath, "first", first)
			continue
		}
		p.log.Warn("duplicate identifier overwrites earlier unit", "id", id, "path", relPath, "first", first)
		if i, ok := batch[id]; ok {
			// Same insert batch: the later unit replaces the earlier one in place.
			kept[i] = u
			continue
		}
		batch[id] = len(kept)
		kept = append(kept, u)
		replaced++
	}
	return kept, replaced
}

func unitMetadata(u chunker.CodeUnit) map[string]string {
	return map[string]string{
		"source":     u.ID(),
		"path":       u.Path,
		"class":      u.EnclosingClass,
		"name":       u.Name,
		"kind":       u.Kind,
		"start_line": strconv.Itoa(u.StartLine),
		"end_line":   strconv.Itoa(u.EndLine),
	}
}
