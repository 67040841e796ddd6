package walker

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo holds metadata about a discovered file.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
	Depth   int // number of directories between the root and the file
	Readme  bool
}

// maxFileSize is the largest file we'll consider (1 MB).
const maxFileSize = 1 << 20

// IgnoreFile is read from the walked root when present.
const IgnoreFile = ".codeassistignore"

// defaultIgnores are used when no ignore file exists.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".venv",
	"venv",
	".idea",
	".vscode",
	".codeassist",
	"dist",
	"build",
}

// readmeNames are matched case-insensitively against file base names.
var readmeNames = map[string]bool{
	"readme":     true,
	"readme.md":  true,
	"readme.rst": true,
	"readme.txt": true,
}

// IsReadme reports whether a file name is a README.
func IsReadme(name string) bool {
	return readmeNames[strings.ToLower(name)]
}

// ErrNotDir is returned when the walk root is not a directory.
var ErrNotDir = errors.New("not a directory")

// Walk traverses the directory tree rooted at root in lexical order and calls
// visit for every regular file whose extension is in allowedExts and for
// every README. Directories matching the ignore patterns are skipped. A
// non-nil error from visit stops the walk and is returned.
func Walk(root string, allowedExts map[string]bool, visit func(FileInfo) error) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	st, err := os.Stat(absRoot)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return &fs.PathError{Op: "walk", Path: root, Err: ErrNotDir}
	}

	ignores := loadIgnorePatterns(absRoot)

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			return nil // skip unreadable entries, keep walking
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			rel, _ := filepath.Rel(absRoot, path)
			if matchesIgnore(d.Name(), filepath.ToSlash(rel), ignores) {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks and other non-regular files.
		if !d.Type().IsRegular() {
			return nil
		}

		readme := IsReadme(d.Name())
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if !readme && !allowedExts[ext] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		// Skip large or empty files.
		if info.Size() > maxFileSize || info.Size() == 0 {
			return nil
		}

		rel, _ := filepath.Rel(absRoot, path)
		rel = filepath.ToSlash(rel)
		return visit(FileInfo{
			Path:    path,
			RelPath: rel,
			Size:    info.Size(),
			Depth:   strings.Count(rel, "/"),
			Readme:  readme,
		})
	})
}

// loadIgnorePatterns reads the ignore file from the project root, falling
// back to the defaults when it is missing or empty.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return defaultIgnores
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(line, "/"))
	}
	if len(patterns) == 0 {
		return defaultIgnores
	}
	return patterns
}

// matchesIgnore checks if a directory name or relative path matches any ignore pattern.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		// Exact directory name match (e.g. "node_modules", ".git").
		if name == p {
			return true
		}
		// Path prefix match (e.g. "third_party/vendor").
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
