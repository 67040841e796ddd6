package chunker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var (
	// ErrParse marks a file whose text is not valid syntax for its language.
	ErrParse = errors.New("parse error")
	// ErrUnsupportedLanguage is returned for files without a registered grammar.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// ParseError reports a source file that could not be decomposed into units.
type ParseError struct {
	Path string
	Line int // 1-based line of the first syntax error, 0 if unknown
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parse %s: syntax error at line %d", e.Path, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// CodeUnit is one function or method found in a source file.
type CodeUnit struct {
	FileName       string
	Path           string
	EnclosingClass string // empty when the unit is not inside a class body
	Name           string
	Kind           string
	StartLine      int
	EndLine        int
	Body           string
}

// HasClass reports whether the unit is defined inside a class body.
func (u CodeUnit) HasClass() bool { return u.EnclosingClass != "" }

// ID returns the unit's chunk identifier.
func (u CodeUnit) ID() string {
	return Identifier(u.FileName, u.EnclosingClass, u.Name)
}

// Chunker parses source files using tree-sitter and extracts code units.
type Chunker struct {
	registry *Registry
}

// New creates a chunker backed by the given registry.
func New(r *Registry) *Chunker {
	return &Chunker{registry: r}
}

// Registry returns the registry the chunker looks grammars up in.
func (c *Chunker) Registry() *Registry { return c.registry }

// Extract parses src and returns every function-like definition it contains,
// in source order, including methods and functions nested in other scopes.
func (c *Chunker) Extract(path string, src []byte) ([]CodeUnit, error) {
	spec, lang := c.registry.Lookup(path)
	if spec == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedLanguage)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Path: path, Line: firstErrorLine(root)}
	}

	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var caps []capture
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var cp capture
		for _, mc := range m.Captures {
			switch q.CaptureNameForId(mc.Index) {
			case "function":
				cp.node, cp.class = mc.Node, false
			case "class":
				cp.node, cp.class = mc.Node, true
			case "name":
				cp.name = mc.Node.Content(src)
			}
		}
		if cp.node == nil || cp.name == "" {
			continue
		}
		caps = append(caps, cp)
	}

	return buildUnits(path, src, caps), nil
}

type capture struct {
	node  *sitter.Node
	name  string
	class bool
}

// buildUnits sweeps the captures in source order with a stack of open class
// scopes; a function belongs to the class on top of the stack.
func buildUnits(path string, src []byte, caps []capture) []CodeUnit {
	sort.SliceStable(caps, func(i, j int) bool {
		a, b := caps[i].node, caps[j].node
		if a.StartByte() != b.StartByte() {
			return a.StartByte() < b.StartByte()
		}
		return a.EndByte() > b.EndByte()
	})

	lines := strings.Split(string(src), "\n")
	fileName := filepath.Base(path)

	var (
		classes []capture
		units   []CodeUnit
		seen    = make(map[[2]uint32]bool)
	)
	for _, cp := range caps {
		for len(classes) > 0 && classes[len(classes)-1].node.EndByte() <= cp.node.StartByte() {
			classes = classes[:len(classes)-1]
		}
		if cp.class {
			classes = append(classes, cp)
			continue
		}

		key := [2]uint32{cp.node.StartByte(), cp.node.EndByte()}
		if seen[key] {
			continue
		}
		seen[key] = true

		start, end := lineSpan(cp.node)
		end = trimTrailingComments(lines, start, end)
		u := CodeUnit{
			FileName:  fileName,
			Path:      filepath.ToSlash(path),
			Name:      cp.name,
			Kind:      cp.node.Type(),
			StartLine: start,
			EndLine:   end,
			Body:      sliceLines(lines, start, end),
		}
		if len(classes) > 0 {
			u.EnclosingClass = classes[len(classes)-1].name
		}
		units = append(units, u)
	}
	return units
}

// lineSpan returns the 1-based inclusive line range of a node.
func lineSpan(n *sitter.Node) (int, int) {
	start := int(n.StartPoint().Row) + 1
	endPt := n.EndPoint()
	end := int(endPt.Row) + 1
	// A node that swallowed its trailing newline ends at column 0 of the
	// following line.
	if endPt.Column == 0 && end > start {
		end--
	}
	return start, end
}

// trimTrailingComments drops blank and comment-only lines from the end of a
// span. Python grammars attach indented comments after the last statement to
// the enclosing block.
func trimTrailingComments(lines []string, start, end int) int {
	for end > start && end <= len(lines) {
		l := strings.TrimSpace(lines[end-1])
		if l != "" && !strings.HasPrefix(l, "#") && !strings.HasPrefix(l, "//") {
			break
		}
		end--
	}
	return end
}

func sliceLines(lines []string, startLine, endLine int) string {
	start := startLine - 1
	end := endLine
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

// firstErrorLine finds the first ERROR or MISSING node in document order.
func firstErrorLine(root *sitter.Node) int {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsError() || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return 0
}
