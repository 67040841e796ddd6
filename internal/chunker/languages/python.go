package languages

import (
	"codeassist/internal/chunker"

	"github.com/smacker/go-tree-sitter/python"
)

// RegisterPython registers Python. Decorators are not part of a unit; the
// unit starts at the def line.
func RegisterPython(r *chunker.Registry) {
	r.Register("python", &chunker.LanguageSpec{
		Language: python.GetLanguage(),
		Query: `
			(function_definition name: (identifier) @name) @function
			(class_definition name: (identifier) @name) @class
		`,
		Extensions: []string{"py", "pyi"},
	})
}
