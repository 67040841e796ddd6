package languages

import (
	"codeassist/internal/chunker"

	"github.com/smacker/go-tree-sitter/golang"
)

// RegisterGo registers Go. Go has no class bodies, so methods are never
// attributed to a class; the receiver type is only visible in the body.
func RegisterGo(r *chunker.Registry) {
	r.Register("go", &chunker.LanguageSpec{
		Language: golang.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @function
			(method_declaration name: (field_identifier) @name) @function
		`,
		Extensions: []string{"go"},
	})
}

// RegisterAll registers every supported language.
func RegisterAll(r *chunker.Registry) {
	RegisterPython(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
	RegisterGo(r)
}
