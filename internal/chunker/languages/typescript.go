package languages

import (
	"codeassist/internal/chunker"

	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const typeScriptQuery = `
	(function_declaration name: (identifier) @name) @function
	(generator_function_declaration name: (identifier) @name) @function
	(method_definition name: (property_identifier) @name) @function
	(variable_declarator name: (identifier) @name value: (arrow_function)) @function
	(class_declaration name: (type_identifier) @name) @class
	(abstract_class_declaration name: (type_identifier) @name) @class
`

// RegisterTypeScript registers .ts and .tsx. TSX needs its own grammar
// because the plain TypeScript grammar rejects JSX.
func RegisterTypeScript(r *chunker.Registry) {
	r.Register("typescript", &chunker.LanguageSpec{
		Language:   typescript.GetLanguage(),
		Query:      typeScriptQuery,
		Extensions: []string{"ts", "mts", "cts"},
	})
	r.Register("tsx", &chunker.LanguageSpec{
		Language:   tsx.GetLanguage(),
		Query:      typeScriptQuery,
		Extensions: []string{"tsx"},
	})
}
