package languages

import (
	"codeassist/internal/chunker"

	"github.com/smacker/go-tree-sitter/javascript"
)

func RegisterJavaScript(r *chunker.Registry) {
	r.Register("javascript", &chunker.LanguageSpec{
		Language: javascript.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @function
			(generator_function_declaration name: (identifier) @name) @function
			(method_definition name: (property_identifier) @name) @function
			(variable_declarator name: (identifier) @name value: (arrow_function)) @function
			(class_declaration name: (identifier) @name) @class
		`,
		Extensions: []string{"js", "jsx", "mjs", "cjs"},
	})
}
