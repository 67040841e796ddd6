package dialogue

import (
	"fmt"

	"codeassist/internal/llm"
	"codeassist/internal/rag"
)

// SearchToolName is the only tool the model is offered.
const SearchToolName = "search_codebase"

const systemPrompt = "You are a helpful code assistant that will be answering questions about a very important large codebase. " +
	"Before you answer a question from a user, make sure to look up relevant context if you need it."

// SearchTool declares the codebase search to the model.
var SearchTool = llm.Tool{
	Name: SearchToolName,
	Description: fmt.Sprintf("Semantically search the codebase for relevant functions and methods and get the %d most relevant ones back. ", rag.TopK) +
		"Use this whenever the user asks how the codebase works, whether to modify it or to learn more about its inner workings. " +
		"Look things up more often than not, unless the question is basic programming language knowledge.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "A description of what you're looking for in the codebase.",
			},
		},
		"required": []string{"query"},
	},
}

// SystemPrompt builds the opening system turn, carrying the README when one was found.
func SystemPrompt(readme string) string {
	if readme == "" {
		return systemPrompt
	}
	return systemPrompt + "\nThis is the readme of the repo:\n" + readme
}
