package term

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"codeassist/internal/index"
)

// Console writes the interactive session to a terminal.
type Console struct {
	out      io.Writer
	styles   styles
	renderer *glamour.TermRenderer
}

// Option configures a Console.
type Option func(*consoleOptions)

type consoleOptions struct {
	markdown bool
	width    int
}

// WithMarkdown toggles markdown rendering of answers.
func WithMarkdown(on bool) Option {
	return func(o *consoleOptions) { o.markdown = on }
}

// WithWidth sets the word-wrap width used for rendered answers.
func WithWidth(w int) Option {
	return func(o *consoleOptions) { o.width = w }
}

// New creates a Console writing to out.
func New(out io.Writer, opts ...Option) *Console {
	o := consoleOptions{markdown: true, width: 100}
	for _, fn := range opts {
		fn(&o)
	}

	c := &Console{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
	if o.markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(o.width),
		)
		if err == nil {
			c.renderer = r
		}
	}
	return c
}

// Greet prints the welcome banner.
func (c *Console) Greet() {
	fmt.Fprintln(c.out, c.styles.status.Render("Welcome to code assistant, type quit to exit"))
}

// Prompt prints the user input prompt.
func (c *Console) Prompt() {
	fmt.Fprint(c.out, "\n"+c.styles.user.Render("User: "))
}

// Status prints a progress line for the current turn.
func (c *Console) Status(msg string) {
	fmt.Fprintln(c.out, c.styles.status.Render(msg))
}

// Answer prints the assistant's reply, rendered as markdown when enabled.
func (c *Console) Answer(text string) {
	body := text
	if c.renderer != nil {
		if rendered, err := c.renderer.Render(text); err == nil {
			body = strings.Trim(rendered, "\n")
		}
	}
	fmt.Fprintln(c.out, c.styles.assistant.Render("Assistant: ")+body)
}

// Error reports a failed turn.
func (c *Console) Error(err error) {
	fmt.Fprintln(c.out, c.styles.errorText.Render("Error: "+err.Error()))
}

// Processing reports a file about to be indexed.
func (c *Console) Processing(path string) {
	fmt.Fprintln(c.out, c.styles.progress.Render("Processing: "+path))
}

// Indexed prints the summary of an indexing run.
func (c *Console) Indexed(s index.Stats) {
	line := fmt.Sprintf("Indexed %d units from %d of %d files", s.UnitsTotal, s.FilesIndexed, s.FilesTotal)
	var notes []string
	if s.FilesSkipped > 0 {
		notes = append(notes, fmt.Sprintf("%d without units", s.FilesSkipped))
	}
	if s.FilesFailed > 0 {
		notes = append(notes, fmt.Sprintf("%d failed", s.FilesFailed))
	}
	if s.Collisions > 0 {
		notes = append(notes, fmt.Sprintf("%d duplicate identifiers", s.Collisions))
	}
	if len(notes) > 0 {
		line += " (" + strings.Join(notes, ", ") + ")"
	}
	fmt.Fprintln(c.out, c.styles.success.Render(line))
}

// Title prints a heading line.
func (c *Console) Title(title, subtitle string) {
	fmt.Fprintln(c.out, c.styles.title.Render(title)+" "+c.styles.subtitle.Render(subtitle))
}
