package dialogue

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"codeassist/internal/llm"
	"codeassist/internal/rag"
)

// ErrTerminated is returned by Turn once the session has ended.
var ErrTerminated = errors.New("session terminated")

// Status lines shown while a turn is in progress.
const (
	StatusThinking  = "Thinking..."
	StatusLookingUp = "Looking up code..."
	StatusFinishing = "Finishing up response..."
)

// Searcher retrieves grounding code for a query.
type Searcher interface {
	Retrieve(ctx context.Context, query string) ([]rag.Result, error)
}

// UI is the console the read loop talks to.
type UI interface {
	Greet()
	Prompt()
	Status(msg string)
	Answer(text string)
	Error(err error)
}

// Outcome describes a completed turn.
type Outcome struct {
	Answer string
	// Query and Results are set when the model asked for a codebase search.
	Query   string
	Results []rag.Result
	Quit    bool
}

// Retrieved reports whether the turn went through a codebase search.
func (o Outcome) Retrieved() bool { return o.Query != "" }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithStatus sets the callback receiving status lines from Turn.
func WithStatus(fn func(string)) Option {
	return func(s *Session) { s.status = fn }
}

// Session is one conversation with the model. It is not safe for concurrent use.
type Session struct {
	chat    llm.Client
	search  Searcher
	history []llm.Message
	state   State
	status  func(string)
	log     *slog.Logger
}

// NewSession starts a conversation whose system turn carries readme when non-empty.
func NewSession(chat llm.Client, search Searcher, readme string, opts ...Option) *Session {
	s := &Session{
		chat:    chat,
		search:  search,
		history: []llm.Message{{Role: llm.RoleSystem, Content: SystemPrompt(readme)}},
		state:   AwaitingUserInput,
		status:  func(string) {},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	return append([]llm.Message(nil), s.history...)
}

// IsQuit reports whether input is the quit sentinel.
func IsQuit(input string) bool {
	return strings.EqualFold(strings.TrimSpace(input), "quit")
}

// Turn runs one user turn to completion. On error the conversation is left
// exactly as it was before the turn and the session awaits the next input.
func (s *Session) Turn(ctx context.Context, input string) (Outcome, error) {
	if s.state == Terminated {
		return Outcome{}, ErrTerminated
	}
	if s.state != AwaitingUserInput {
		return Outcome{}, fmt.Errorf("turn started in state %s", s.state)
	}
	if IsQuit(input) {
		s.state = Terminated
		return Outcome{Quit: true}, nil
	}

	mark := len(s.history)
	out, err := s.turn(ctx, input)
	if err != nil {
		s.history = s.history[:mark]
		s.state = AwaitingUserInput
		s.log.Warn("turn failed", "error", err)
		return Outcome{}, err
	}
	s.state = AwaitingUserInput
	return out, nil
}

func (s *Session) turn(ctx context.Context, input string) (Outcome, error) {
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: input})
	s.state = ModelDeciding
	s.status(StatusThinking)

	reply, err := s.chat.Complete(ctx, s.history, []llm.Tool{SearchTool})
	if err != nil {
		return Outcome{}, fmt.Errorf("chat: %w", err)
	}

	var out Outcome
	switch r := reply.(type) {
	case llm.DirectAnswer:
		s.state = Answering
		out.Answer = r.Content
	case llm.ToolInvocation:
		s.state = Retrieving
		if out, err = s.retrieve(ctx, r); err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, &llm.ProtocolError{Reason: fmt.Sprintf("unexpected reply type %T", reply)}
	}

	s.state = ModelFinishing
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: out.Answer})
	return out, nil
}

// retrieve runs the requested search, hands the results to the model and
// returns its grounded answer.
func (s *Session) retrieve(ctx context.Context, call llm.ToolInvocation) (Outcome, error) {
	if call.Name != SearchToolName {
		return Outcome{}, &llm.ProtocolError{Reason: fmt.Sprintf("unknown tool %q", call.Name)}
	}
	var args struct {
		Query *string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return Outcome{}, &llm.ProtocolError{Reason: fmt.Sprintf("malformed %s arguments: %v", SearchToolName, err)}
	}
	if args.Query == nil || strings.TrimSpace(*args.Query) == "" {
		return Outcome{}, &llm.ProtocolError{Reason: SearchToolName + " called without a query"}
	}
	query := *args.Query

	s.status(StatusLookingUp)
	results, err := s.search.Retrieve(ctx, query)
	if err != nil {
		return Outcome{}, fmt.Errorf("search codebase: %w", err)
	}
	s.log.Debug("search_codebase", "query", query, "results", len(results))

	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: rag.FormatContext(results)})
	s.status(StatusFinishing)

	reply, err := s.chat.Complete(ctx, s.history, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("chat: %w", err)
	}
	answer, ok := reply.(llm.DirectAnswer)
	if !ok {
		return Outcome{}, &llm.ProtocolError{Reason: "expected an answer after the search results, got another tool call"}
	}
	return Outcome{Answer: answer.Content, Query: query, Results: results}, nil
}

// Run reads user lines from in until the quit sentinel, end of input or
// context cancellation. Failed turns are reported through ui and the loop
// continues. On cancellation Run returns ctx.Err() without waiting for the
// pending read, which is left to finish in the background.
func (s *Session) Run(ctx context.Context, in io.Reader, ui UI) error {
	prev := s.status
	s.status = ui.Status
	defer func() { s.status = prev }()

	readCtx, stop := context.WithCancel(ctx)
	defer stop()
	lines, readErr := readLines(readCtx, in)

	ui.Greet()
	for {
		ui.Prompt()
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		out, err := s.Turn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ui.Error(err)
			continue
		}
		if out.Quit {
			return nil
		}
		ui.Answer(out.Answer)
	}
	if err := <-readErr; err != nil {
		return err
	}
	s.state = Terminated
	return nil
}

// readLines scans in on its own goroutine so the caller can stop waiting on
// a blocked read. The line channel closes at end of input; the error channel
// then yields the scanner's error, or nil.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
