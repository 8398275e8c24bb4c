// Package repl is an interactive console for talking to an agent by hand.
//
// Every line that does not start with a slash is sent to the agent in one
// chat session. When a scenario is tracked, each reply is scored against
// its goals just as a scripted run would be, so a conversation can be
// explored manually before it is captured as a scenario.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"convoprobe/internal/chat"
	"convoprobe/internal/evaluator"
	"convoprobe/internal/model"
	"convoprobe/internal/scenario"
	"convoprobe/pkg/logging"
)

// errExit ends the loop.
var errExit = errors.New("exit")

// Options configure a REPL.
type Options struct {
	// Track scores the conversation against this scenario's goals when set
	Track *scenario.Scenario
	// Vars are forwarded with every message
	Vars map[string]string
	// HistoryFile keeps readline history; empty uses a file in the temp dir
	HistoryFile string
}

// REPL represents the Read-Eval-Print Loop for manual conversations.
type REPL struct {
	sender chat.Sender
	out    io.Writer
	opts   Options

	sessionID string
	history   []model.Turn
	eval      *evaluator.Evaluator
	ledger    evaluator.Ledger
}

// New creates a REPL. A tracked scenario that cannot be evaluated is an error.
func New(sender chat.Sender, out io.Writer, opts Options) (*REPL, error) {
	r := &REPL{sender: sender, out: out, opts: opts}
	if opts.Track != nil {
		if err := opts.Track.Validate(); err != nil {
			return nil, err
		}
		eval, err := evaluator.New(opts.Track)
		if err != nil {
			return nil, err
		}
		r.eval = eval
	}
	r.reset()
	return r, nil
}

// SessionID returns the current chat session.
func (r *REPL) SessionID() string {
	return r.sessionID
}

func (r *REPL) reset() {
	r.sessionID = "convoprobe-chat-" + uuid.NewString()
	r.history = nil
	r.ledger = evaluator.Ledger{}
}

// Run starts the REPL and reads lines until EOF, /exit or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	historyFile := r.opts.HistoryFile
	if historyFile == "" {
		historyFile = filepath.Join(os.TempDir(), ".convoprobe_chat_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
		Stdout:              r.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(r.out, "Chat session %s. Type /help for commands.\n\n", r.sessionID)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		if err := r.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

// Execute handles one input line: a slash command or a message to send.
func (r *REPL) Execute(ctx context.Context, line string) error {
	input := strings.TrimSpace(line)
	if !strings.HasPrefix(input, "/") {
		if input == "" {
			return nil
		}
		return r.send(ctx, line)
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		return errExit
	case "/help":
		r.printHelp()
	case "/reset":
		r.reset()
		fmt.Fprintf(r.out, "New session %s\n", r.sessionID)
	case "/raw":
		// Sends the rest of the line verbatim, including surrounding whitespace.
		msg := strings.TrimPrefix(strings.TrimLeft(line, " \t"), "/raw")
		msg = strings.TrimPrefix(msg, " ")
		return r.send(ctx, msg)
	case "/goals":
		r.printGoals()
	case "/transcript":
		r.printTranscript()
	default:
		return fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return nil
}

func (r *REPL) send(ctx context.Context, msg string) error {
	reply, err := r.sender.Send(ctx, chat.Request{SessionID: r.sessionID, Message: msg, Vars: r.opts.Vars})
	turn := model.Turn{
		Number:      len(r.history) + 1,
		Source:      model.SourceManual,
		UserMessage: msg,
		Reply:       reply.Text,
		ToolCalls:   reply.ToolCalls,
		Timestamp:   time.Now(),
		Latency:     reply.Latency,
		Attempts:    reply.Attempts,
	}
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return err
		}
		turn.Failed = true
		turn.Error = err.Error()
		turn.Reply = ""
		turn.ToolCalls = nil
	}
	r.history = append(r.history, turn)
	logging.Debug("REPL", "turn %d in %s: %d attempts, %v", turn.Number, r.sessionID, turn.Attempts, turn.Latency)

	if turn.Failed {
		fmt.Fprintf(r.out, "agent> (no reply after %d attempts: %s)\n", turn.Attempts, turn.Error)
	} else {
		fmt.Fprintf(r.out, "agent> %s\n", turn.Reply)
		for _, tc := range turn.ToolCalls {
			fmt.Fprintf(r.out, "       [tool %s]\n", tc.Name)
		}
	}

	if r.eval != nil {
		results, issues := r.eval.Evaluate(r.history, r.ledger)
		r.ledger = r.ledger.Append(results, issues)
		for _, gr := range results {
			if gr.Achieved {
				fmt.Fprintf(r.out, "       + %s\n", gr.GoalID)
			} else {
				fmt.Fprintf(r.out, "       ! %s violated\n", gr.GoalID)
			}
		}
		for _, is := range issues {
			fmt.Fprintf(r.out, "       ! %s: %s\n", is.Severity, is.Description)
		}
	}
	return nil
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, `Type a message to send it to the agent.

Commands:
  /raw <text>    send text verbatim, including blank or whitespace-only messages
  /goals         show tracked goals and which are met
  /transcript    print the conversation so far
  /reset         start a new chat session
  /exit          leave`)
}

func (r *REPL) printGoals() {
	if r.eval == nil {
		fmt.Fprintln(r.out, "No scenario tracked (use --track <scenario-id>).")
		return
	}
	achieved := r.ledger.Achieved()
	outstanding := make(map[string]bool)
	for _, id := range r.eval.Outstanding(r.ledger) {
		outstanding[id] = true
	}

	ids := r.opts.Track.RequiredGoals(achieved)
	sort.Strings(ids)
	met := 0
	for _, id := range ids {
		switch {
		case achieved[id]:
			met++
			fmt.Fprintf(r.out, "  [x] %s\n", id)
		case outstanding[id]:
			fmt.Fprintf(r.out, "  [ ] %s\n", id)
		default:
			fmt.Fprintf(r.out, "  [~] %s (met unless violated)\n", id)
		}
	}
	fmt.Fprintf(r.out, "%d of %d required goals met\n", met, len(ids))
}

func (r *REPL) printTranscript() {
	if len(r.history) == 0 {
		fmt.Fprintln(r.out, "No messages yet.")
		return
	}
	for _, t := range r.history {
		fmt.Fprintf(r.out, "#%d you: %s\n", t.Number, t.UserMessage)
		if t.Failed {
			fmt.Fprintf(r.out, "#%d agent: (no reply: %s)\n", t.Number, t.Error)
			continue
		}
		fmt.Fprintf(r.out, "#%d agent: %s\n", t.Number, t.Reply)
	}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/raw"),
		readline.PcItem("/goals"),
		readline.PcItem("/transcript"),
		readline.PcItem("/reset"),
		readline.PcItem("/exit"),
	)
}

// filterInput drops Ctrl+Z, which would otherwise suspend the terminal.
func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}
