package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alexschlessinger/pollychat/chat"
	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

// turnCanceller holds the cancel func of the turn in progress, if any
type turnCanceller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (t *turnCanceller) set(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

// interrupt cancels the running turn and reports whether there was one
func (t *turnCanceller) interrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	t.cancel = nil
	return true
}

// runInteractiveMode runs the CLI in interactive mode with readline support
func runInteractiveMode(ctx context.Context, config *Config, session *chat.Session, renderer *Renderer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          userStyle.Styled("> "),
		HistoryFile:     historyFilePath(),
		AutoComplete:    createAutoCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	printWelcomeMessage(config)

	var turn turnCanceller

	// readline sees Ctrl-C only while reading; during a turn it arrives as
	// SIGINT and cancels the turn instead of exiting
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			turn.interrupt()
		}
	}()
	defer turn.interrupt()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		input, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Println("Use /exit or Ctrl-D to quit")
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, handled := handleInteractiveCommand(input, session, renderer)
			if quit {
				return nil
			}
			if handled {
				continue
			}
		}

		turnCtx, cancel := context.WithCancel(ctx)
		turn.set(cancel)
		if err := session.SendMessage(turnCtx, input); err != nil {
			// already shown by the renderer
			zap.S().Debugw("interactive_turn_failed", "error", err)
		}
		turn.set(nil)
		cancel()
	}
}

// historyFilePath returns the readline history file under ~/.pollychat, or ""
// to keep history in memory only
func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".pollychat")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, ".history")
}

// createAutoCompleter completes slash commands
func createAutoCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/exit"),
		readline.PcItem("/quit"),
		readline.PcItem("/reset"),
		readline.PcItem("/clear"),
		readline.PcItem("/history"),
		readline.PcItem("/help"),
	)
}

// filterInput drops Ctrl-Z so it cannot suspend the prompt
func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// handleInteractiveCommand runs a slash command. quit asks the loop to stop;
// handled is false for input that should be sent as a question.
func handleInteractiveCommand(input string, session *chat.Session, renderer *Renderer) (quit, handled bool) {
	parts := strings.Fields(input)

	switch parts[0] {
	case "/exit", "/quit", "/q":
		return true, true

	case "/reset", "/r":
		session.ResetChat()
		renderer.Reset()
		fmt.Println("Conversation reset.")
		return false, true

	case "/clear":
		session.ClearError()
		clearScreen()
		return false, true

	case "/history", "/h":
		showHistory(os.Stdout, session)
		return false, true

	case "/help", "/?":
		printInteractiveHelp()
		return false, true
	}

	fmt.Printf("Unknown command: %s (use /help for available commands)\n", parts[0])
	return false, true
}

// printWelcomeMessage prints the welcome message for interactive mode
func printWelcomeMessage(config *Config) {
	fmt.Println("pollychat interactive mode")
	fmt.Printf("Server: %s\n", highlightStyle.Styled(config.BaseURL))
	if config.RecordDir != "" {
		fmt.Printf("Recording: %s\n", highlightStyle.Styled(config.RecordDir))
	}
	fmt.Println("Type /help for commands, Ctrl-D to quit.")
	fmt.Println()
}

// printInteractiveHelp prints available commands
func printInteractiveHelp() {
	help := `Commands:
  /reset, /r        Start a new conversation
  /clear            Dismiss the last error and clear the screen
  /history, /h      Show the conversation so far
  /help, /?         Show this help message
  /exit, /quit, /q  Exit

Ctrl-C cancels the answer being streamed.`
	fmt.Println(help)
}

// clearScreen clears the terminal screen
func clearScreen() {
	output.ClearScreen()
}

// showHistory prints the transcript
func showHistory(w io.Writer, session *chat.Session) {
	st := session.Snapshot()
	if len(st.Messages) == 0 {
		fmt.Fprintln(w, "No conversation history.")
		return
	}
	fmt.Fprint(w, formatTranscript(st))
}
