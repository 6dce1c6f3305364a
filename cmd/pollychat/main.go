package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexschlessinger/pollychat/capture"
	"github.com/alexschlessinger/pollychat/chat"
	"github.com/alexschlessinger/pollychat/internal/log"
	"github.com/alexschlessinger/pollychat/messages"
	"github.com/alexschlessinger/pollychat/transport"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	app := &cli.Command{
		Name:   "pollychat",
		Usage:  "Chat with a streaming assistant server",
		Flags:  defineFlags(),
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:      "replay",
				Usage:     "Replay recorded .sse captures through the stream pipeline",
				ArgsUsage: "<file|dir>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "chunk",
						Usage: "Read size in bytes when feeding captures (1 exercises byte-by-byte splitting)",
					},
				},
				Action: runReplay,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defineFlags() []cli.Flag {
	def := defaultConfig()
	return []cli.Flag{
		// Server configuration
		&cli.StringFlag{
			Name:  "baseurl",
			Usage: "Base URL of the chat server",
			Value: def.BaseURL,
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "Retries after a failed connection attempt",
			Value: def.MaxRetries,
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Base delay between retries, doubled on each attempt",
			Value: def.RetryDelay,
		},
		&cli.DurationFlag{
			Name:  "max-retry-delay",
			Usage: "Upper bound for the retry delay",
			Value: def.MaxRetryDelay,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Connect and response header timeout",
			Value: def.Timeout,
		},
		&cli.BoolFlag{
			Name:  "breaker",
			Usage: "Stop connecting for a while after repeated failures",
		},

		// Input configuration
		&cli.StringFlag{
			Name:    "prompt",
			Aliases: []string{"p"},
			Usage:   "Question to ask (reads from stdin if piped, interactive otherwise)",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to YAML config file (default ~/.pollychat/config.yaml)",
		},
		&cli.StringFlag{
			Name:  "record",
			Usage: "Directory to record raw event streams into",
		},

		// Output configuration
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the terminal title status",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the final transcript as JSON",
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "Enable debug logging",
		},
		&cli.StringFlag{
			Name:  "logfile",
			Usage: "Write debug logs to this file instead of stderr",
		},
	}
}

func runCommand(ctx context.Context, cmd *cli.Command) error {
	config, err := parseConfig(cmd)
	if err != nil {
		return err
	}
	if err := log.InitLogger(config.Debug, config.LogFile); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer log.Sync()
	initColors()

	client, err := transport.NewClient(config.transportConfig())
	if err != nil {
		return err
	}

	opts := []chat.Option{chat.WithChunkSize(config.ChunkSize)}
	if config.RecordDir != "" {
		rec, err := capture.NewRecorder(config.RecordDir)
		if err != nil {
			return err
		}
		opts = append(opts, chat.WithRecorder(rec))
	}
	session, err := chat.New(client, opts...)
	if err != nil {
		return err
	}
	defer session.Close()

	prompt, oneShot, err := getPrompt(config)
	if err != nil {
		return err
	}
	if !oneShot {
		if !isInteractiveInput() {
			return errors.New("no prompt given; use -p, pipe a question on stdin, or run in a terminal")
		}
		renderer := NewRenderer(os.Stdout, createStatusLine(config), false, true)
		defer session.Subscribe(renderer.Update)()
		return runInteractiveMode(ctx, config, session, renderer)
	}

	ctx, cancel := setupSignalHandling(ctx)
	defer cancel()
	return runOneShot(ctx, config, session, prompt)
}

// runOneShot asks a single question and prints the answer
func runOneShot(ctx context.Context, config *Config, session *chat.Session, prompt string) error {
	status := createStatusLine(config)
	if status != nil {
		status.Start()
		defer status.Stop()
	}

	if !config.JSON {
		defer session.Subscribe(NewRenderer(os.Stdout, status, false, false).Update)()
	}

	sendErr := session.SendMessage(ctx, prompt)

	if config.JSON {
		if err := outputJSON(os.Stdout, session.Snapshot()); err != nil {
			return err
		}
	}
	if sendErr != nil {
		zap.S().Debugw("oneshot_failed", "error", sendErr)
		if ce, ok := messages.AsChatError(sendErr); ok {
			return errors.New(messages.FriendlyMessage(ce))
		}
		return sendErr
	}
	if st := session.Snapshot(); st.HasError() {
		return errors.New(st.Error)
	}
	return nil
}

// runReplay feeds recorded captures through a session in order, one turn per
// capture
func runReplay(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return errors.New("replay needs at least one capture file or directory")
	}
	config, err := parseConfig(cmd.Root())
	if err != nil {
		return err
	}
	if err := log.InitLogger(config.Debug, config.LogFile); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer log.Sync()
	initColors()

	files, err := capture.Files(cmd.Args().Slice()...)
	if err != nil {
		return err
	}

	chunk := config.ChunkSize
	if cmd.IsSet("chunk") {
		chunk = cmd.Int("chunk")
	}
	replayer := capture.NewReplayer(files...)
	session, err := chat.New(replayer, chat.WithChunkSize(chunk))
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := setupSignalHandling(ctx)
	defer cancel()

	if !config.JSON {
		defer session.Subscribe(NewRenderer(os.Stdout, nil, true, true).Update)()
	}

	var failed int
	for {
		path, ok := replayer.Next()
		if !ok {
			break
		}
		question, err := replayQuestion(path)
		if err != nil {
			return err
		}
		if err := session.SendMessage(ctx, question); err != nil {
			failed++
			zap.S().Debugw("replay_turn_failed", "path", path, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if config.JSON {
		if err := outputJSON(os.Stdout, session.Snapshot()); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d captures failed to replay", failed, len(files))
	}
	return nil
}

// replayQuestion returns the question to send for a capture: the recorded
// one, else the file name. It is never blank, so every capture is served.
func replayQuestion(path string) (string, error) {
	question, err := capture.Question(path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(question) != "" {
		return question, nil
	}
	base := filepath.Base(path)
	if name := strings.TrimSuffix(base, capture.Ext); strings.TrimSpace(name) != "" {
		return name, nil
	}
	return base, nil
}
