package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// readFromStdin reads all lines from stdin and joins them with newlines
func readFromStdin() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading stdin: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// hasStdinData checks if stdin is piped or redirected
func hasStdinData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// setupSignalHandling returns a context cancelled on SIGINT or SIGTERM
func setupSignalHandling(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// getPrompt returns the one-shot question: the --prompt value, else piped
// stdin. ok is false when neither is available and the CLI should go
// interactive.
func getPrompt(config *Config) (prompt string, ok bool, err error) {
	if config.Prompt != "" {
		return config.Prompt, true, nil
	}
	if !hasStdinData() {
		return "", false, nil
	}
	prompt, err = readFromStdin()
	if err != nil {
		return "", false, err
	}
	return prompt, true, nil
}
