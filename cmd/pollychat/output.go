package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alexschlessinger/pollychat/transcript"
)

// outputJSON writes the transcript as indented JSON
func outputJSON(w io.Writer, st transcript.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// createStatusLine creates a status line if appropriate
func createStatusLine(config *Config) *Status {
	// title updates go to stderr, so JSON output on stdout is unaffected
	if !config.Quiet && isTerminal() {
		return NewStatus()
	}
	return nil
}
