package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Status shows turn progress in the terminal title
type Status struct {
	w             io.Writer
	mu            sync.Mutex
	currentText   string
	spinnerActive bool
	spinnerStop   chan struct{}
	spinnerIndex  int
	startTime     time.Time
}

// NewStatus creates a terminal title status manager writing to stderr
func NewStatus() *Status {
	return &Status{
		w:           os.Stderr,
		spinnerStop: make(chan struct{}, 1),
	}
}

// setTitle sets the terminal title using OSC 0
func (s *Status) setTitle(title string) {
	fmt.Fprintf(s.w, "\033]0;%s\007", title)
}

// Start saves the current title; Stop restores it
func (s *Status) Start() {
	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()
	// push title to stack (not universally supported)
	fmt.Fprint(s.w, "\033[22;0t")
}

// Stop stops the spinner and restores the terminal title
func (s *Status) Stop() {
	s.stopSpinner()
	fmt.Fprint(s.w, "\033[23;0t")
	s.setTitle("")
}

// ShowSpinner starts the spinner with text, or updates its text
func (s *Status) ShowSpinner(text string) {
	s.mu.Lock()
	s.currentText = text
	wasActive := s.spinnerActive
	s.spinnerActive = true
	if !wasActive {
		s.startTime = time.Now()
	}
	s.mu.Unlock()

	if !wasActive {
		go s.runSpinner()
	}
}

// UpdateStreamingProgress updates the spinner text with the received size
func (s *Status) UpdateStreamingProgress(charCount int) {
	s.ShowSpinner(fmt.Sprintf("streaming (%d chars)", charCount))
}

// Clear stops the spinner and clears the title
func (s *Status) Clear() {
	if s.stopSpinner() {
		s.setTitle("")
	}
}

// stopSpinner stops the spinner and reports whether it was running
func (s *Status) stopSpinner() bool {
	s.mu.Lock()
	wasActive := s.spinnerActive
	s.spinnerActive = false
	s.mu.Unlock()

	if wasActive {
		select {
		case s.spinnerStop <- struct{}{}:
		default:
		}
	}
	return wasActive
}

func (s *Status) runSpinner() {
	spinnerChars := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.spinnerStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.spinnerActive {
				elapsed := time.Since(s.startTime).Seconds()
				s.setTitle(fmt.Sprintf("%s %s [%.1fs]", spinnerChars[s.spinnerIndex%len(spinnerChars)], s.currentText, elapsed))
				s.spinnerIndex++
			}
			s.mu.Unlock()
		}
	}
}
