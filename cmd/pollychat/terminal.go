package main

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	// termenv output for consistent terminal styling
	output = termenv.NewOutput(os.Stdout)

	// Style helpers - initialized in initColors()
	highlightStyle termenv.Style
	errorStyle     termenv.Style
	successStyle   termenv.Style
	dimStyle       termenv.Style
	userStyle      termenv.Style
	assistantStyle termenv.Style
)

// initColors initializes color styles based on terminal background
func initColors() {
	if termenv.HasDarkBackground() {
		highlightStyle = output.String().Foreground(output.Color("179")).Bold() // Muted yellow
		errorStyle = output.String().Foreground(output.Color("124"))            // Muted red
		successStyle = output.String().Foreground(output.Color("65"))           // Muted green
		dimStyle = output.String().Faint()
		userStyle = output.String().Foreground(output.Color("32")).Bold() // Muted blue
		assistantStyle = output.String().Foreground(output.Color("141"))  // Muted purple
	} else {
		highlightStyle = output.String().Foreground(output.Color("136")).Bold() // Dark orange/brown
		errorStyle = output.String().Foreground(output.Color("160"))            // Dark red
		successStyle = output.String().Foreground(output.Color("28"))           // Dark green
		dimStyle = output.String().Foreground(output.Color("240"))
		userStyle = output.String().Foreground(output.Color("26")).Bold() // Dark blue
		assistantStyle = output.String().Foreground(output.Color("90"))   // Dark purple
	}
}

// isTerminal checks if output is going to a terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// isInteractiveInput reports whether stdin is a terminal
func isInteractiveInput() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
