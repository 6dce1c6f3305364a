package messages

import (
	"fmt"
	"strings"
)

// ToolName is the closed set of tools the server may report.
type ToolName string

const (
	ToolCurrentTime  ToolName = "current_time"
	ToolTavilySearch ToolName = "tavily_search"
)

// ToolNames lists every known tool in wire order.
func ToolNames() []ToolName {
	return []ToolName{ToolCurrentTime, ToolTavilySearch}
}

// Valid reports whether n is one of the known tools.
func (n ToolName) Valid() bool {
	switch n {
	case ToolCurrentTime, ToolTavilySearch:
		return true
	}
	return false
}

// DisplayText renders the progress line shown while a tool runs and after it
// finishes.
func (n ToolName) DisplayText(param, result string, status ToolCallStatus) string {
	done := status == ToolComplete
	switch n {
	case ToolCurrentTime:
		if done {
			return "Current time is " + strings.TrimSpace(result)
		}
		return "Fetching current time"
	case ToolTavilySearch:
		if done {
			return fmt.Sprintf("Found %d results, generating answer", countResults(result))
		}
		return "Searching " + param
	}
	return string(n)
}

// countResults counts the non-blank lines of a search result.
func countResults(result string) int {
	n := 0
	for _, line := range strings.Split(result, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
