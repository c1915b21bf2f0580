// Command applytrack-tui is a terminal monitor for applytrack-syncd. It polls
// the control API and shows the pending queue, connectivity and sync state.
//
// Usage:
//
//	applytrack-tui --api http://127.0.0.1:8484
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8484", "applytrack-syncd API URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	logPath := flag.String("log", "applytrack-tui.log", "log file path")
	flag.Parse()

	// Set up logging to file (stdout is owned by the TUI)
	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close() //nolint:errcheck

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	program := tea.NewProgram(newModel(newAPIClient(*apiURL), *interval, logger), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		logger.Error("TUI crashed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
