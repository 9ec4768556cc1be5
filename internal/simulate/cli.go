package simulate

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/amep/pkg/logger"
)

// SetupLogging sends log output to stdout and, when logFile is set, to that
// file as well.
func SetupLogging(logFile string) error {
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.Init(logger.WithWriter(w)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return nil
}

// ShowHelp prints usage information for the classroom simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Classroom Simulator
===================

Drives a running engine with a simulated classroom: answers are posted
asynchronously (with replays to exercise deduplication), engagement signals
are reported per student, and the resulting mastery event counts are checked
against what was sent.

Usage:
  go run ./cmd/classroom-sim [options]

Options:
  -url string        Base URL of the engine (default "http://localhost:8080")
  -students int      Number of students (default 200)
  -classes int       Number of classes (default 8)
  -concepts string   Comma separated concept ids (default "algebra_linear,algebra_quadratic")
  -answers int       Answers per student and concept (default 12)
  -dup float         Share of answers replayed with the same event_id (default 0.05)
  -subject string    Subject for practice sessions (default "algebra")
  -workers int       Concurrent requests (default CPU cores * 2)
  -timeout duration  HTTP request timeout (default 10s)
  -settle duration   Max wait for queued events to apply (default 30s)
  -seed uint         Generator seed (default 1)
  -output string     Write generated answers to this JSON file
  -log string        Also write logs to this file
  -verbose           Enable verbose logging
  -help              Show this help message

Examples:
  go run ./cmd/classroom-sim -students 1000 -answers 20
  go run ./cmd/classroom-sim -url http://localhost:9090 -dup 0.2 -verbose
`)
}
