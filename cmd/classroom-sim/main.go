package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/okian/amep/internal/simulate"
)

// Default configuration constants.
const (
	defaultStudents    = 200
	defaultClasses     = 8
	defaultAnswers     = 12
	defaultDupRate     = 0.05
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultSettle      = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "Base URL of the engine")
		students   = flag.Int("students", defaultStudents, "Number of students")
		classes    = flag.Int("classes", defaultClasses, "Number of classes")
		concepts   = flag.String("concepts", "algebra_linear,algebra_quadratic", "Comma separated concept ids")
		answers    = flag.Int("answers", defaultAnswers, "Answers per student and concept")
		dupRate    = flag.Float64("dup", defaultDupRate, "Share of answers replayed with the same event_id")
		subject    = flag.String("subject", "algebra", "Subject for practice sessions")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent requests")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettle, "Max wait for queued events to apply")
		seed       = flag.Uint64("seed", 1, "Generator seed")
		outputFile = flag.String("output", "", "Write generated answers to this JSON file")
		logFile    = flag.String("log", "", "Also write logs to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:           strings.TrimRight(*baseURL, "/"),
		Timeout:           *timeout,
		Workers:           *workers,
		Students:          *students,
		Classes:           *classes,
		Concepts:          strings.Split(*concepts, ","),
		AnswersPerConcept: *answers,
		DuplicateRate:     *dupRate,
		SubjectArea:       *subject,
		Settle:            *settle,
		Seed:              *seed,
		OutputFile:        *outputFile,
		Verbose:           *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
