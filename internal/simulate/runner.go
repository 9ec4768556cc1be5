package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/amep/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Retry settings for backpressure and rate limiting.
const (
	maxAttempts  = 5
	retryBackoff = 50 * time.Millisecond
	pollInterval = 200 * time.Millisecond
)

// ErrLostUpdates is returned when the engine's event counts do not match the
// distinct answers submitted.
var ErrLostUpdates = errors.New("event counts do not match submitted answers")

// Run executes a complete classroom simulation against a running engine.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("simulate")
	client := NewHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting classroom simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("students", cfg.Students),
		logger.Int("classes", cfg.Classes),
		logger.Int("concepts", len(cfg.Concepts)),
		logger.Int("answersPerConcept", cfg.AnswersPerConcept),
		logger.Int("workers", cfg.Workers))

	// Step 1: Check engine health
	status, err := client.Get(ctx, "/api/health", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to connect to engine: %w", err)
	}
	if status != http.StatusOK {
		return stats, fmt.Errorf("engine health check failed with status: %d", status)
	}

	// Step 2: Generate the roster and answers
	gen := NewGenerator(cfg, time.Now())
	roster := gen.Roster()
	answers := gen.Answers(roster)
	dups := gen.Duplicates(answers)
	stats.AnswersGenerated = len(answers)
	log.Info(ctx, "generated answers", logger.Int("answers", len(answers)), logger.Int("duplicates", len(dups)))

	// Step 3: Submit answers and replays concurrently
	if err := submitAnswers(ctx, cfg, client, append(answers, dups...), stats); err != nil {
		return stats, fmt.Errorf("answer submission failed: %w", err)
	}

	// Step 4: Submit engagement signals
	if err := submitSignals(ctx, cfg, client, gen.Signals(roster), stats); err != nil {
		return stats, fmt.Errorf("signal submission failed: %w", err)
	}

	// Step 5: Wait for the queue to drain and verify counts
	expected := Expected(answers)
	observed, err := waitSettled(ctx, cfg, client, roster, expected)
	if err != nil {
		return stats, fmt.Errorf("mastery retrieval failed: %w", err)
	}
	stats.StudentsVerified = len(observed)
	stats.CountMismatches = len(Mismatches(expected, observed))
	reportAbility(ctx, log, roster, observed)

	// Step 6: Class dashboards
	if err := reportClasses(ctx, cfg, client, log); err != nil {
		return stats, fmt.Errorf("class retrieval failed: %w", err)
	}

	// Step 7: Practice sessions
	if err := planSessions(ctx, cfg, client, roster, stats); err != nil {
		return stats, fmt.Errorf("practice planning failed: %w", err)
	}

	// Step 8: Save answers to file
	if cfg.OutputFile != "" {
		if err := saveAnswers(cfg.OutputFile, answers); err != nil {
			log.Warn(ctx, "failed to save answers to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	if stats.CountMismatches > 0 {
		return stats, fmt.Errorf("%w: %d student/concept pairs differ", ErrLostUpdates, stats.CountMismatches)
	}
	log.Info(ctx, "simulation completed successfully")
	return stats, nil
}

// post retries on 429 with linear backoff and returns the final status.
func post(ctx context.Context, client *HTTPClient, path string, body, out any) (int, error) {
	var (
		status int
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err = client.Post(ctx, path, body, out)
		if err != nil || status != http.StatusTooManyRequests {
			return status, err
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return status, err
}

// submitAnswers posts every answer to /api/events with at most cfg.Workers
// requests in flight.
func submitAnswers(ctx context.Context, cfg *Config, client *HTTPClient, answers []Answer, stats *Stats) error {
	var accepted, duplicate, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, a := range answers {
		g.Go(func() error {
			var ack AckResponse
			status, err := post(gctx, client, "/api/events", a, &ack)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err == nil && status == http.StatusAccepted:
				accepted.Add(1)
			case err == nil && status == http.StatusOK && ack.Duplicate:
				duplicate.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	stats.AnswersSubmitted = len(answers)
	stats.AnswersAccepted = int(accepted.Load())
	stats.AnswersDuplicate = int(duplicate.Load())
	stats.AnswersFailed = int(failed.Load())
	if cfg.Verbose {
		logger.Get().Info(ctx, "answer submission completed",
			logger.Int("accepted", stats.AnswersAccepted),
			logger.Int("duplicate", stats.AnswersDuplicate),
			logger.Int("failed", stats.AnswersFailed))
	}
	return err
}

func submitSignals(ctx context.Context, cfg *Config, client *HTTPClient, signals []Signals, stats *Stats) error {
	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, s := range signals {
		g.Go(func() error {
			status, err := post(gctx, client, "/api/engagement/analyze", s, nil)
			if err != nil {
				return err
			}
			if status == http.StatusOK {
				sent.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats.SignalsSubmitted = int(sent.Load())
	return err
}

// fetchMastery reads every student's mastery. Students without state are
// missing from the result.
func fetchMastery(ctx context.Context, cfg *Config, client *HTTPClient, roster []Student) (map[string]map[string]ConceptMastery, error) {
	var mu sync.Mutex
	out := make(map[string]map[string]ConceptMastery, len(roster))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, s := range roster {
		g.Go(func() error {
			var sm StudentMastery
			status, err := client.Get(gctx, "/api/mastery/student/"+url.PathEscape(s.ID), &sm)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return nil
			}
			byConcept := make(map[string]ConceptMastery, len(sm.Concepts))
			for _, c := range sm.Concepts {
				byConcept[c.State.ConceptID] = c
			}
			mu.Lock()
			out[s.ID] = byConcept
			mu.Unlock()
			return nil
		})
	}
	return out, g.Wait()
}

// waitSettled polls until the observed counts match expected or cfg.Settle
// elapses, and returns the last observation.
func waitSettled(ctx context.Context, cfg *Config, client *HTTPClient, roster []Student, expected map[string]map[string]int) (map[string]map[string]ConceptMastery, error) {
	deadline := time.Now().Add(cfg.Settle)
	for {
		observed, err := fetchMastery(ctx, cfg, client, roster)
		if err != nil {
			return nil, err
		}
		if len(Mismatches(expected, observed)) == 0 || time.Now().After(deadline) {
			return observed, nil
		}
		select {
		case <-ctx.Done():
			return observed, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// planSessions requests one practice session per student.
func planSessions(ctx context.Context, cfg *Config, client *HTTPClient, roster []Student, stats *Stats) error {
	var planned, empty atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, s := range roster {
		g.Go(func() error {
			body := map[string]any{"student_id": s.ID, "session_duration": 20, "subject_area": cfg.SubjectArea}
			status, err := post(gctx, client, "/api/practice/generate", body, nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				planned.Add(1)
			case http.StatusUnprocessableEntity:
				empty.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	stats.SessionsPlanned = int(planned.Load())
	stats.SessionsNoContent = int(empty.Load())
	return err
}

func reportClasses(ctx context.Context, cfg *Config, client *HTTPClient, log logger.Logger) error {
	for i := 1; i <= max(cfg.Classes, 1); i++ {
		var rep ClassReport
		status, err := client.Get(ctx, fmt.Sprintf("/api/engagement/class/class-%d", i), &rep)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			continue
		}
		log.Info(ctx, "class engagement",
			logger.String("classID", rep.ClassID),
			logger.Int("students", rep.StudentCount),
			logger.Float64("index", rep.EngagementIndex),
			logger.Int("alerts", rep.AlertCount),
			logger.Any("distribution", rep.Distribution))
	}
	return nil
}

// reportAbility logs mean fused mastery for the weaker and stronger halves of
// the roster.
func reportAbility(ctx context.Context, log logger.Logger, roster []Student, observed map[string]map[string]ConceptMastery) {
	sorted := append([]Student(nil), roster...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ability < sorted[j].Ability })
	half := len(sorted) / 2
	log.Info(ctx, "mastery by ability",
		logger.Float64("weakerHalf", meanFused(sorted[:half], observed)),
		logger.Float64("strongerHalf", meanFused(sorted[half:], observed)))
}

func meanFused(students []Student, observed map[string]map[string]ConceptMastery) float64 {
	var sum float64
	n := 0
	for _, s := range students {
		for _, c := range observed[s.ID] {
			sum += c.State.FusedScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Mismatches lists the student/concept pairs whose observed event count
// differs from expected.
func Mismatches(expected map[string]map[string]int, observed map[string]map[string]ConceptMastery) []string {
	var out []string
	for student, concepts := range expected {
		for concept, want := range concepts {
			if observed[student][concept].State.EventCount != want {
				out = append(out, student+"/"+concept)
			}
		}
	}
	sort.Strings(out)
	return out
}

func saveAnswers(filename string, answers []Answer) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermission)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(answers); err != nil {
		return fmt.Errorf("failed to write answers: %w", err)
	}
	return nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var answersPerSecond float64
	if stats.Duration > 0 {
		answersPerSecond = float64(stats.AnswersSubmitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("answersGenerated", stats.AnswersGenerated),
		logger.Int("answersSubmitted", stats.AnswersSubmitted),
		logger.Int("answersAccepted", stats.AnswersAccepted),
		logger.Int("answersDuplicate", stats.AnswersDuplicate),
		logger.Int("answersFailed", stats.AnswersFailed),
		logger.Int("signalsSubmitted", stats.SignalsSubmitted),
		logger.Int("studentsVerified", stats.StudentsVerified),
		logger.Int("countMismatches", stats.CountMismatches),
		logger.Int("sessionsPlanned", stats.SessionsPlanned),
		logger.Int("sessionsNoContent", stats.SessionsNoContent),
		logger.Duration("duration", stats.Duration),
		logger.Float64("answersPerSecond", answersPerSecond))
}
