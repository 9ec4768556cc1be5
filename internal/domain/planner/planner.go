// Package planner builds practice sessions aimed at a student's zone of
// proximal development under a time budget and a cognitive-load band.
package planner

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Load status labels.
const (
	StatusOptimal   = "OPTIMAL - Student in ZPD"
	StatusOverload  = "OVERLOAD - Reduce difficulty or session length"
	StatusUnderload = "UNDERLOAD - Add more challenging items"
)

// Catalog lists practice items for a subject area.
type Catalog interface {
	Items(subjectArea string) []model.ContentItem
}

// Params tune item selection.
type Params struct {
	ZPDOffset      float64
	ZPDWindow      float64
	LoadLow        float64
	LoadHigh       float64
	MaxRelax       int
	DefaultMastery float64
	LoadBase       float64
	LoadSlope      float64
	TooHardGap     float64
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		ZPDOffset:      0.1,
		ZPDWindow:      0.15,
		LoadLow:        0.4,
		LoadHigh:       0.8,
		MaxRelax:       2,
		DefaultMastery: 0.5,
		LoadBase:       0.4,
		LoadSlope:      1.5,
		TooHardGap:     0.25,
	}
}

// Validate checks the load band and window.
func (p Params) Validate() error {
	if p.LoadLow < 0 || p.LoadHigh > 1 || p.LoadLow > p.LoadHigh {
		return fmt.Errorf("%w: load band must satisfy 0 <= low <= high <= 1", ErrInvalidParams)
	}
	if p.ZPDWindow <= 0 || p.MaxRelax < 0 {
		return fmt.Errorf("%w: zpd window must be positive and max relax non-negative", ErrInvalidParams)
	}
	if p.DefaultMastery < 0 || p.DefaultMastery > 1 {
		return fmt.Errorf("%w: default mastery must be in [0,1]", ErrInvalidParams)
	}
	return nil
}

// Planner plans practice sessions. It is safe for concurrent use.
type Planner struct {
	catalog Catalog
	p       Params
	now     func() time.Time
	newID   func() string
	logger  logger.Logger
	group   singleflight.Group
}

// Option configures a Planner.
type Option func(*Planner)

// WithParams overrides the default parameters.
func WithParams(p Params) Option {
	return func(pl *Planner) { pl.p = p }
}

// WithClock overrides the session timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(pl *Planner) {
		if now != nil {
			pl.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(pl *Planner) {
		if gen != nil {
			pl.newID = gen
		}
	}
}

// WithLogger sets the planner logger.
func WithLogger(l logger.Logger) Option {
	return func(pl *Planner) {
		if l != nil {
			pl.logger = l
		}
	}
}

// New creates a Planner over catalog.
func New(catalog Catalog, opts ...Option) (*Planner, error) {
	pl := &Planner{
		catalog: catalog,
		p:       DefaultParams(),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger.Named("planner"),
	}
	for _, opt := range opts {
		opt(pl)
	}
	if err := pl.p.Validate(); err != nil {
		return nil, err
	}
	return pl, nil
}

type planResult struct {
	session model.PracticeSession
	err     error
}

// Plan builds a session for req. mastery maps concept ids to the student's
// fused scores on 0-100. Identical concurrent requests share one result; a
// caller whose ctx ends stops waiting without affecting the others.
func (pl *Planner) Plan(ctx context.Context, req model.PlanRequest, mastery map[string]float64) (model.PracticeSession, error) {
	start := time.Now()
	ch := pl.group.DoChan(requestKey(req, mastery), func() (any, error) {
		s, err := pl.Build(req, mastery)
		return planResult{session: s, err: err}, nil
	})

	select {
	case <-ctx.Done():
		return model.PracticeSession{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			metrics.RecordPlanCoalesced()
		}
		res, _ := r.Val.(planResult)
		if res.err != nil {
			metrics.RecordInsufficientContent()
			pl.logger.Warn(ctx, "no session planned",
				logger.String("student_id", req.StudentID),
				logger.String("subject_area", req.SubjectArea),
				logger.Error(res.err))
			return res.session, res.err
		}
		metrics.RecordPlan(float64(time.Since(start).Microseconds()) / 1000)
		return res.session, nil
	}
}

type candidate struct {
	item    model.ContentItem
	mastery float64
	gap     float64 // distance to target
	load    float64 // intrinsic load per minute share
}

// Build plans a session without coalescing. It is deterministic apart from
// the session id and timestamp.
func (pl *Planner) Build(req model.PlanRequest, mastery map[string]float64) (model.PracticeSession, error) {
	session := model.PracticeSession{
		SessionID:    pl.newID(),
		StudentID:    req.StudentID,
		SubjectArea:  req.SubjectArea,
		ContentItems: []model.ContentItem{},
		CreatedAt:    pl.now(),
	}

	items := pl.catalog.Items(req.SubjectArea)
	if len(items) == 0 || req.DurationMinutes <= 0 {
		return session, fmt.Errorf("%w: subject %q has no items", ErrInsufficientContent, req.SubjectArea)
	}

	fallback := pl.p.DefaultMastery
	if len(mastery) > 0 {
		var sum float64
		for _, v := range mastery {
			sum += v
		}
		fallback = sum / float64(len(mastery)) / 100
	}

	cands := make([]candidate, 0, len(items))
	for _, it := range items {
		m := fallback
		if v, ok := mastery[it.ConceptID]; ok {
			m = v / 100
		}
		intrinsic := clamp(pl.p.LoadBase+pl.p.LoadSlope*(it.Difficulty-m), 0.05, 1)
		cands = append(cands, candidate{
			item:    it,
			mastery: m,
			gap:     math.Abs(it.Difficulty - (m + pl.p.ZPDOffset)),
			load:    intrinsic * it.EstimatedTime / req.DurationMinutes,
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].gap != cands[j].gap {
			return cands[i].gap < cands[j].gap
		}
		return cands[i].item.ItemID < cands[j].item.ItemID
	})

	var (
		chosen   []candidate
		used     = make(map[string]bool, len(cands))
		elapsed  float64
		load     float64
		overload bool
	)
	window := pl.p.ZPDWindow
	for step := 0; step <= pl.p.MaxRelax && !overload; step++ {
		if step == pl.p.MaxRelax && step > 0 {
			window = math.Inf(1)
		}
		for _, c := range cands {
			if used[c.item.ItemID] || c.gap > window {
				continue
			}
			if elapsed+c.item.EstimatedTime > req.DurationMinutes {
				continue
			}
			if load+c.load > pl.p.LoadHigh {
				overload = true
				break
			}
			used[c.item.ItemID] = true
			chosen = append(chosen, c)
			elapsed += c.item.EstimatedTime
			load += c.load
		}
		if load >= pl.p.LoadLow {
			break
		}
		window *= 2
	}

	if len(chosen) == 0 {
		return session, fmt.Errorf("%w: no item of %q fits %.0f minutes", ErrInsufficientContent, req.SubjectArea, req.DurationMinutes)
	}

	sort.Slice(chosen, func(i, j int) bool {
		if chosen[i].item.Difficulty != chosen[j].item.Difficulty {
			return chosen[i].item.Difficulty < chosen[j].item.Difficulty
		}
		return chosen[i].item.ItemID < chosen[j].item.ItemID
	})
	var meanGap float64
	for _, c := range chosen {
		session.ContentItems = append(session.ContentItems, c.item)
		meanGap += c.item.Difficulty - c.mastery
	}
	meanGap /= float64(len(chosen))

	session.TotalItems = len(chosen)
	session.EstimatedDuration = elapsed
	session.CognitiveLoad = math.Round(load*1000) / 1000
	session.LoadStatus = pl.status(load)
	session.ZPDAlignment = pl.alignment(meanGap)
	return session, nil
}

func (pl *Planner) status(load float64) string {
	switch {
	case load > pl.p.LoadHigh:
		return StatusOverload
	case load < pl.p.LoadLow:
		return StatusUnderload
	default:
		return StatusOptimal
	}
}

func (pl *Planner) alignment(meanGap float64) string {
	switch {
	case meanGap < 0:
		return model.ZPDTooEasy
	case meanGap > pl.p.TooHardGap:
		return model.ZPDTooHard
	default:
		return model.ZPDOptimal
	}
}

// requestKey identifies identical plan inputs, including the mastery view.
func requestKey(req model.PlanRequest, mastery map[string]float64) string {
	keys := make([]string, 0, len(mastery))
	for k := range mastery {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte(strconv.FormatFloat(mastery[k], 'g', -1, 64)))
	}
	return req.StudentID + "|" + req.SubjectArea + "|" +
		strconv.FormatFloat(req.DurationMinutes, 'g', -1, 64) + "|" +
		strconv.FormatUint(h.Sum64(), 16)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
