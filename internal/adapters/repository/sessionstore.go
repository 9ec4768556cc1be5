package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// entry holds one key's committed state. sem is a one-slot semaphore so the
// lock can be awaited with a context deadline.
type entry[S any] struct {
	sem   chan struct{}
	state atomic.Pointer[S]
}

func newEntry[S any]() *entry[S] {
	return &entry[S]{sem: make(chan struct{}, 1)}
}

func (e *entry[S]) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry[S]) unlock() { <-e.sem }

type shard[S any] struct {
	mu sync.RWMutex
	m  map[string]*entry[S]
}

// table is a sharded map from string keys to entries.
type table[S any] struct {
	shards []*shard[S]
}

func newTable[S any](n int) *table[S] {
	t := &table[S]{shards: make([]*shard[S], n)}
	for i := range t.shards {
		t.shards[i] = &shard[S]{m: make(map[string]*entry[S])}
	}
	return t
}

func (t *table[S]) shardFor(key string) *shard[S] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

func (t *table[S]) get(key string) (*entry[S], bool) {
	sh := t.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.m[key]
	return e, ok
}

func (t *table[S]) getOrCreate(key string) *entry[S] {
	if e, ok := t.get(key); ok {
		return e
	}
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.m[key]; ok {
		return e
	}
	e := newEntry[S]()
	sh.m[key] = e
	return e
}

// collect returns committed state pointers, holding each shard's read lock
// only while copying pointers.
func (t *table[S]) collect(keep func(*S) bool) []*S {
	var out []*S
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, e := range sh.m {
			if st := e.state.Load(); st != nil && (keep == nil || keep(st)) {
				out = append(out, st)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// apply runs fn under e's lock and publishes its result. committed runs
// before the lock is released.
func apply[S any](ctx context.Context, e *entry[S], fn func(prev *S) (*S, error), committed func(*S)) (prev, next *S, err error) {
	if err := e.lock(ctx); err != nil {
		metrics.RecordLockTimeout()
		return e.state.Load(), nil, fmt.Errorf("%w: %w", ErrConcurrencyTimeout, err)
	}
	defer e.unlock()

	prev = e.state.Load()
	next, err = fn(prev)
	if err != nil {
		return prev, nil, err
	}
	if next != nil {
		e.state.Store(next)
		if committed != nil {
			committed(next)
		}
	}
	return prev, next, nil
}

// SessionStore is the in-memory Store.
type SessionStore struct {
	mastery    *table[model.MasteryState]
	engagement *table[model.EngagementState]

	// students indexes mastery keys per student for archive and listing.
	studentsMu sync.RWMutex
	students   map[string]map[string]model.Key

	interventionsMu sync.RWMutex
	interventions   []model.InterventionRecord
	interventionIdx map[string]int

	shardCount       int
	snapshotInterval time.Duration
	snapshot         atomic.Pointer[Snapshot]
	logger           logger.Logger
	observers        []Observer

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

var _ Store = (*SessionStore)(nil)

// NewSessionStore constructs a store and starts its snapshot publisher,
// which runs until ctx ends or Close is called.
func NewSessionStore(ctx context.Context, opts ...Option) *SessionStore {
	s := &SessionStore{
		students:         make(map[string]map[string]model.Key),
		interventionIdx:  make(map[string]int),
		shardCount:       32,
		snapshotInterval: time.Second,
		logger:           logger.Named("repository"),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mastery = newTable[model.MasteryState](s.shardCount)
	s.engagement = newTable[model.EngagementState](s.shardCount)

	s.publishSnapshot()
	s.startPeriodicSnapshots(ctx)
	return s
}

// UpdateMastery implements Store.
func (s *SessionStore) UpdateMastery(ctx context.Context, key model.Key, fn MasteryUpdateFunc) (MasteryUpdate, error) {
	e := s.mastery.getOrCreate(key.String())
	recreated := false
	prev, next, err := apply(ctx, e, func(prev *model.MasteryState) (*model.MasteryState, error) {
		if prev != nil && prev.Archived {
			recreated = true
			prev = nil
		}
		return fn(prev)
	}, s.masteryCommitted)
	if err != nil {
		return MasteryUpdate{State: prev}, err
	}
	if recreated {
		metrics.RecordStaleState()
		s.logger.Warn(ctx, "recreating archived state",
			logger.String("student_id", key.StudentID),
			logger.String("concept_id", key.ConceptID),
			logger.Error(ErrStaleState))
	}
	s.index(key)
	return MasteryUpdate{State: next, Previous: prev, Recreated: recreated}, nil
}

func (s *SessionStore) masteryCommitted(st *model.MasteryState) {
	for _, o := range s.observers {
		o.MasteryCommitted(st)
	}
}

func (s *SessionStore) engagementCommitted(st *model.EngagementState) {
	for _, o := range s.observers {
		o.EngagementCommitted(st)
	}
}

func (s *SessionStore) index(key model.Key) {
	s.studentsMu.RLock()
	_, ok := s.students[key.StudentID][key.ConceptID]
	s.studentsMu.RUnlock()
	if ok {
		return
	}
	s.studentsMu.Lock()
	defer s.studentsMu.Unlock()
	m, ok := s.students[key.StudentID]
	if !ok {
		m = make(map[string]model.Key)
		s.students[key.StudentID] = m
	}
	m[key.ConceptID] = key
}

func (s *SessionStore) studentKeys(studentID string) []model.Key {
	s.studentsMu.RLock()
	defer s.studentsMu.RUnlock()
	keys := make([]model.Key, 0, len(s.students[studentID]))
	for _, k := range s.students[studentID] {
		keys = append(keys, k)
	}
	return keys
}

// Mastery implements Store.
func (s *SessionStore) Mastery(_ context.Context, key model.Key) (*model.MasteryState, error) {
	if e, ok := s.mastery.get(key.String()); ok {
		if st := e.state.Load(); st != nil {
			return st, nil
		}
	}
	return nil, ErrNotFound
}

// StudentMastery implements Store.
func (s *SessionStore) StudentMastery(ctx context.Context, studentID string) []*model.MasteryState {
	keys := s.studentKeys(studentID)
	out := make([]*model.MasteryState, 0, len(keys))
	for _, k := range keys {
		if st, err := s.Mastery(ctx, k); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// UpdateEngagement implements Store.
func (s *SessionStore) UpdateEngagement(ctx context.Context, studentID string, fn EngagementUpdateFunc) (EngagementUpdate, error) {
	e := s.engagement.getOrCreate(studentID)
	prev, next, err := apply(ctx, e, fn, s.engagementCommitted)
	if err != nil {
		return EngagementUpdate{State: prev}, err
	}
	return EngagementUpdate{State: next, Previous: prev}, nil
}

// Engagement implements Store.
func (s *SessionStore) Engagement(_ context.Context, studentID string) (*model.EngagementState, error) {
	if e, ok := s.engagement.get(studentID); ok {
		if st := e.state.Load(); st != nil {
			return st, nil
		}
	}
	return nil, ErrNotFound
}

// ClassEngagement implements Store.
func (s *SessionStore) ClassEngagement(_ context.Context, classID string) []*model.EngagementState {
	return s.engagement.collect(func(st *model.EngagementState) bool { return st.ClassID == classID })
}

// EngagementStates implements Store.
func (s *SessionStore) EngagementStates(_ context.Context) []*model.EngagementState {
	return s.engagement.collect(nil)
}

// Archive implements Store.
func (s *SessionStore) Archive(ctx context.Context, studentID string) (int, error) {
	n := 0
	for _, k := range s.studentKeys(studentID) {
		e, ok := s.mastery.get(k.String())
		if !ok {
			continue
		}
		_, _, err := apply(ctx, e, func(prev *model.MasteryState) (*model.MasteryState, error) {
			if prev == nil || prev.Archived {
				return nil, nil
			}
			archived := prev.Clone()
			archived.Archived = true
			n++
			return archived, nil
		}, s.masteryCommitted)
		if err != nil {
			return n, err
		}
	}
	if e, ok := s.engagement.get(studentID); ok {
		if err := e.lock(ctx); err != nil {
			metrics.RecordLockTimeout()
			return n, fmt.Errorf("%w: %w", ErrConcurrencyTimeout, err)
		}
		// The entry is kept: updaters already waiting on its lock must commit
		// into the live table.
		if e.state.Swap(nil) != nil {
			n++
			for _, o := range s.observers {
				o.EngagementRemoved(studentID)
			}
		}
		e.unlock()
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// AppendIntervention implements Store.
func (s *SessionStore) AppendIntervention(_ context.Context, rec model.InterventionRecord) error {
	s.interventionsMu.Lock()
	defer s.interventionsMu.Unlock()
	if _, ok := s.interventionIdx[rec.InterventionID]; ok {
		return fmt.Errorf("intervention %s already recorded", rec.InterventionID)
	}
	s.interventionIdx[rec.InterventionID] = len(s.interventions)
	s.interventions = append(s.interventions, rec)
	return nil
}

// Intervention implements Store.
func (s *SessionStore) Intervention(_ context.Context, id string) (model.InterventionRecord, error) {
	s.interventionsMu.RLock()
	defer s.interventionsMu.RUnlock()
	i, ok := s.interventionIdx[id]
	if !ok {
		return model.InterventionRecord{}, ErrNotFound
	}
	return s.interventions[i], nil
}

// Export implements Store.
func (s *SessionStore) Export(_ context.Context) Dump {
	start := time.Now()
	d := Dump{
		Mastery:    s.mastery.collect(nil),
		Engagement: s.engagement.collect(nil),
		TakenAt:    start,
	}
	s.interventionsMu.RLock()
	d.Interventions = append([]model.InterventionRecord(nil), s.interventions...)
	s.interventionsMu.RUnlock()
	metrics.RecordSnapshotDuration(float64(time.Since(start).Microseconds()) / 1000)
	return d
}

// Seed loads d into an empty store. Existing keys are overwritten.
func (s *SessionStore) Seed(ctx context.Context, d Dump) {
	for _, st := range d.Mastery {
		if st == nil {
			continue
		}
		key := st.Key()
		s.mastery.getOrCreate(key.String()).state.Store(st)
		s.index(key)
	}
	for _, st := range d.Engagement {
		if st == nil {
			continue
		}
		s.engagement.getOrCreate(st.StudentID).state.Store(st)
	}
	for _, rec := range d.Interventions {
		_ = s.AppendIntervention(ctx, rec)
	}
	s.publishSnapshot()
	s.logger.Info(ctx, "store seeded",
		logger.Int("mastery_states", len(d.Mastery)),
		logger.Int("engagement_states", len(d.Engagement)),
		logger.Int("interventions", len(d.Interventions)))
}

// Snapshot returns the last published summary.
func (s *SessionStore) Snapshot() Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return Snapshot{}
}

// Close stops the snapshot publisher.
func (s *SessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *SessionStore) startPeriodicSnapshots(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.publishSnapshot()
			}
		}
	}()
}

func (s *SessionStore) publishSnapshot() {
	snap := &Snapshot{PublishedAt: time.Now()}
	for _, st := range s.mastery.collect(nil) {
		snap.MasteryStates++
		if st.Archived {
			snap.ArchivedStates++
		}
	}
	classes := map[string]struct{}{}
	for _, st := range s.engagement.collect(nil) {
		snap.EngagementStates++
		if st.ClassID != "" {
			classes[st.ClassID] = struct{}{}
		}
	}
	snap.Classes = len(classes)

	s.studentsMu.RLock()
	snap.Students = len(s.students)
	s.studentsMu.RUnlock()
	s.interventionsMu.RLock()
	snap.Interventions = len(s.interventions)
	s.interventionsMu.RUnlock()

	s.snapshot.Store(snap)
	metrics.UpdateTrackedStates("mastery", snap.MasteryStates)
	metrics.UpdateTrackedStates("engagement", snap.EngagementStates)
}
