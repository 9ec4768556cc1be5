// Package journal persists state transitions write-behind into badger and
// restores the session store from the latest snapshot plus the transitions
// recorded after it.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// Entry kinds.
const (
	KindMastery           = "mastery"
	KindEngagement        = "engagement"
	KindEngagementRemoved = "engagement_removed"
	KindIntervention      = "intervention"
)

var (
	transitionPrefix = []byte("t/")
	snapshotKey      = []byte("snap/latest")
)

// Entry is one recorded transition. Data holds the full committed state, so
// replaying an entry overwrites rather than merges.
type Entry struct {
	Seq  uint64          `json:"seq"`
	Kind string          `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type snapshotRecord struct {
	Watermark uint64          `json:"watermark"`
	Dump      repository.Dump `json:"dump"`
}

// Journal is a buffered write-behind log. Appends never block; when the
// buffer is full the entry is dropped and counted, and the next snapshot
// covers it.
type Journal struct {
	db  *badger.DB
	buf chan Entry
	seq atomic.Uint64

	path          string
	inMemory      bool
	syncWrites    bool
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	gcInterval    time.Duration
	logger        logger.Logger

	closed   atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var _ repository.Observer = (*Journal)(nil)

// Open opens the journal and starts its writer. A failure to open the
// database is returned wrapped in ErrUnavailable.
func Open(opts ...Option) (*Journal, error) {
	j := &Journal{
		bufferSize:    4096,
		batchSize:     256,
		flushInterval: 100 * time.Millisecond,
		logger:        logger.Named("journal"),
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	db, err := j.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	j.db = db
	j.buf = make(chan Entry, j.bufferSize)

	last, err := j.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	j.seq.Store(last)

	j.wg.Add(1)
	go j.writer()
	if j.gcInterval > 0 && !j.inMemory {
		j.wg.Add(1)
		go j.gcLoop()
	}

	j.logger.Info(context.Background(), "journal opened",
		logger.String("path", j.path),
		logger.Bool("in_memory", j.inMemory),
		logger.Int64("last_seq", int64(last)))
	return j, nil
}

// Seq is the sequence number of the most recent append.
func (j *Journal) Seq() uint64 { return j.seq.Load() }

// Append queues a transition without blocking.
func (j *Journal) Append(kind string, v any) error {
	if j.closed.Load() {
		return ErrUnavailable
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", kind, err)
	}
	e := Entry{Seq: j.seq.Add(1), Kind: kind, At: time.Now(), Data: data}
	select {
	case j.buf <- e:
		return nil
	default:
		metrics.RecordJournalDropped()
		return ErrBufferFull
	}
}

// MasteryCommitted journals a committed mastery state.
func (j *Journal) MasteryCommitted(st *model.MasteryState) {
	j.observe(KindMastery, st)
}

// EngagementCommitted journals a committed engagement state.
func (j *Journal) EngagementCommitted(st *model.EngagementState) {
	j.observe(KindEngagement, st)
}

// EngagementRemoved journals the removal of a student's engagement state.
func (j *Journal) EngagementRemoved(studentID string) {
	j.observe(KindEngagementRemoved, studentID)
}

// AppendIntervention journals an intervention record.
func (j *Journal) AppendIntervention(rec model.InterventionRecord) error {
	return j.Append(KindIntervention, rec)
}

func (j *Journal) observe(kind string, v any) {
	if err := j.Append(kind, v); err != nil && !errors.Is(err, ErrBufferFull) {
		j.logger.Debug(context.Background(), "transition not journaled",
			logger.String("kind", kind), logger.Error(err))
	}
}

func (j *Journal) writer() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, j.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.write(batch); err != nil {
			metrics.RecordJournalError()
			j.logger.Error(context.Background(), "journal write failed",
				logger.Int("entries", len(batch)), logger.Error(err))
		} else {
			metrics.RecordJournalWrites(len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.buf:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stopChan:
			for {
				select {
				case e := <-j.buf:
					batch = append(batch, e)
					if len(batch) >= j.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (j *Journal) write(batch []Entry) error {
	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range batch {
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := wb.Set(transitionKey(e.Seq), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (j *Journal) gcLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.runGC()
		}
	}
}

// Checkpoint stores d as the latest snapshot and deletes transitions at or
// below watermark. The watermark must be read with Seq before d is exported.
func (j *Journal) Checkpoint(ctx context.Context, watermark uint64, d repository.Dump) error {
	if j.closed.Load() {
		return ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(snapshotRecord{Watermark: watermark, Dump: d})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, val)
	}); err != nil {
		metrics.RecordJournalError()
		return fmt.Errorf("write snapshot: %w", err)
	}

	var stale [][]byte
	err = j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = transitionPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if seqOf(k) > watermark {
				break
			}
			stale = append(stale, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan transitions: %w", err)
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("compact transitions: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("compact transitions: %w", err)
	}
	j.logger.Debug(ctx, "checkpoint written",
		logger.Int64("watermark", int64(watermark)),
		logger.Int("compacted", len(stale)))
	return nil
}

// Restore rebuilds a store dump from the latest snapshot and the transitions
// recorded after its watermark.
func (j *Journal) Restore(ctx context.Context) (repository.Dump, error) {
	var (
		snap    snapshotRecord
		entries []Entry
	)
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return fmt.Errorf("%w: snapshot: %w", ErrCorrupted, err)
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = transitionPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(transitionKey(snap.Watermark + 1)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrCorrupted, it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return repository.Dump{}, err
	}

	d, err := replay(snap.Dump, entries)
	if err != nil {
		return repository.Dump{}, err
	}
	j.logger.Info(ctx, "journal restored",
		logger.Int64("watermark", int64(snap.Watermark)),
		logger.Int("replayed", len(entries)),
		logger.Int("mastery_states", len(d.Mastery)),
		logger.Int("engagement_states", len(d.Engagement)))
	return d, nil
}

func replay(base repository.Dump, entries []Entry) (repository.Dump, error) {
	mastery := make(map[string]*model.MasteryState, len(base.Mastery))
	for _, st := range base.Mastery {
		mastery[st.Key().String()] = st
	}
	engagement := make(map[string]*model.EngagementState, len(base.Engagement))
	for _, st := range base.Engagement {
		engagement[st.StudentID] = st
	}
	interventions := append([]model.InterventionRecord(nil), base.Interventions...)
	known := make(map[string]struct{}, len(interventions))
	for _, rec := range interventions {
		known[rec.InterventionID] = struct{}{}
	}

	for _, e := range entries {
		switch e.Kind {
		case KindMastery:
			var st model.MasteryState
			if err := json.Unmarshal(e.Data, &st); err != nil {
				return repository.Dump{}, fmt.Errorf("%w: seq %d: %w", ErrCorrupted, e.Seq, err)
			}
			mastery[st.Key().String()] = &st
		case KindEngagement:
			var st model.EngagementState
			if err := json.Unmarshal(e.Data, &st); err != nil {
				return repository.Dump{}, fmt.Errorf("%w: seq %d: %w", ErrCorrupted, e.Seq, err)
			}
			engagement[st.StudentID] = &st
		case KindEngagementRemoved:
			var id string
			if err := json.Unmarshal(e.Data, &id); err != nil {
				return repository.Dump{}, fmt.Errorf("%w: seq %d: %w", ErrCorrupted, e.Seq, err)
			}
			delete(engagement, id)
		case KindIntervention:
			var rec model.InterventionRecord
			if err := json.Unmarshal(e.Data, &rec); err != nil {
				return repository.Dump{}, fmt.Errorf("%w: seq %d: %w", ErrCorrupted, e.Seq, err)
			}
			if _, ok := known[rec.InterventionID]; !ok {
				known[rec.InterventionID] = struct{}{}
				interventions = append(interventions, rec)
			}
		}
	}

	d := repository.Dump{Interventions: interventions, TakenAt: base.TakenAt}
	for _, st := range mastery {
		d.Mastery = append(d.Mastery, st)
	}
	for _, st := range engagement {
		d.Engagement = append(d.Engagement, st)
	}
	sort.Slice(d.Mastery, func(a, b int) bool { return d.Mastery[a].Key().String() < d.Mastery[b].Key().String() })
	sort.Slice(d.Engagement, func(a, b int) bool { return d.Engagement[a].StudentID < d.Engagement[b].StudentID })
	return d, nil
}

// Flush waits until every entry queued before the call has been written or
// ctx ends.
func (j *Journal) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for len(j.buf) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	// The writer may hold a dequeued batch; one flush interval covers it.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * j.flushInterval):
		return nil
	}
}

// Close drains the buffer and closes the database.
func (j *Journal) Close() error {
	var err error
	j.stopOnce.Do(func() {
		j.closed.Store(true)
		close(j.stopChan)
		j.wg.Wait()
		err = j.db.Close()
		j.logger.Info(context.Background(), "journal closed", logger.Int64("last_seq", int64(j.seq.Load())))
	})
	return err
}

func (j *Journal) lastSeq() (uint64, error) {
	var last uint64
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var snap snapshotRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &snap) }); err == nil {
				last = snap.Watermark
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = transitionPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(transitionKey(^uint64(0)))
		if it.Valid() {
			if s := seqOf(it.Item().Key()); s > last {
				last = s
			}
		}
		return nil
	})
	return last, err
}

func transitionKey(seq uint64) []byte {
	k := make([]byte, len(transitionPrefix)+8)
	copy(k, transitionPrefix)
	binary.BigEndian.PutUint64(k[len(transitionPrefix):], seq)
	return k
}

func seqOf(key []byte) uint64 {
	if len(key) != len(transitionPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(transitionPrefix):])
}
