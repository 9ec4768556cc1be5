// Package repository holds the live mastery, engagement and intervention
// state of the engine.
package repository

import (
	"context"
	"time"

	"github.com/okian/amep/internal/domain/model"
)

// MasteryUpdateFunc computes the next state from the committed one. prev is
// nil for a new or recreated key. It runs under the key's lock and must not
// block on I/O.
type MasteryUpdateFunc func(prev *model.MasteryState) (*model.MasteryState, error)

// EngagementUpdateFunc is the engagement counterpart of MasteryUpdateFunc.
type EngagementUpdateFunc func(prev *model.EngagementState) (*model.EngagementState, error)

// MasteryUpdate is the outcome of a committed mastery update.
type MasteryUpdate struct {
	State    *model.MasteryState
	Previous *model.MasteryState
	// Recreated is set when the previous state had been archived.
	Recreated bool
}

// EngagementUpdate is the outcome of a committed engagement update.
type EngagementUpdate struct {
	State    *model.EngagementState
	Previous *model.EngagementState
}

// Dump is a point-in-time copy of the whole store used for persistence.
type Dump struct {
	Mastery       []*model.MasteryState      `json:"mastery"`
	Engagement    []*model.EngagementState   `json:"engagement"`
	Interventions []model.InterventionRecord `json:"interventions"`
	TakenAt       time.Time                  `json:"taken_at"`
}

// Snapshot is a periodically published summary of the store.
type Snapshot struct {
	MasteryStates    int       `json:"mastery_states"`
	ArchivedStates   int       `json:"archived_states"`
	EngagementStates int       `json:"engagement_states"`
	Students         int       `json:"students"`
	Classes          int       `json:"classes"`
	Interventions    int       `json:"interventions"`
	PublishedAt      time.Time `json:"published_at"`
}

// Observer is notified of every commit while the key's lock is still held,
// so notifications for one key arrive in commit order. It must not block.
type Observer interface {
	MasteryCommitted(st *model.MasteryState)
	EngagementCommitted(st *model.EngagementState)
	EngagementRemoved(studentID string)
}

// Store provides serialized per-key writes and non-blocking reads.
//
// Committed states are immutable. Callers must not modify returned pointers.
type Store interface {
	// UpdateMastery applies fn under the key's lock. When the lock cannot be
	// taken before ctx ends it returns ErrConcurrencyTimeout together with the
	// last committed state in MasteryUpdate.State.
	UpdateMastery(ctx context.Context, key model.Key, fn MasteryUpdateFunc) (MasteryUpdate, error)
	// Mastery returns the committed state for key or ErrNotFound.
	Mastery(ctx context.Context, key model.Key) (*model.MasteryState, error)
	// StudentMastery returns all of a student's states, archived included.
	StudentMastery(ctx context.Context, studentID string) []*model.MasteryState

	UpdateEngagement(ctx context.Context, studentID string, fn EngagementUpdateFunc) (EngagementUpdate, error)
	Engagement(ctx context.Context, studentID string) (*model.EngagementState, error)
	ClassEngagement(ctx context.Context, classID string) []*model.EngagementState
	EngagementStates(ctx context.Context) []*model.EngagementState

	// Archive marks a student's mastery states archived and drops their
	// engagement state. It returns the number of states touched.
	Archive(ctx context.Context, studentID string) (int, error)

	AppendIntervention(ctx context.Context, rec model.InterventionRecord) error
	Intervention(ctx context.Context, id string) (model.InterventionRecord, error)

	Export(ctx context.Context) Dump
	Seed(ctx context.Context, d Dump)
	Snapshot() Snapshot
	Close() error
}
