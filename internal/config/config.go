// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat snake_case and map one to one onto AMEP_ environment variables.
// - New returns a Config holding every default; Load layers file and env on top.
// - Invalid values are reported wrapped in ErrInvalidConfig.
package config

import (
	"runtime"
	"time"

	"github.com/okian/amep/internal/domain/engagement"
	"github.com/okian/amep/internal/domain/mastery"
	"github.com/okian/amep/internal/domain/planner"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// OperationTimeoutMS bounds each synchronous update, lock wait included.
	OperationTimeoutMS int `koanf:"operation_timeout_ms"`

	// Async event intake.
	EventQueueSize int `koanf:"queue_size"`
	WorkerCount    int `koanf:"worker_count"`
	DedupeSize     int `koanf:"dedupe_size"`

	// ShardCount configures the number of shards per state table.
	ShardCount int `koanf:"shard_count"`

	// Notifications.
	NotificationQueueSize int `koanf:"notification_queue_size"`
	SubscriberBuffer      int `koanf:"subscriber_buffer"`

	// Persistence.
	JournalPath        string `koanf:"journal_path"`
	JournalInMemory    bool   `koanf:"journal_in_memory"`
	JournalBufferSize  int    `koanf:"journal_buffer_size"`
	SnapshotIntervalMS int    `koanf:"snapshot_interval_ms"`

	// DecaySweepIntervalMS is how often idle engagement states are decayed.
	DecaySweepIntervalMS int `koanf:"decay_sweep_interval_ms"`

	// CatalogPath points at a YAML content catalog; empty uses the built-in one.
	CatalogPath string `koanf:"catalog_path"`

	// RateLimitRPS and RateLimitBurst bound inbound writes. Zero disables it.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// Estimator selects the mastery estimator: hybrid or fixture.
	Estimator string `koanf:"estimator"`

	// Mastery estimator.
	MasteryPrior       float64 `koanf:"mastery_prior"`
	MasteryLearn       float64 `koanf:"mastery_learn"`
	MasterySlip        float64 `koanf:"mastery_slip"`
	MasteryGuess       float64 `koanf:"mastery_guess"`
	MasteryLambda      float64 `koanf:"mastery_lambda"`
	MasteryHintPenalty float64 `koanf:"mastery_hint_penalty"`
	MasteryAddRate     float64 `koanf:"mastery_add_rate"`
	MasteryEraseRate   float64 `koanf:"mastery_erase_rate"`
	WeightBKT          float64 `koanf:"weight_bkt"`
	WeightDKT          float64 `koanf:"weight_dkt"`
	WeightDKVMN        float64 `koanf:"weight_dkvmn"`
	ConfidenceCeiling  float64 `koanf:"confidence_ceiling"`
	HistoryWindow      int     `koanf:"history_window"`
	VelocityWindow     int     `koanf:"velocity_window"`
	MasteryThreshold   float64 `koanf:"mastery_threshold"`
	DecayThreshold     float64 `koanf:"decay_threshold"`
	AdvanceThreshold   float64 `koanf:"advance_threshold"`
	ReviewThreshold    float64 `koanf:"review_threshold"`

	// Engagement estimator.
	BandEngaged         float64 `koanf:"band_engaged"`
	BandPassive         float64 `koanf:"band_passive"`
	BandMonitor         float64 `koanf:"band_monitor"`
	BandAtRisk          float64 `koanf:"band_at_risk"`
	EngagementTimeoutMS int     `koanf:"engagement_timeout_ms"`
	EngagementDecayRate float64 `koanf:"engagement_decay_rate"`
	EngagementBaseline  float64 `koanf:"engagement_baseline"`
	ExplicitFreshnessMS int     `koanf:"explicit_freshness_ms"`
	ImplicitWeight      float64 `koanf:"implicit_weight"`
	StaleImplicitWeight float64 `koanf:"stale_implicit_weight"`
	EngagementSmoothing float64 `koanf:"engagement_smoothing"`
	EngagementWindow    int     `koanf:"engagement_window"`

	// Session planner.
	ZPDOffset float64 `koanf:"zpd_offset"`
	ZPDWindow float64 `koanf:"zpd_window"`
	LoadLow   float64 `koanf:"load_low"`
	LoadHigh  float64 `koanf:"load_high"`
	MaxRelax  int     `koanf:"max_relax"`
}

// New creates a Config holding the defaults.
func New() *Config {
	mp := mastery.DefaultParams()
	ep := engagement.DefaultParams()
	pp := planner.DefaultParams()
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		OperationTimeoutMS:    200,
		EventQueueSize:        100_000,
		WorkerCount:           runtime.NumCPU() * 2,
		DedupeSize:            500_000,
		ShardCount:            32,
		NotificationQueueSize: 10_000,
		SubscriberBuffer:      64,
		JournalPath:           "data/journal",
		JournalBufferSize:     4096,
		SnapshotIntervalMS:    60_000,
		DecaySweepIntervalMS:  30_000,
		RateLimitRPS:          500,
		RateLimitBurst:        1000,
		Estimator:             mastery.NameHybrid,

		MasteryPrior:       mp.Prior,
		MasteryLearn:       mp.Learn,
		MasterySlip:        mp.Slip,
		MasteryGuess:       mp.Guess,
		MasteryLambda:      mp.Lambda,
		MasteryHintPenalty: mp.HintPenalty,
		MasteryAddRate:     mp.AddRate,
		MasteryEraseRate:   mp.EraseRate,
		WeightBKT:          mp.Weights[0],
		WeightDKT:          mp.Weights[1],
		WeightDKVMN:        mp.Weights[2],
		ConfidenceCeiling:  mp.ConfidenceCeiling,
		HistoryWindow:      mp.HistoryWindow,
		VelocityWindow:     mp.VelocityWindow,
		MasteryThreshold:   mp.MasteryThreshold,
		DecayThreshold:     mp.DecayThreshold,
		AdvanceThreshold:   mp.AdvanceThreshold,
		ReviewThreshold:    mp.ReviewThreshold,

		BandEngaged:         ep.Bands.Engaged,
		BandPassive:         ep.Bands.Passive,
		BandMonitor:         ep.Bands.Monitor,
		BandAtRisk:          ep.Bands.AtRisk,
		EngagementTimeoutMS: int(ep.Timeout / time.Millisecond),
		EngagementDecayRate: ep.DecayRate,
		EngagementBaseline:  ep.Baseline,
		ExplicitFreshnessMS: int(ep.ExplicitFreshness / time.Millisecond),
		ImplicitWeight:      ep.ImplicitWeight,
		StaleImplicitWeight: ep.StaleImplicitWeight,
		EngagementSmoothing: ep.Smoothing,
		EngagementWindow:    ep.WindowSize,

		ZPDOffset: pp.ZPDOffset,
		ZPDWindow: pp.ZPDWindow,
		LoadLow:   pp.LoadLow,
		LoadHigh:  pp.LoadHigh,
		MaxRelax:  pp.MaxRelax,
	}
}

// MasteryParams returns the mastery estimator parameters.
func (c *Config) MasteryParams() mastery.Params {
	p := mastery.DefaultParams()
	p.Prior = c.MasteryPrior
	p.Learn = c.MasteryLearn
	p.Slip = c.MasterySlip
	p.Guess = c.MasteryGuess
	p.Lambda = c.MasteryLambda
	p.HintPenalty = c.MasteryHintPenalty
	p.AddRate = c.MasteryAddRate
	p.EraseRate = c.MasteryEraseRate
	p.Weights = [3]float64{c.WeightBKT, c.WeightDKT, c.WeightDKVMN}
	p.ConfidenceCeiling = c.ConfidenceCeiling
	p.HistoryWindow = c.HistoryWindow
	p.VelocityWindow = c.VelocityWindow
	p.MasteryThreshold = c.MasteryThreshold
	p.DecayThreshold = c.DecayThreshold
	p.AdvanceThreshold = c.AdvanceThreshold
	p.ReviewThreshold = c.ReviewThreshold
	return p
}

// EngagementParams returns the engagement estimator parameters.
func (c *Config) EngagementParams() engagement.Params {
	p := engagement.DefaultParams()
	p.Bands = engagement.Bands{
		Engaged: c.BandEngaged,
		Passive: c.BandPassive,
		Monitor: c.BandMonitor,
		AtRisk:  c.BandAtRisk,
	}
	p.Timeout = ms(c.EngagementTimeoutMS)
	p.DecayRate = c.EngagementDecayRate
	p.Baseline = c.EngagementBaseline
	p.ExplicitFreshness = ms(c.ExplicitFreshnessMS)
	p.ImplicitWeight = c.ImplicitWeight
	p.StaleImplicitWeight = c.StaleImplicitWeight
	p.Smoothing = c.EngagementSmoothing
	p.WindowSize = c.EngagementWindow
	return p
}

// PlannerParams returns the session planner parameters.
func (c *Config) PlannerParams() planner.Params {
	p := planner.DefaultParams()
	p.ZPDOffset = c.ZPDOffset
	p.ZPDWindow = c.ZPDWindow
	p.LoadLow = c.LoadLow
	p.LoadHigh = c.LoadHigh
	p.MaxRelax = c.MaxRelax
	return p
}

// OperationTimeout is OperationTimeoutMS as a duration.
func (c *Config) OperationTimeout() time.Duration { return ms(c.OperationTimeoutMS) }

// SnapshotInterval is SnapshotIntervalMS as a duration.
func (c *Config) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMS) }

// DecaySweepInterval is DecaySweepIntervalMS as a duration.
func (c *Config) DecaySweepInterval() time.Duration { return ms(c.DecaySweepIntervalMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
