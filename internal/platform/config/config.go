// Package config holds the externally supplied pipeline configuration.
// Values are fixed at initialization and immutable for the life of the
// process; nothing in the pipeline mutates them afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"veil/pkg/domain"
)

// Config is the full pipeline configuration surface.
type Config struct {
	// K is the k-anonymity threshold: a bucket releases only once its
	// estimated distinct-contributor count reaches K.
	K int

	// EpsilonCeiling is the lifetime differential-privacy budget.
	EpsilonCeiling float64
	// EpsilonFloor is the minimum epsilon a single allocation may request.
	// Remaining budget below the floor means the budget is exhausted.
	EpsilonFloor float64
	// CategoryEpsilon maps event sensitivity categories to their default
	// per-query epsilon.
	CategoryEpsilon map[domain.SensitivityCategory]float64

	// BucketTimeout discards a bucket that never reaches readiness.
	BucketTimeout time.Duration
	// SweepInterval is the cadence of the bucket expiry sweep.
	SweepInterval time.Duration
	// IncidentScanInterval is the cadence of the incident detector scan.
	IncidentScanInterval time.Duration

	// PayloadCeiling caps the serialized size of a released event, closing
	// the payload-size fingerprinting channel.
	PayloadCeiling int
	// LatencyCeiling bounds per-event processing time; breaching it aborts
	// the event rather than delaying the caller.
	LatencyCeiling time.Duration
	// QueueSize bounds the fire-and-forget submission queue.
	QueueSize int

	// DisableOnExhaustion disables the whole pipeline when the budget is
	// exhausted, instead of only refusing further allocations.
	DisableOnExhaustion bool

	// ExpiryRateThreshold is the number of bucket expirations between two
	// incident scans above which the detector treats expiry as an incident.
	ExpiryRateThreshold int
	// BudgetWarnRemaining is the remaining-epsilon level below which the
	// incident detector records a near-exhaustion observation.
	BudgetWarnRemaining float64
	// TransportFailureThreshold is the consecutive-failure count that trips
	// the transport circuit and triggers emergency shutdown.
	TransportFailureThreshold int

	// DataDir holds the encrypted local store (budget state, audit log).
	DataDir string
	// ListenAddr is the local admin/ingest HTTP address.
	ListenAddr string

	// KafkaBrokers, when non-empty, selects the Kafka transport
	// implementation; otherwise delivery goes to the in-process sink.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaTLS     bool
}

// Default returns the reviewed default configuration.
func Default() *Config {
	return &Config{
		K:              5,
		EpsilonCeiling: 1.0,
		EpsilonFloor:   0.01,
		CategoryEpsilon: map[domain.SensitivityCategory]float64{
			domain.SensitivityLow:    0.02,
			domain.SensitivityMedium: 0.05,
		},
		BucketTimeout:             24 * time.Hour,
		SweepInterval:             5 * time.Minute,
		IncidentScanInterval:      time.Minute,
		PayloadCeiling:            10 * 1024,
		LatencyCeiling:            250 * time.Millisecond,
		QueueSize:                 1024,
		DisableOnExhaustion:       false,
		ExpiryRateThreshold:       20,
		BudgetWarnRemaining:       0.05,
		TransportFailureThreshold: 5,
		DataDir:                   "data",
		ListenAddr:                "127.0.0.1:8931",
		KafkaTopic:                "veil.anonymized",
	}
}

// FromEnv builds a Config from defaults with VEIL_* environment overrides
// so main stays lean.
func FromEnv() *Config {
	cfg := Default()
	if v := os.Getenv("VEIL_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.K = n
		}
	}
	if v := os.Getenv("VEIL_EPSILON_CEILING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.EpsilonCeiling = f
		}
	}
	if v := os.Getenv("VEIL_EPSILON_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.EpsilonFloor = f
		}
	}
	if v := os.Getenv("VEIL_BUCKET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BucketTimeout = d
		}
	}
	if v := os.Getenv("VEIL_PAYLOAD_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PayloadCeiling = n
		}
	}
	if v := os.Getenv("VEIL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VEIL_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VEIL_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("VEIL_KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	cfg.KafkaTLS = os.Getenv("VEIL_KAFKA_TLS") == "true"
	cfg.DisableOnExhaustion = os.Getenv("VEIL_DISABLE_ON_EXHAUSTION") == "true"
	return cfg
}

// Validate rejects configurations that would void a privacy guarantee.
func (c *Config) Validate() error {
	if c.K < 2 {
		return fmt.Errorf("k threshold must be at least 2, got %d", c.K)
	}
	if c.EpsilonCeiling <= 0 {
		return fmt.Errorf("epsilon ceiling must be positive, got %g", c.EpsilonCeiling)
	}
	if c.EpsilonFloor <= 0 || c.EpsilonFloor > c.EpsilonCeiling {
		return fmt.Errorf("epsilon floor %g must be in (0, %g]", c.EpsilonFloor, c.EpsilonCeiling)
	}
	for cat, eps := range c.CategoryEpsilon {
		if eps < c.EpsilonFloor || eps > c.EpsilonCeiling {
			return fmt.Errorf("category %s epsilon %g outside [floor, ceiling]", cat, eps)
		}
	}
	if c.BucketTimeout <= 0 {
		return fmt.Errorf("bucket timeout must be positive")
	}
	if c.PayloadCeiling <= 0 {
		return fmt.Errorf("payload ceiling must be positive")
	}
	if c.LatencyCeiling <= 0 {
		return fmt.Errorf("latency ceiling must be positive")
	}
	return nil
}
