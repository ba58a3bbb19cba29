package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.K)
	assert.Equal(t, 1.0, cfg.EpsilonCeiling)
	assert.Equal(t, 24*time.Hour, cfg.BucketTimeout)
	assert.Equal(t, 10*1024, cfg.PayloadCeiling)
}

func TestValidateRejectsWeakGuarantees(t *testing.T) {
	t.Run("k below 2", func(t *testing.T) {
		cfg := Default()
		cfg.K = 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero ceiling", func(t *testing.T) {
		cfg := Default()
		cfg.EpsilonCeiling = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("floor above ceiling", func(t *testing.T) {
		cfg := Default()
		cfg.EpsilonFloor = 2.0
		assert.Error(t, cfg.Validate())
	})

	t.Run("category epsilon above ceiling", func(t *testing.T) {
		cfg := Default()
		for cat := range cfg.CategoryEpsilon {
			cfg.CategoryEpsilon[cat] = 5.0
			break
		}
		assert.Error(t, cfg.Validate())
	})
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("VEIL_K", "10")
	t.Setenv("VEIL_EPSILON_CEILING", "2.0")
	t.Setenv("VEIL_BUCKET_TIMEOUT", "1h")
	t.Setenv("VEIL_KAFKA_BROKERS", "a:9092,b:9092")

	cfg := FromEnv()
	assert.Equal(t, 10, cfg.K)
	assert.Equal(t, 2.0, cfg.EpsilonCeiling)
	assert.Equal(t, time.Hour, cfg.BucketTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}
