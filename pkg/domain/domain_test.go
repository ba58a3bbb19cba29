package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	t.Run("known type parses", func(t *testing.T) {
		et, err := ParseEventType("screen_view")
		require.NoError(t, err)
		assert.Equal(t, EventScreenView, et)
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := ParseEventType("")
		assert.Error(t, err)
	})

	t.Run("unreviewed type rejected", func(t *testing.T) {
		_, err := ParseEventType("payment_completed")
		assert.Error(t, err)
	})
}

func TestEventTypeSensitivity(t *testing.T) {
	assert.Equal(t, SensitivityLow, EventScreenView.Sensitivity())
	assert.Equal(t, SensitivityMedium, EventSessionEnded.Sensitivity())
	// A gap in the table must not lower the privacy level.
	assert.Equal(t, SensitivityMedium, EventType("mystery").Sensitivity())
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("iOS")
	require.NoError(t, err)
	assert.Equal(t, PlatformIOS, p)

	_, err = ParsePlatform("playstation")
	assert.Error(t, err)
}

func TestAgeRangeFromAge(t *testing.T) {
	cases := []struct {
		age  int
		want AgeRange
	}{
		{17, AgeRange18to27}, // one below minimum age still lands in lowest band
		{18, AgeRange18to27}, // exactly minimum age
		{27, AgeRange18to27},
		{28, AgeRange28to37},
		{37, AgeRange28to37},
		{67, AgeRange58to67},
		{68, AgeRange68Plus},
		{99, AgeRange68Plus}, // top-coded
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AgeRangeFromAge(tc.age), "age %d", tc.age)
	}
}

func TestRegionGrammar(t *testing.T) {
	assert.True(t, Region("CA").IsValid())
	assert.True(t, RegionInternational.IsValid())
	assert.True(t, RegionUnknown.IsValid())
	assert.False(t, Region("CAL").IsValid())
	assert.False(t, Region("c1").IsValid())
	assert.False(t, Region("").IsValid())
}

func TestQuasiIdentifiersValidate(t *testing.T) {
	valid := QuasiIdentifiers{
		AgeRange:   AgeRange28to37,
		Region:     Region("CA"),
		Platform:   PlatformIOS,
		AppVersion: "1.0",
	}
	require.NoError(t, valid.Validate())

	t.Run("over-precise version rejected", func(t *testing.T) {
		q := valid
		q.AppVersion = "1.0.3"
		assert.Error(t, q.Validate())
	})

	t.Run("over-precise age rejected", func(t *testing.T) {
		q := valid
		q.AgeRange = "28-30"
		assert.Error(t, q.Validate())
	})

	t.Run("lowercase region rejected", func(t *testing.T) {
		q := valid
		q.Region = "ca"
		assert.Error(t, q.Validate())
	})
}

func TestQuasiIdentifiersCanonicalIsStable(t *testing.T) {
	q := QuasiIdentifiers{AgeRange: AgeRange28to37, Region: "CA", Platform: PlatformIOS, AppVersion: "1.0"}
	assert.Equal(t, "28-37|CA|ios|1.0", q.Canonical())
	assert.Equal(t, q.Canonical(), q.Canonical())
}

func TestFieldValueJSONRoundTrip(t *testing.T) {
	fields := map[string]FieldValue{
		"count":   Number(3),
		"label":   String("home"),
		"success": Bool(true),
	}
	data, err := json.Marshal(fields)
	require.NoError(t, err)

	var decoded map[string]FieldValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, FieldNumber, decoded["count"].Kind)
	assert.Equal(t, 3.0, decoded["count"].Num)
	assert.Equal(t, "home", decoded["label"].Str)
	assert.True(t, decoded["success"].Bool)
}

func TestAnonymizedEventPayloadOmitsIdentifiers(t *testing.T) {
	ev := AnonymizedEvent{
		Type: EventScreenView,
		Fields: map[string]AnonymizedField{
			"screen_count": {Value: Number(4), Mechanism: MechanismLaplace},
		},
		QuasiIdentifiers:  QuasiIdentifiers{AgeRange: AgeRange28to37, Region: "CA", Platform: PlatformIOS, AppVersion: "1.0"},
		BucketCardinality: 5,
		Epsilon:           0.05,
	}
	payload, err := ev.Payload()
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "contributor")
	assert.Contains(t, string(payload), `"bucket_cardinality":5`)
	assert.Contains(t, string(payload), `"mechanism":"laplace"`)
}
