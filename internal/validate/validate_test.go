package validate

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

var (
	scope = model.Scope{GuildID: "12311", ChannelID: "12345"}
	// Validation "now" sits before every fixture date so past-time checks
	// only fire where a test wants them to.
	longAgo = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestParty_Valid(t *testing.T) {
	res := Party(Input{
		Topic:    "Test Topic",
		DateTime: "2020-08-22 10:00",
		Timezone: "America/Los_Angeles",
		Duration: "1",
		Scope:    scope,
	}, longAgo)

	require.True(t, res.OK(), "errors: %v", res.Errors)
	require.NotNil(t, res.Party)
	assert.Equal(t, "Test Topic", res.Party.Topic)
	assert.Equal(t, time.Date(2020, 8, 22, 17, 0, 0, 0, time.UTC), res.Party.Start)
	assert.Equal(t, time.Date(2020, 8, 22, 18, 0, 0, 0, time.UTC), res.Party.End)
	assert.Equal(t, scope, res.Party.Scope)
	assert.Equal(t, time.UTC, res.Party.Start.Location())
}

func TestParty_FractionalDuration(t *testing.T) {
	res := Party(Input{
		Topic:    "Album Club",
		DateTime: "2030-01-01 18:00",
		Timezone: "UTC",
		Duration: "1.5",
	}, longAgo)

	require.True(t, res.OK())
	assert.Equal(t, 90*time.Minute, res.Party.Interval().Duration())
}

func TestParty_SingleFailures(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{
			name: "topic too short",
			in:   Input{Topic: "Test", DateTime: "2020-08-22 10:00", Timezone: "America/Los_Angeles", Duration: "1"},
		},
		{
			name: "duration not a number",
			in:   Input{Topic: "Testing test test", DateTime: "2020-08-22 10:00", Timezone: "America/Los_Angeles", Duration: "Not a number"},
		},
		{
			name: "duration NaN literal",
			in:   Input{Topic: "Testing test test", DateTime: "2020-08-22 10:00", Timezone: "America/Los_Angeles", Duration: "NaN"},
		},
		{
			name: "duration out of bounds",
			in:   Input{Topic: "Testing test test", DateTime: "2020-08-22 10:00", Timezone: "America/Los_Angeles", Duration: "45"},
		},
		{
			name: "bogus date",
			in:   Input{Topic: "Testing test test", DateTime: "tomorrow", Timezone: "America/Los_Angeles", Duration: "2"},
		},
		{
			name: "wrong date layout",
			in:   Input{Topic: "Testing test test", DateTime: "2020/08/22 10:00", Timezone: "America/Los_Angeles", Duration: "2"},
		},
		{
			name: "unknown timezone",
			in:   Input{Topic: "Testing test test", DateTime: "2020-08-22 10:00", Timezone: "Mars/Olympus_Mons", Duration: "2"},
		},
		{
			name: "empty timezone",
			in:   Input{Topic: "Testing test test", DateTime: "2020-08-22 10:00", Timezone: "", Duration: "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Party(tt.in, longAgo)
			assert.Len(t, res.Errors, 1, "errors: %v", res.Errors)
			assert.Nil(t, res.Party)
		})
	}
}

func TestParty_TimeInPast(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := Party(Input{
		Topic:    "Testing test test",
		DateTime: now.Add(-5 * time.Minute).Format(DateTimeLayout),
		Timezone: "UTC",
		Duration: "2",
	}, now)

	require.Equal(t, []string{TimeInPastMessage}, res.Errors)
	assert.Nil(t, res.Party)
}

func TestParty_StartingExactlyNowIsAllowed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := Party(Input{
		Topic:    "Testing test test",
		DateTime: "2025-06-01 12:00",
		Timezone: "UTC",
		Duration: "2",
	}, now)

	assert.True(t, res.OK(), "errors: %v", res.Errors)
}

func TestParty_CollectsAllErrors(t *testing.T) {
	res := Party(Input{
		Topic:    "abc",
		DateTime: "not a date",
		Timezone: "UTC",
		Duration: "9",
	}, longAgo)

	assert.GreaterOrEqual(t, len(res.Errors), 3)
	assert.Nil(t, res.Party)

	seen := map[string]bool{}
	for _, e := range res.Errors {
		assert.False(t, seen[e], "duplicate message %q", e)
		seen[e] = true
	}
}

func TestTimes(t *testing.T) {
	v := New(DefaultPolicy())

	interval, errs := v.Times("2020-08-22 10:00", "Europe/Berlin", "0.5", longAgo)
	require.Empty(t, errs)
	assert.Equal(t, time.Date(2020, 8, 22, 8, 0, 0, 0, time.UTC), interval.Start)
	assert.Equal(t, time.Date(2020, 8, 22, 8, 30, 0, 0, time.UTC), interval.End)

	_, errs = v.Times("2020-08-22 10:00", "nowhere", "x", longAgo)
	assert.Len(t, errs, 2)
}

func TestDurationBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("party is accepted iff 0.5 <= duration <= 3", prop.ForAll(
		func(hours float64) bool {
			res := Party(Input{
				Topic:    "Album Club",
				DateTime: "2030-01-01 18:00",
				Timezone: "UTC",
				Duration: formatHours(hours),
			}, longAgo)
			inBounds := hours >= 0.5 && hours <= 3
			return res.OK() == inBounds
		},
		gen.Float64Range(-2, 6),
	))

	properties.TestingRun(t)
}
