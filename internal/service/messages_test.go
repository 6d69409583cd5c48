package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation",
			err:  &ValidationError{Problems: []string{"first", "second"}},
			want: "Sorry, we couldn't schedule that party. Please correct the following errors:\n\n- first\n- second",
		},
		{
			name: "upcoming validation",
			err:  &ValidationError{Action: "list upcoming parties", Problems: []string{"bad zone"}},
			want: "Sorry, we couldn't list upcoming parties. Please correct the following errors:\n\n- bad zone",
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("lookup: %w", ErrNotFound),
			want: "Sorry, no party with ID 7 found in this channel. Are you in the right channel?",
		},
		{name: "conflict", err: ErrConflict, want: "Could not schedule party - conflicts exist. Double check your time slot."},
		{name: "forbidden", err: ErrForbidden, want: "Sorry, you don't have permissions to do this."},
		{name: "already enrolled", err: ErrAlreadyEnrolled, want: "You've already joined this party."},
		{name: "store", err: ErrStore, want: "Sorry, something went wrong with the listening party. Try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.err, 7))
		})
	}
}

func TestUpcomingRendering(t *testing.T) {
	start := time.Date(2030, 1, 1, 18, 0, 0, 0, time.UTC)
	u := model.UpcomingParty{
		Party:        model.Party{ID: 3, Topic: "Album Club", Start: start, End: start.Add(time.Hour), Owner: "owner#0001"},
		DisplayStart: start,
		DisplayEnd:   start.Add(time.Hour),
	}

	assert.Equal(t, "No parties found. Schedule one!", UpcomingSummary(nil, ""))
	assert.Equal(t, "All times in GMT", UpcomingSummary([]model.UpcomingParty{u}, ""))
	assert.Equal(t, "All times in Europe/Paris", UpcomingSummary([]model.UpcomingParty{u}, "Europe/Paris"))

	line := UpcomingLine(&u, start.Add(-30*time.Minute))
	assert.Contains(t, line, "ID #3: Album Club - Starts in 30 minutes")
	assert.Contains(t, line, "Organized by owner#0001")
	assert.Contains(t, line, "No one has signed up yet.")

	u.Enrollments = []model.Enrollment{{UserTag: "a#1"}, {UserTag: "b#2"}}
	assert.Contains(t, UpcomingLine(&u, start), "Enrolled: a#1, b#2")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "invalid", outcome(&ValidationError{}))
	assert.Equal(t, "conflict", outcome(fmt.Errorf("x: %w", ErrConflict)))
	assert.Equal(t, "error", outcome(ErrStore))
}
