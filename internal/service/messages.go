package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

const timezoneHelp = "See https://en.wikipedia.org/wiki/List_of_tz_database_time_zones for valid time zones."

// InvalidTimezoneMessage is reported for an unknown display timezone.
func InvalidTimezoneMessage(tz string) string {
	return fmt.Sprintf("%q is not a valid timezone. %s", tz, timezoneHelp)
}

// ScheduledMessage describes a newly scheduled or moved party.
func ScheduledMessage(p *model.Party) string {
	return fmt.Sprintf("Party scheduled for %s - ID %d. Starts %s, ends %s, organized by %s.",
		p.Topic, p.ID, p.Start.Format(time.RFC1123), p.End.Format(time.RFC1123), p.Owner)
}

// JoinedMessage confirms an enrollment.
func JoinedMessage(e *Enrolled) string {
	return fmt.Sprintf("**%s** joined listening party **#%d - %s**", e.Enrollment.UserTag, e.Party.ID, e.Party.Topic)
}

// CanceledMessage confirms a cancellation.
func CanceledMessage(p *model.Party) string {
	return fmt.Sprintf("Party #%d - %s has been cancelled.", p.ID, p.Topic)
}

// UpcomingSummary is the footer line of an upcoming listing.
func UpcomingSummary(parties []model.UpcomingParty, timezone string) string {
	switch {
	case len(parties) == 0:
		return "No parties found. Schedule one!"
	case timezone != "":
		return "All times in " + timezone
	default:
		return "All times in GMT"
	}
}

// UpcomingLine renders one entry of an upcoming listing.
func UpcomingLine(u *model.UpcomingParty, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID #%d: %s - %s\n", u.Party.ID, u.Party.Topic, u.Flair(now))
	fmt.Fprintf(&b, "%s - Organized by %s\n", u.DisplayStart.Format("2006-01-02 15:04 MST"), u.Party.Owner)
	if len(u.Enrollments) == 0 {
		b.WriteString("No one has signed up yet.")
	} else {
		tags := make([]string, 0, len(u.Enrollments))
		for _, e := range u.Enrollments {
			tags = append(tags, e.UserTag)
		}
		b.WriteString("Enrolled: " + strings.Join(tags, ", "))
	}
	return b.String()
}

// ErrorMessage turns any error from the service into a message fit for the
// person who issued the request.
func ErrorMessage(err error, partyID int64) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		action := verr.Action
		if action == "" {
			action = "schedule that party"
		}
		return "Sorry, we couldn't " + action + ". Please correct the following errors:\n\n- " +
			strings.Join(verr.Problems, "\n- ")
	case errors.Is(err, ErrNotFound):
		return fmt.Sprintf("Sorry, no party with ID %d found in this channel. Are you in the right channel?", partyID)
	case errors.Is(err, ErrConflict):
		return "Could not schedule party - conflicts exist. Double check your time slot."
	case errors.Is(err, ErrForbidden):
		return "Sorry, you don't have permissions to do this."
	case errors.Is(err, ErrAlreadyEnrolled):
		return "You've already joined this party."
	default:
		return "Sorry, something went wrong with the listening party. Try again later."
	}
}
