// Package ics renders upcoming parties as an iCalendar feed.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

const productID = "-//listening-parties//upcoming//EN"

// UID is the stable iCalendar identifier of a party.
func UID(p *model.Party) string {
	return fmt.Sprintf("party-%d@%s.%s.listening-parties", p.ID, p.Scope.ChannelID, p.Scope.GuildID)
}

// Calendar builds a PUBLISH calendar with one VEVENT per party. Instants are
// written in UTC; calendar clients convert to their own zone.
func Calendar(parties []model.UpcomingParty, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for i := range parties {
		p := &parties[i].Party

		ev := cal.AddEvent(UID(p))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetCreatedTime(p.CreatedAt.UTC())
		ev.SetStartAt(p.Start.UTC())
		ev.SetEndAt(p.End.UTC())
		ev.SetSummary("Listening Party: " + p.Topic)
		ev.SetOrganizer(p.Owner)
		ev.SetDescription(description(&parties[i]))
	}
	return cal
}

// Render serializes the upcoming parties as text/calendar.
func Render(parties []model.UpcomingParty, stamp time.Time) string {
	return Calendar(parties, stamp).Serialize()
}

func description(u *model.UpcomingParty) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Party #%d organized by %s.", u.Party.ID, u.Party.Owner)
	if len(u.Enrollments) == 0 {
		b.WriteString(" No one has signed up yet.")
		return b.String()
	}
	tags := make([]string, 0, len(u.Enrollments))
	for _, e := range u.Enrollments {
		tags = append(tags, e.UserTag)
	}
	b.WriteString(" Enrolled: " + strings.Join(tags, ", "))
	return b.String()
}
