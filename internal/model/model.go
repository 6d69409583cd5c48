// Package model defines the core domain types for the listening party scheduler.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Scope is the guild/channel namespace a party lives in. Conflict checks and
// queries never cross scopes.
type Scope struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// Key returns a stable string form of the scope, used for locking and logs.
// The guild id is length-prefixed so no two scopes share a key, e.g.
// "2:g1/c1".
func (s Scope) Key() string {
	return fmt.Sprintf("%d:%s/%s", len(s.GuildID), s.GuildID, s.ChannelID)
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the two half-open intervals share any instant.
// Touching intervals ([10:00,11:00) and [11:00,12:00)) do not overlap, while
// full containment does.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Party represents a scheduled listening party.
type Party struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Scope     Scope     `json:"scope"`
	Owner     string    `json:"owner"`
	PingSent  bool      `json:"ping_sent"`
	CreatedAt time.Time `json:"created_at"`
}

// Interval returns the party's [Start, End) range.
func (p *Party) Interval() Interval {
	return Interval{Start: p.Start, End: p.End}
}

// Enrollment represents a user's sign-up for a party.
type Enrollment struct {
	ID        string    `json:"id"`
	PartyID   int64     `json:"party_id"`
	UserID    string    `json:"user_id"`
	UserTag   string    `json:"user_tag"`
	CreatedAt time.Time `json:"created_at"`
}

// Requester identifies the member issuing an update or cancel request.
// Moderator carries the elevated moderation capability granted by the chat
// platform (e.g. manage-messages).
type Requester struct {
	Tag       string `json:"tag" validate:"required"`
	Moderator bool   `json:"moderator"`
}

// CanManage reports whether the requester may mutate the party.
func (r Requester) CanManage(p *Party) bool {
	return r.Tag == p.Owner || r.Moderator
}

// UpcomingParty is a party enriched with its roster and display-zone times.
type UpcomingParty struct {
	Party        Party        `json:"party"`
	Enrollments  []Enrollment `json:"enrollments"`
	DisplayStart time.Time    `json:"display_start"`
	DisplayEnd   time.Time    `json:"display_end"`
}

// Flair describes how soon the party starts relative to now.
func (u *UpcomingParty) Flair(now time.Time) string {
	until := u.Party.Start.Sub(now)
	switch {
	case until < 0:
		return "Happening now!"
	case until < time.Hour:
		return fmt.Sprintf("Starts in %d minutes", int(until.Minutes()))
	default:
		return fmt.Sprintf("Starts in %d hours", int(until.Hours()))
	}
}

// Recipient is a user to be pinged when a party is about to start.
type Recipient struct {
	UserID  string `json:"user_id"`
	UserTag string `json:"user_tag"`
}

// NotificationBatch is the payload emitted once per claimed party.
type NotificationBatch struct {
	ID         string      `json:"id"`
	PartyID    int64       `json:"party_id"`
	Scope      Scope       `json:"scope"`
	Topic      string      `json:"topic"`
	Owner      string      `json:"owner"`
	Start      time.Time   `json:"start"`
	Recipients []Recipient `json:"recipients"`
	ClaimedAt  time.Time   `json:"claimed_at"`
}

// Mentions renders the recipients as chat mentions, e.g. "<@123> , <@456>".
func (b *NotificationBatch) Mentions() string {
	parts := make([]string, 0, len(b.Recipients))
	for _, r := range b.Recipients {
		parts = append(parts, "<@"+r.UserID+">")
	}
	return strings.Join(parts, " , ")
}

// Announcement is the human-readable text announcing the party.
func (b *NotificationBatch) Announcement() string {
	minutes := int(b.Start.Sub(b.ClaimedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("Listening Party for **%s** starts in %d minutes at %s!",
		b.Topic, minutes, b.Start.UTC().Format(time.RFC1123))
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}
