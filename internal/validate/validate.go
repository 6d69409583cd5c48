// Package validate turns raw party input (topic, local date/time, timezone and
// duration text) into an absolute UTC interval, collecting every problem it
// finds instead of stopping at the first one.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones must resolve even on hosts without zoneinfo.
	"unicode/utf8"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

// DateTimeLayout is the only accepted date/time format (YYYY-MM-DD HH:mm).
const DateTimeLayout = "2006-01-02 15:04"

const timezoneHelp = "See https://en.wikipedia.org/wiki/List_of_tz_database_time_zones for valid time zones."

// Policy holds the scheduling limits applied during validation.
type Policy struct {
	MinTopicLength int
	MinDuration    float64 // hours, inclusive
	MaxDuration    float64 // hours, inclusive
}

// DefaultPolicy is a topic over 5 characters and a duration of half an hour
// to three hours.
func DefaultPolicy() Policy {
	return Policy{
		MinTopicLength: 6,
		MinDuration:    0.5,
		MaxDuration:    3,
	}
}

// Input is the raw, unparsed party description.
type Input struct {
	Topic    string
	DateTime string
	Timezone string
	Duration string
	Scope    model.Scope
}

// Result is the outcome of validation. Party is nil whenever Errors is not
// empty.
type Result struct {
	Party  *model.Party
	Errors []string
}

// OK reports whether validation produced a party.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Validator validates party input against a Policy.
type Validator struct {
	policy Policy
}

// New constructs a Validator.
func New(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Party validates in using DefaultPolicy.
func Party(in Input, now time.Time) Result {
	return New(DefaultPolicy()).Party(in, now)
}

// Party runs every rule against in and returns either a fully formed party
// (start and end in UTC) or the complete list of problems.
func (v *Validator) Party(in Input, now time.Time) Result {
	errs := v.topic(in.Topic)

	interval, timeErrs := v.Times(in.DateTime, in.Timezone, in.Duration, now)
	errs = append(errs, timeErrs...)

	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	return Result{
		Party: &model.Party{
			Topic: strings.TrimSpace(in.Topic),
			Start: interval.Start,
			End:   interval.End,
			Scope: in.Scope,
		},
	}
}

// Times validates only the temporal fields. It is used when a party is moved
// and its topic is carried over unchanged.
func (v *Validator) Times(dateTime, timezone, duration string, now time.Time) (model.Interval, []string) {
	var errs []string

	start, ok := ParseLocal(dateTime, timezone)
	if !ok {
		errs = append(errs, InvalidDateTimeMessage(dateTime))
	} else if start.Before(now) {
		errs = append(errs, TimeInPastMessage)
	}

	hours, durErrs := v.duration(duration)
	errs = append(errs, durErrs...)

	if len(errs) > 0 {
		return model.Interval{}, errs
	}
	return model.Interval{Start: start, End: start.Add(time.Duration(hours * float64(time.Hour)))}, nil
}

func (v *Validator) topic(topic string) []string {
	if utf8.RuneCountInString(strings.TrimSpace(topic)) < v.policy.MinTopicLength {
		return []string{fmt.Sprintf("Your listening party topic should be over %d characters long. You provided %q",
			v.policy.MinTopicLength-1, topic)}
	}
	return nil
}

// duration parses text as hours. A non-numeric value only reports the
// "must be a number" problem; bounds are checked on real numbers.
func (v *Validator) duration(text string) (float64, []string) {
	hours, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0, []string{"Duration must be a number. You specified " + text}
	}
	if hours < v.policy.MinDuration || hours > v.policy.MaxDuration {
		return hours, []string{fmt.Sprintf("Duration must be between %s and %s - this is in hours.",
			formatHours(v.policy.MinDuration), formatHours(v.policy.MaxDuration))}
	}
	return hours, nil
}

// ParseLocal parses dateTime in DateTimeLayout within the named IANA zone and
// returns the instant in UTC.
func ParseLocal(dateTime, timezone string) (time.Time, bool) {
	loc, ok := LoadLocation(timezone)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(dateTime), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// LoadLocation resolves an IANA timezone name. The empty name and "Local" are
// rejected so results never depend on the host's zone.
func LoadLocation(name string) (*time.Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// TimeInPastMessage is reported when the party would start before now.
const TimeInPastMessage = "This time is in the past. Please schedule listening parties in the future."

// InvalidDateTimeMessage is reported when the date/time or timezone does not parse.
func InvalidDateTimeMessage(input string) string {
	return fmt.Sprintf("%q is not a valid date/time string (use YYYY-MM-DD HH:mm), or your timezone is wrong. %s",
		input, timezoneHelp)
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
