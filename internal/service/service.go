// Package service implements party scheduling: validation, conflict
// detection, ownership checks, and enrollment, orchestrated over the store.
//
// The service keeps no copy of any party. Every decision re-reads the store
// right before acting, so a Scheduler is safe to share between goroutines.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
	"github.com/Shivanand-hulikatti/listening-parties/internal/lock"
	"github.com/Shivanand-hulikatti/listening-parties/internal/metrics"
	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
	"github.com/Shivanand-hulikatti/listening-parties/internal/repository"
	"github.com/Shivanand-hulikatti/listening-parties/internal/validate"
)

// DefaultLookAhead is how far ahead Upcoming looks.
const DefaultLookAhead = 72 * time.Hour

// PartyStore persists parties.
type PartyStore interface {
	CreateParty(ctx context.Context, p model.Party) (int64, error)
	UpdatePartyTimes(ctx context.Context, scope model.Scope, id int64, start, end, now time.Time) (int64, error)
	DeleteParty(ctx context.Context, scope model.Scope, id int64, now time.Time) (int64, error)
	FindParty(ctx context.Context, scope model.Scope, id int64, now time.Time) (*model.Party, error)
	FindOverlapping(ctx context.Context, scope model.Scope, start, end time.Time, excludeID int64) ([]model.Party, error)
	FindUpcoming(ctx context.Context, scope model.Scope, from, to time.Time) ([]model.Party, error)
}

// EnrollmentStore persists enrollments.
type EnrollmentStore interface {
	Enroll(ctx context.Context, partyID int64, userID, userTag string) (*model.Enrollment, error)
	FindEnrollment(ctx context.Context, partyID int64, userID string) (*model.Enrollment, error)
	ListEnrollments(ctx context.Context, partyID int64) ([]model.Enrollment, error)
}

// Config tunes a Scheduler. Zero values fall back to defaults.
type Config struct {
	Policy    validate.Policy
	LookAhead time.Duration
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Scheduler orchestrates party operations.
type Scheduler struct {
	log         *slog.Logger
	parties     PartyStore
	enrollments EnrollmentStore
	locker      lock.Locker
	validator   *validate.Validator
	metrics     *metrics.Metrics
	lookAhead   time.Duration
	now         func() time.Time
}

// New constructs a Scheduler with its dependencies.
func New(
	log *slog.Logger,
	parties PartyStore,
	enrollments EnrollmentStore,
	locker lock.Locker,
	cfg Config,
) *Scheduler {
	if cfg.Policy == (validate.Policy{}) {
		cfg.Policy = validate.DefaultPolicy()
	}
	if cfg.LookAhead <= 0 {
		cfg.LookAhead = DefaultLookAhead
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Scheduler{
		log:         log,
		parties:     parties,
		enrollments: enrollments,
		locker:      locker,
		validator:   validate.New(cfg.Policy),
		metrics:     cfg.Metrics,
		lookAhead:   cfg.LookAhead,
		now:         func() time.Time { return cfg.Now().UTC() },
	}
}

// Validate runs the temporal validator against raw input.
func (s *Scheduler) Validate(in validate.Input) validate.Result {
	return s.validator.Party(in, s.now())
}

// Schedule validates a raw request and schedules the resulting party.
func (s *Scheduler) Schedule(ctx context.Context, scope model.Scope, req model.ScheduleRequest) (*model.Party, error) {
	res := s.Validate(validate.Input{
		Topic:    req.Topic,
		DateTime: req.DateTime,
		Timezone: req.Timezone,
		Duration: req.Duration,
		Scope:    scope,
	})
	if !res.OK() {
		err := &ValidationError{Action: "schedule that party", Problems: res.Errors}
		s.metrics.Operation("schedule", outcome(err))
		return nil, err
	}
	return s.ScheduleParty(ctx, *res.Party, req.Owner)
}

// ScheduleParty persists a validated candidate unless it overlaps another
// party in its scope. The overlap check and the insert run under the scope
// lock so two overlapping requests cannot both succeed.
func (s *Scheduler) ScheduleParty(ctx context.Context, candidate model.Party, owner string) (_ *model.Party, err error) {
	const op = "service.ScheduleParty"
	log := s.log.With(slog.String("op", op), slog.String("scope", candidate.Scope.Key()))
	defer func() { s.metrics.Operation("schedule", outcome(err)) }()

	release, err := s.locker.Lock(ctx, candidate.Scope.Key())
	if err != nil {
		return nil, s.storeErr(log, op, "lock scope", err)
	}
	defer release()

	conflict, err := s.hasConflict(ctx, candidate.Scope, candidate.Interval(), 0)
	if err != nil {
		return nil, s.storeErr(log, op, "find overlapping", err)
	}
	if conflict {
		log.Info("schedule rejected, slot taken", slog.Time("start", candidate.Start), slog.Time("end", candidate.End))
		return nil, ErrConflict
	}

	candidate.Owner = owner
	candidate.PingSent = false
	id, err := s.parties.CreateParty(ctx, candidate)
	if err != nil {
		if errors.Is(err, repository.ErrOverlap) {
			return nil, ErrConflict
		}
		return nil, s.storeErr(log, op, "create party", err)
	}
	candidate.ID = id

	log.Info("party scheduled", slog.Int64("party_id", id), slog.String("owner", owner))
	return &candidate, nil
}

// hasConflict reports whether any party in scope other than excludeID
// overlaps interval.
func (s *Scheduler) hasConflict(ctx context.Context, scope model.Scope, interval model.Interval, excludeID int64) (bool, error) {
	existing, err := s.parties.FindOverlapping(ctx, scope, interval.Start, interval.End, excludeID)
	if err != nil {
		return false, err
	}
	for i := range existing {
		// Re-check with the half-open rule whatever the backend returned.
		if existing[i].ID != excludeID && existing[i].Interval().Overlaps(interval) {
			return true, nil
		}
	}
	return false, nil
}

// Upcoming lists parties in scope starting within the look-ahead window, each
// with its roster. displayTimezone, when set, only changes the Display*
// fields.
func (s *Scheduler) Upcoming(ctx context.Context, scope model.Scope, displayTimezone string) (_ []model.UpcomingParty, err error) {
	const op = "service.Upcoming"
	log := s.log.With(slog.String("op", op), slog.String("scope", scope.Key()))
	defer func() { s.metrics.Operation("upcoming", outcome(err)) }()

	loc := time.UTC
	if displayTimezone != "" {
		var ok bool
		if loc, ok = validate.LoadLocation(displayTimezone); !ok {
			return nil, &ValidationError{
				Action:   "list upcoming parties",
				Problems: []string{InvalidTimezoneMessage(displayTimezone)},
			}
		}
	}

	now := s.now()
	parties, err := s.parties.FindUpcoming(ctx, scope, now, now.Add(s.lookAhead))
	if err != nil {
		return nil, s.storeErr(log, op, "find upcoming", err)
	}

	upcoming := make([]model.UpcomingParty, 0, len(parties))
	for _, p := range parties {
		enrollments, err := s.enrollments.ListEnrollments(ctx, p.ID)
		if err != nil {
			return nil, s.storeErr(log, op, "list enrollments", err)
		}
		if enrollments == nil {
			enrollments = []model.Enrollment{}
		}
		upcoming = append(upcoming, model.UpcomingParty{
			Party:        p,
			Enrollments:  enrollments,
			DisplayStart: p.Start.In(loc),
			DisplayEnd:   p.End.In(loc),
		})
	}
	return upcoming, nil
}

// UpdateParty moves a party to a new slot. Topic, owner and scope are kept.
//
// The new slot must not overlap any other party in scope; the party's own
// current slot is ignored.
func (s *Scheduler) UpdateParty(
	ctx context.Context,
	scope model.Scope,
	requester model.Requester,
	id int64,
	dateTime, timezone, duration string,
) (_ *model.Party, err error) {
	const op = "service.UpdateParty"
	log := s.log.With(slog.String("op", op), slog.String("scope", scope.Key()), slog.Int64("party_id", id))
	defer func() { s.metrics.Operation("update", outcome(err)) }()

	release, err := s.locker.Lock(ctx, scope.Key())
	if err != nil {
		return nil, s.storeErr(log, op, "lock scope", err)
	}
	defer release()

	now := s.now()
	party, err := s.authorize(ctx, log, op, scope, requester, id, now)
	if err != nil {
		return nil, err
	}

	interval, problems := s.validator.Times(dateTime, timezone, duration, now)
	if len(problems) > 0 {
		return nil, &ValidationError{Action: "move that party", Problems: problems}
	}

	conflict, err := s.hasConflict(ctx, scope, interval, id)
	if err != nil {
		return nil, s.storeErr(log, op, "find overlapping", err)
	}
	if conflict {
		log.Info("update rejected, slot taken", slog.Time("start", interval.Start))
		return nil, ErrConflict
	}

	n, err := s.parties.UpdatePartyTimes(ctx, scope, id, interval.Start, interval.End, now)
	if err != nil {
		if errors.Is(err, repository.ErrOverlap) {
			return nil, ErrConflict
		}
		return nil, s.storeErr(log, op, "update party", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	party.Start, party.End = interval.Start, interval.End
	log.Info("party moved", slog.String("requester", requester.Tag), slog.Time("start", party.Start))
	return party, nil
}

// CancelParty deletes a party. Zero rows deleted means it vanished (or
// started) between lookup and delete and is reported as not found.
func (s *Scheduler) CancelParty(ctx context.Context, scope model.Scope, requester model.Requester, id int64) (_ *model.Party, err error) {
	const op = "service.CancelParty"
	log := s.log.With(slog.String("op", op), slog.String("scope", scope.Key()), slog.Int64("party_id", id))
	defer func() { s.metrics.Operation("cancel", outcome(err)) }()

	now := s.now()
	party, err := s.authorize(ctx, log, op, scope, requester, id, now)
	if err != nil {
		return nil, err
	}

	n, err := s.parties.DeleteParty(ctx, scope, id, now)
	if err != nil {
		return nil, s.storeErr(log, op, "delete party", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	log.Info("party canceled", slog.String("requester", requester.Tag))
	return party, nil
}

// authorize loads the party and checks that requester may manage it.
func (s *Scheduler) authorize(
	ctx context.Context,
	log *slog.Logger,
	op string,
	scope model.Scope,
	requester model.Requester,
	id int64,
	now time.Time,
) (*model.Party, error) {
	party, err := s.parties.FindParty(ctx, scope, id, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.storeErr(log, op, "find party", err)
	}
	if !requester.CanManage(party) {
		log.Warn("requester may not manage party", slog.String("requester", requester.Tag), slog.String("owner", party.Owner))
		return nil, ErrForbidden
	}
	return party, nil
}

// Enrolled is the outcome of a successful join.
type Enrolled struct {
	Party      model.Party      `json:"party"`
	Enrollment model.Enrollment `json:"enrollment"`
}

// JoinParty enrolls a user in a not-yet-started party in scope. Joining twice
// reports ErrAlreadyEnrolled and never creates a second enrollment.
func (s *Scheduler) JoinParty(ctx context.Context, scope model.Scope, userID, userTag string, id int64) (_ *Enrolled, err error) {
	const op = "service.JoinParty"
	log := s.log.With(slog.String("op", op), slog.String("scope", scope.Key()), slog.Int64("party_id", id))
	defer func() { s.metrics.Operation("join", outcome(err)) }()

	party, err := s.parties.FindParty(ctx, scope, id, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.storeErr(log, op, "find party", err)
	}

	_, err = s.enrollments.FindEnrollment(ctx, id, userID)
	switch {
	case err == nil:
		return nil, ErrAlreadyEnrolled
	case !errors.Is(err, repository.ErrNotFound):
		return nil, s.storeErr(log, op, "find enrollment", err)
	}

	enrollment, err := s.enrollments.Enroll(ctx, id, userID, userTag)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyEnrolled):
			return nil, ErrAlreadyEnrolled
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, s.storeErr(log, op, "enroll", err)
	}

	log.Info("user joined party", slog.String("user_tag", userTag))
	return &Enrolled{Party: *party, Enrollment: *enrollment}, nil
}

func (s *Scheduler) storeErr(log *slog.Logger, op, step string, err error) error {
	log.Error("store call failed", slog.String("step", step), sl.Err(err))
	return fmt.Errorf("%s: %s: %w: %w", op, step, ErrStore, err)
}
