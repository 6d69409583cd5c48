// Package sweeper claims parties that are about to start and hands one
// notification batch per claimed party to the delivery channel.
//
// Notification is at-most-once: a party is claimed (ping_sent flipped) before
// its batch is built, and a failed delivery never un-claims it.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
	"github.com/Shivanand-hulikatti/listening-parties/internal/metrics"
	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
)

const (
	// DefaultWindow is how long before its start a party is announced.
	DefaultWindow = 10 * time.Minute
	// DefaultSchedule runs a sweep every minute.
	DefaultSchedule = "@every 1m"
)

// PartyStore is the part of the store the sweeper needs.
type PartyStore interface {
	FindDueForNotification(ctx context.Context, cutoff time.Time) ([]model.Party, error)
	ClaimForNotification(ctx context.Context, ids []int64) ([]int64, error)
}

// EnrollmentLister lists a party's roster.
type EnrollmentLister interface {
	ListEnrollments(ctx context.Context, partyID int64) ([]model.Enrollment, error)
}

// Notifier delivers batches. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, batch model.NotificationBatch) error
}

// Sweeper finds and claims parties entering their notification window.
type Sweeper struct {
	log         *slog.Logger
	parties     PartyStore
	enrollments EnrollmentLister
	notifier    Notifier
	metrics     *metrics.Metrics
	window      time.Duration
	now         func() time.Time

	cron *cron.Cron
}

// Option customises a Sweeper.
type Option func(*Sweeper)

// WithWindow sets how far ahead of a party's start it is announced.
func WithWindow(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics records sweep outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New constructs a Sweeper.
func New(log *slog.Logger, parties PartyStore, enrollments EnrollmentLister, notifier Notifier, opts ...Option) *Sweeper {
	s := &Sweeper{
		log:         log,
		parties:     parties,
		enrollments: enrollments,
		notifier:    notifier,
		window:      DefaultWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep claims every unpinged party starting within the window and returns
// one batch per party this call claimed.
//
// Claiming is a conditional per-row update in the store, so concurrent sweeps
// split the due set between them: each party appears in exactly one
// invocation's result. If the claim fails part way, the batches for the
// parties claimed before the failure are returned together with the error.
func (s *Sweeper) Sweep(ctx context.Context) ([]model.NotificationBatch, error) {
	const op = "sweeper.Sweep"
	log := s.log.With(slog.String("op", op))

	now := s.now().UTC()
	due, err := s.parties.FindDueForNotification(ctx, now.Add(s.window))
	if err != nil {
		return nil, fmt.Errorf("%s: find due: %w", op, err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	byID := make(map[int64]model.Party, len(due))
	ids := make([]int64, 0, len(due))
	for _, p := range due {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	claimed, claimErr := s.parties.ClaimForNotification(ctx, ids)
	batches := s.buildBatches(ctx, log, byID, claimed, now)
	if claimErr != nil {
		return batches, fmt.Errorf("%s: claim: %w", op, claimErr)
	}

	log.Info("parties claimed", slog.Int("due", len(due)), slog.Int("claimed", len(batches)))
	return batches, nil
}

func (s *Sweeper) buildBatches(ctx context.Context, log *slog.Logger, byID map[int64]model.Party, claimed []int64, now time.Time) []model.NotificationBatch {
	batches := make([]model.NotificationBatch, 0, len(claimed))
	for _, id := range claimed {
		p, ok := byID[id]
		if !ok {
			continue
		}

		batch := model.NotificationBatch{
			ID:         uuid.NewString(),
			PartyID:    p.ID,
			Scope:      p.Scope,
			Topic:      p.Topic,
			Owner:      p.Owner,
			Start:      p.Start,
			Recipients: []model.Recipient{},
			ClaimedAt:  now,
		}

		enrollments, err := s.enrollments.ListEnrollments(ctx, p.ID)
		if err != nil {
			// The announcement still goes out, just without pings.
			log.Error("failed to list enrollments", slog.Int64("party_id", p.ID), sl.Err(err))
		}
		for _, e := range enrollments {
			batch.Recipients = append(batch.Recipients, model.Recipient{UserID: e.UserID, UserTag: e.UserTag})
		}

		batches = append(batches, batch)
	}
	return batches
}

// RunOnce sweeps and delivers every batch. Delivery failures are logged and
// counted, never retried.
func (s *Sweeper) RunOnce(ctx context.Context) {
	const op = "sweeper.RunOnce"
	log := s.log.With(slog.String("op", op))

	batches, err := s.Sweep(ctx)
	s.metrics.Sweep(len(batches), err)
	if err != nil {
		log.Error("sweep failed", slog.Int("claimed", len(batches)), sl.Err(err))
	}

	for _, b := range batches {
		if err := s.notifier.Notify(ctx, b); err != nil {
			s.metrics.DeliveryFailed()
			log.Error("failed to deliver notification",
				slog.Int64("party_id", b.PartyID),
				slog.String("batch_id", b.ID),
				sl.Err(err),
			)
		}
	}
}

// Start runs RunOnce on the given cron spec (e.g. "@every 1m" or
// "*/1 * * * *") until Stop. A tick that fires while the previous sweep is
// still running is skipped.
func (s *Sweeper) Start(spec string) error {
	const op = "sweeper.Start"

	if spec == "" {
		spec = DefaultSchedule
	}
	logger := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.cron = c
	c.Start()
	s.log.Info("notification sweeper started", slog.String("schedule", spec), slog.Duration("window", s.window))
	return nil
}

// Stop stops scheduling sweeps and waits for a running one to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("notification sweeper stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{sl.Err(err)}, keysAndValues...)...)
}
