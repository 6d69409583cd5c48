package sweeper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
	"github.com/Shivanand-hulikatti/listening-parties/internal/metrics"
	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
	"github.com/Shivanand-hulikatti/listening-parties/internal/repository/sqlite"
)

var (
	scope     = model.Scope{GuildID: "g1", ChannelID: "c1"}
	partyTime = time.Date(2030, 1, 1, 18, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu      sync.Mutex
	batches []model.NotificationBatch
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, b model.NotificationBatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, b)
	return n.err
}

func newStore(t *testing.T) *sqlite.Storage {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "lp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createParty(t *testing.T, st *sqlite.Storage, topic string, start time.Time) int64 {
	t.Helper()
	id, err := st.CreateParty(context.Background(), model.Party{
		Topic: topic,
		Start: start,
		End:   start.Add(time.Hour),
		Scope: scope,
		Owner: "owner#0001",
	})
	require.NoError(t, err)
	return id
}

func at(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestSweep_ClaimsOnceInsideWindow(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	id := createParty(t, st, "Album Club", partyTime)

	_, err := st.Enroll(ctx, id, "42", "listener#0042")
	require.NoError(t, err)

	early := New(sl.Discard(), st, st, &recordingNotifier{}, WithClock(at(partyTime.Add(-11*time.Minute))))
	batches, err := early.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches, "party outside the window must not be claimed")

	s := New(sl.Discard(), st, st, &recordingNotifier{}, WithClock(at(partyTime.Add(-9*time.Minute))))
	batches, err = s.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, id, b.PartyID)
	assert.Equal(t, "Album Club", b.Topic)
	assert.Equal(t, scope, b.Scope)
	assert.Equal(t, []model.Recipient{{UserID: "42", UserTag: "listener#0042"}}, b.Recipients)
	assert.NotEmpty(t, b.ID)

	due, err := st.FindDueForNotification(ctx, partyTime)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed party must be flagged as pinged")

	later := New(sl.Discard(), st, st, &recordingNotifier{}, WithClock(at(partyTime.Add(-8*time.Minute))))
	batches, err = later.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestSweep_ConcurrentSweepsSplitDueSet(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	want := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		id := createParty(t, st, fmt.Sprintf("Party %d", i), partyTime.Add(time.Duration(i)*time.Minute))
		want[id] = true
	}

	s := New(sl.Discard(), st, st, &recordingNotifier{}, WithClock(at(partyTime.Add(-5*time.Minute))))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches, err := s.Sweep(ctx)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, b := range batches {
				seen[b.PartyID]++
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, len(want))
	for id, n := range seen {
		assert.True(t, want[id], "unexpected party %d", id)
		assert.Equal(t, 1, n, "party %d claimed %d times", id, n)
	}
}

func TestSweep_EmptyRosterStillEmitted(t *testing.T) {
	st := newStore(t)
	createParty(t, st, "Quiet Party", partyTime)

	s := New(sl.Discard(), st, st, &recordingNotifier{}, WithClock(at(partyTime.Add(-time.Minute))))
	batches, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.NotNil(t, batches[0].Recipients)
	assert.Empty(t, batches[0].Recipients)
}

func TestSweep_CustomWindow(t *testing.T) {
	st := newStore(t)
	createParty(t, st, "Album Club", partyTime)

	s := New(sl.Discard(), st, st, &recordingNotifier{},
		WithWindow(30*time.Minute),
		WithClock(at(partyTime.Add(-25*time.Minute))),
	)
	batches, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestRunOnce_DeliveryFailureKeepsClaim(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	createParty(t, st, "Album Club", partyTime)

	m := metrics.New()
	notifier := &recordingNotifier{err: errors.New("broker down")}
	s := New(sl.Discard(), st, st, notifier,
		WithClock(at(partyTime.Add(-9*time.Minute))),
		WithMetrics(m),
	)

	s.RunOnce(ctx)
	require.Len(t, notifier.batches, 1)

	s.RunOnce(ctx)
	assert.Len(t, notifier.batches, 1, "failed delivery must not be retried")
	const want = `
# HELP listening_party_delivery_failures_total Notification batches the delivery channel rejected.
# TYPE listening_party_delivery_failures_total counter
listening_party_delivery_failures_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "listening_party_delivery_failures_total"))
}

type failingStore struct{}

func (failingStore) FindDueForNotification(context.Context, time.Time) ([]model.Party, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) ClaimForNotification(context.Context, []int64) ([]int64, error) {
	return nil, nil
}

func TestSweep_StoreErrorSurfaces(t *testing.T) {
	st := newStore(t)
	s := New(sl.Discard(), failingStore{}, st, &recordingNotifier{})

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

type partialClaimStore struct {
	due []model.Party
}

func (s partialClaimStore) FindDueForNotification(context.Context, time.Time) ([]model.Party, error) {
	return s.due, nil
}

func (partialClaimStore) ClaimForNotification(context.Context, []int64) ([]int64, error) {
	return []int64{1}, errors.New("disk I/O error on party 2")
}

func TestRunOnce_PartialClaimStillDelivered(t *testing.T) {
	store := partialClaimStore{due: []model.Party{
		{ID: 1, Topic: "Album Club", Start: partyTime, End: partyTime.Add(time.Hour), Scope: scope, Owner: "owner#0001"},
		{ID: 2, Topic: "B-Sides", Start: partyTime, End: partyTime.Add(time.Hour), Scope: scope, Owner: "owner#0001"},
	}}
	m := metrics.New()
	notifier := &recordingNotifier{}
	s := New(sl.Discard(), store, newStore(t), notifier,
		WithClock(at(partyTime.Add(-5*time.Minute))),
		WithMetrics(m),
	)

	batches, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	require.Len(t, batches, 1)
	assert.Equal(t, int64(1), batches[0].PartyID)

	s.RunOnce(context.Background())
	require.Len(t, notifier.batches, 1)
	assert.Equal(t, int64(1), notifier.batches[0].PartyID)

	const want = `
# HELP listening_party_notifications_claimed_total Parties claimed for their pre-start notification.
# TYPE listening_party_notifications_claimed_total counter
listening_party_notifications_claimed_total 1
# HELP listening_party_sweeps_total Notification sweeps by result.
# TYPE listening_party_sweeps_total counter
listening_party_sweeps_total{result="error"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"listening_party_notifications_claimed_total", "listening_party_sweeps_total"))
}

func TestStartStop(t *testing.T) {
	st := newStore(t)
	s := New(sl.Discard(), st, st, &recordingNotifier{})

	require.Error(t, s.Start("not a schedule"))

	require.NoError(t, s.Start("@every 1h"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
