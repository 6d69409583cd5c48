package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
	"github.com/Shivanand-hulikatti/listening-parties/internal/repository"
)

var (
	scope = model.Scope{GuildID: "g1", ChannelID: "c1"}
	base  = time.Date(2030, 1, 1, 18, 0, 0, 0, time.UTC)
)

func openStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insert(t *testing.T, s *Storage, start time.Time, hours int) int64 {
	t.Helper()
	id, err := s.CreateParty(context.Background(), model.Party{
		Topic: "Album Club",
		Start: start,
		End:   start.Add(time.Duration(hours) * time.Hour),
		Scope: scope,
		Owner: "owner#0001",
	})
	require.NoError(t, err)
	return id
}

func TestStorage_PartyRoundTrip(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	id := insert(t, s, base, 1)

	p, err := s.FindParty(ctx, scope, id, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Album Club", p.Topic)
	assert.Equal(t, base, p.Start)
	assert.Equal(t, base.Add(time.Hour), p.End)
	assert.Equal(t, scope, p.Scope)
	assert.False(t, p.PingSent)

	_, err = s.FindParty(ctx, scope, id, base.Add(time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound, "started parties are not found")

	_, err = s.FindParty(ctx, model.Scope{GuildID: "g1", ChannelID: "c2"}, id, base.Add(-time.Hour))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStorage_FindOverlapping(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	id := insert(t, s, base, 1)

	got, err := s.FindOverlapping(ctx, scope, base.Add(30*time.Minute), base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)

	got, err = s.FindOverlapping(ctx, scope, base.Add(time.Hour), base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, got, "touching intervals do not overlap")

	got, err = s.FindOverlapping(ctx, scope, base.Add(-time.Hour), base, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.FindOverlapping(ctx, scope, base, base.Add(time.Hour), id)
	require.NoError(t, err)
	assert.Empty(t, got, "excluded party is left out")
}

func TestStorage_UpdateAndDelete(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	id := insert(t, s, base, 1)

	n, err := s.UpdatePartyTimes(ctx, model.Scope{GuildID: "g1", ChannelID: "c2"}, id, base.Add(2*time.Hour), base.Add(3*time.Hour), base)
	require.NoError(t, err)
	assert.Zero(t, n, "parties in another channel are not moved")

	n, err = s.UpdatePartyTimes(ctx, scope, id, base.Add(2*time.Hour), base.Add(3*time.Hour), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "started parties cannot be moved")

	n, err = s.UpdatePartyTimes(ctx, scope, id, base.Add(2*time.Hour), base.Add(3*time.Hour), base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.UpdatePartyTimes(ctx, scope, 999, base, base.Add(time.Hour), base)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteParty(ctx, scope, id, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "started parties cannot be deleted")

	n, err = s.DeleteParty(ctx, scope, id, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStorage_Enrollments(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	id := insert(t, s, base, 1)

	first, err := s.Enroll(ctx, id, "1", "a#1")
	require.NoError(t, err)
	_, err = s.Enroll(ctx, id, "2", "b#2")
	require.NoError(t, err)

	_, err = s.Enroll(ctx, id, "1", "a#1")
	assert.ErrorIs(t, err, repository.ErrAlreadyEnrolled)

	_, err = s.Enroll(ctx, 999, "1", "a#1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := s.FindEnrollment(ctx, id, "1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.FindEnrollment(ctx, id, "3")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	list, err := s.ListEnrollments(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a#1", list[0].UserTag)
	assert.Equal(t, "b#2", list[1].UserTag)

	_, err = s.DeleteParty(ctx, scope, id, base.Add(-time.Hour))
	require.NoError(t, err)
	list, err = s.ListEnrollments(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStorage_ClaimForNotification(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	a := insert(t, s, base, 1)
	b := insert(t, s, base.Add(time.Hour), 1)
	insert(t, s, base.Add(time.Hour*5), 1)

	due, err := s.FindDueForNotification(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)

	claimed, err := s.ClaimForNotification(ctx, []int64{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, claimed)

	claimed, err = s.ClaimForNotification(ctx, []int64{a, b})
	require.NoError(t, err)
	assert.Empty(t, claimed)

	due, err = s.FindDueForNotification(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func newMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS listening_parties").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(db)
	require.NoError(t, err)
	return s, mock
}

func TestStorage_MigrateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("read-only file system"))
	_, err = New(db)
	assert.ErrorContains(t, err, "read-only file system")
}

func TestStorage_EnrollClassifiesConstraintErrors(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: enrollments.party_id, enrollments.user_id (2067)"))
	_, err := s.Enroll(ctx, 1, "1", "a#1")
	assert.ErrorIs(t, err, repository.ErrAlreadyEnrolled)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(errors.New("constraint failed: FOREIGN KEY constraint failed (787)"))
	_, err = s.Enroll(ctx, 1, "1", "a#1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mock.ExpectExec("INSERT INTO enrollments").WillReturnError(errors.New("database is locked"))
	_, err = s.Enroll(ctx, 1, "1", "a#1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrAlreadyEnrolled)
	assert.NotErrorIs(t, err, repository.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ClaimStopsAtFirstError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("UPDATE listening_parties SET ping_sent = 1").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE listening_parties SET ping_sent = 1").
		WithArgs(int64(2)).
		WillReturnError(errors.New("disk I/O error"))

	claimed, err := s.ClaimForNotification(context.Background(), []int64{1, 2, 3})
	assert.ErrorContains(t, err, "disk I/O error")
	assert.Equal(t, []int64{1}, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_QueryErrors(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM listening_parties").WillReturnError(errors.New("no such table"))
	_, err := s.FindUpcoming(ctx, scope, base, base.Add(time.Hour))
	assert.ErrorContains(t, err, "storage.sqlite.FindUpcoming")

	mock.ExpectQuery("SELECT (.+) FROM listening_parties").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	_, err = s.FindDueForNotification(ctx, base)
	assert.Error(t, err, "short rows fail to scan")

	assert.NoError(t, mock.ExpectationsWereMet())
}
