// Package sqlite implements the party store on an embedded SQLite database.
// It backs single-instance deployments and the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
	"github.com/Shivanand-hulikatti/listening-parties/internal/repository"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Storage is a SQLite party and enrollment store. Instants are stored as
// unix seconds so range comparisons are plain integer comparisons.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and migrates it.
func Open(path string) (*Storage, error) {
	const op = "storage.sqlite.Open"

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// A single writer connection serialises statements, so conditional
	// updates never interleave.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// New wraps an existing handle and ensures the schema exists.
func New(db *sql.DB) (*Storage, error) {
	s := &Storage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS listening_parties (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		topic      TEXT    NOT NULL,
		start_at   INTEGER NOT NULL,
		end_at     INTEGER NOT NULL,
		guild_id   TEXT    NOT NULL,
		channel_id TEXT    NOT NULL,
		owner      TEXT    NOT NULL,
		ping_sent  INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		CHECK (start_at < end_at)
	);
	CREATE INDEX IF NOT EXISTS listening_parties_scope_start_idx
		ON listening_parties (guild_id, channel_id, start_at);
	CREATE TABLE IF NOT EXISTS enrollments (
		id         TEXT    PRIMARY KEY,
		party_id   INTEGER NOT NULL REFERENCES listening_parties (id) ON DELETE CASCADE,
		user_id    TEXT    NOT NULL,
		user_tag   TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (party_id, user_id)
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.sqlite.migrate: %w", err)
	}
	return nil
}

const partyColumns = `id, topic, start_at, end_at, guild_id, channel_id, owner, ping_sent, created_at`

func (s *Storage) CreateParty(ctx context.Context, p model.Party) (int64, error) {
	const op = "storage.sqlite.CreateParty"

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO listening_parties (topic, start_at, end_at, guild_id, channel_id, owner, ping_sent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		p.Topic, p.Start.Unix(), p.End.Unix(), p.Scope.GuildID, p.Scope.ChannelID, p.Owner, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Storage) UpdatePartyTimes(ctx context.Context, scope model.Scope, id int64, start, end, now time.Time) (int64, error) {
	const op = "storage.sqlite.UpdatePartyTimes"

	res, err := s.db.ExecContext(ctx,
		`UPDATE listening_parties SET start_at = ?, end_at = ?
		 WHERE id = ? AND guild_id = ? AND channel_id = ? AND start_at >= ?`,
		start.Unix(), end.Unix(), id, scope.GuildID, scope.ChannelID, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected()
}

func (s *Storage) DeleteParty(ctx context.Context, scope model.Scope, id int64, now time.Time) (int64, error) {
	const op = "storage.sqlite.DeleteParty"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listening_parties
		 WHERE id = ? AND guild_id = ? AND channel_id = ? AND start_at >= ?`,
		id, scope.GuildID, scope.ChannelID, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected()
}

func (s *Storage) FindParty(ctx context.Context, scope model.Scope, id int64, now time.Time) (*model.Party, error) {
	const op = "storage.sqlite.FindParty"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM listening_parties
		 WHERE id = ? AND guild_id = ? AND channel_id = ? AND start_at >= ?`,
		id, scope.GuildID, scope.ChannelID, now.Unix(),
	)
	p, err := scanParty(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *Storage) FindOverlapping(ctx context.Context, scope model.Scope, start, end time.Time, excludeID int64) ([]model.Party, error) {
	return s.list(ctx, "storage.sqlite.FindOverlapping",
		`SELECT `+partyColumns+` FROM listening_parties
		 WHERE guild_id = ? AND channel_id = ? AND start_at < ? AND ? < end_at AND id <> ?
		 ORDER BY start_at ASC`,
		scope.GuildID, scope.ChannelID, end.Unix(), start.Unix(), excludeID,
	)
}

func (s *Storage) FindUpcoming(ctx context.Context, scope model.Scope, from, to time.Time) ([]model.Party, error) {
	return s.list(ctx, "storage.sqlite.FindUpcoming",
		`SELECT `+partyColumns+` FROM listening_parties
		 WHERE guild_id = ? AND channel_id = ? AND start_at >= ? AND start_at <= ?
		 ORDER BY start_at ASC`,
		scope.GuildID, scope.ChannelID, from.Unix(), to.Unix(),
	)
}

func (s *Storage) FindDueForNotification(ctx context.Context, cutoff time.Time) ([]model.Party, error) {
	return s.list(ctx, "storage.sqlite.FindDueForNotification",
		`SELECT `+partyColumns+` FROM listening_parties
		 WHERE ping_sent = 0 AND start_at <= ?
		 ORDER BY start_at ASC`,
		cutoff.Unix(),
	)
}

// ClaimForNotification runs one conditional update per id and returns the ids
// whose update actually flipped the flag.
func (s *Storage) ClaimForNotification(ctx context.Context, ids []int64) ([]int64, error) {
	const op = "storage.sqlite.ClaimForNotification"

	var claimed []int64
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE listening_parties SET ping_sent = 1 WHERE id = ? AND ping_sent = 0`, id)
		if err != nil {
			return claimed, fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("%s: %w", op, err)
		}
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (s *Storage) Enroll(ctx context.Context, partyID int64, userID, userTag string) (*model.Enrollment, error) {
	const op = "storage.sqlite.Enroll"

	e := &model.Enrollment{
		ID:        uuid.New().String(),
		PartyID:   partyID,
		UserID:    userID,
		UserTag:   userTag,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments (id, party_id, user_id, user_tag, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.PartyID, e.UserID, e.UserTag, e.CreatedAt.Unix(),
	)
	if err != nil {
		switch constraintOf(err) {
		case constraintUnique:
			return nil, fmt.Errorf("%s: %w", op, repository.ErrAlreadyEnrolled)
		case constraintForeignKey:
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *Storage) FindEnrollment(ctx context.Context, partyID int64, userID string) (*model.Enrollment, error) {
	const op = "storage.sqlite.FindEnrollment"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, party_id, user_id, user_tag, created_at FROM enrollments WHERE party_id = ? AND user_id = ?`,
		partyID, userID,
	)
	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *Storage) ListEnrollments(ctx context.Context, partyID int64) ([]model.Enrollment, error) {
	const op = "storage.sqlite.ListEnrollments"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, party_id, user_id, user_tag, created_at FROM enrollments
		 WHERE party_id = ? ORDER BY created_at ASC, rowid ASC`,
		partyID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var enrollments []model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		enrollments = append(enrollments, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return enrollments, nil
}

func (s *Storage) list(ctx context.Context, op, query string, args ...any) ([]model.Party, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var parties []model.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		parties = append(parties, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return parties, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParty(row scanner) (*model.Party, error) {
	var (
		p                     model.Party
		start, end, createdAt int64
		pingSent              int64
	)
	if err := row.Scan(&p.ID, &p.Topic, &start, &end, &p.Scope.GuildID, &p.Scope.ChannelID, &p.Owner, &pingSent, &createdAt); err != nil {
		return nil, err
	}
	p.Start = time.Unix(start, 0).UTC()
	p.End = time.Unix(end, 0).UTC()
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.PingSent = pingSent != 0
	return &p, nil
}

func scanEnrollment(row scanner) (*model.Enrollment, error) {
	var (
		e         model.Enrollment
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.PartyID, &e.UserID, &e.UserTag, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &e, nil
}

type constraint int

const (
	constraintNone constraint = iota
	constraintUnique
	constraintForeignKey
)

// constraintOf classifies a constraint failure by extended result code,
// falling back to the message for builds without extended codes.
func constraintOf(err error) constraint {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return constraintUnique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return constraintForeignKey
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return constraintUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return constraintForeignKey
	}
	return constraintNone
}
