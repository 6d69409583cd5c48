// Package repository implements the party store on PostgreSQL using pgx.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested party or enrollment does not exist
// (or the party is in another scope, or already started).
var ErrNotFound = errors.New("not found")

// ErrAlreadyEnrolled is returned when the same user joins a party twice.
var ErrAlreadyEnrolled = errors.New("user already enrolled in this party")

// ErrOverlap is returned when the store itself rejects a write because the
// interval overlaps another party in the same scope.
var ErrOverlap = errors.New("party overlaps an existing party in this channel")

// PostgreSQL error codes the store maps onto sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgExclusionViolation  = "23P01"
)

const partyColumns = `id, topic, start_at, end_at, guild_id, channel_id, owner, ping_sent, created_at`

// PartyRepository handles persistence for listening parties.
type PartyRepository struct {
	db *pgxpool.Pool
}

// NewPartyRepository constructs a PartyRepository.
func NewPartyRepository(db *pgxpool.Pool) *PartyRepository {
	return &PartyRepository{db: db}
}

// CreateParty inserts a party and returns its store-assigned id.
func (r *PartyRepository) CreateParty(ctx context.Context, p model.Party) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO listening_parties (topic, start_at, end_at, guild_id, channel_id, owner, ping_sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		 RETURNING id`,
		p.Topic, p.Start.UTC(), p.End.UTC(), p.Scope.GuildID, p.Scope.ChannelID, p.Owner, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		if pgCode(err) == pgExclusionViolation {
			return 0, ErrOverlap
		}
		return 0, fmt.Errorf("insert party: %w", err)
	}
	return id, nil
}

// UpdatePartyTimes moves a not-yet-started party in scope to a new interval
// and reports rows affected.
func (r *PartyRepository) UpdatePartyTimes(ctx context.Context, scope model.Scope, id int64, start, end, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE listening_parties SET start_at = $5, end_at = $6
		 WHERE id = $1 AND guild_id = $2 AND channel_id = $3 AND start_at >= $4`,
		id, scope.GuildID, scope.ChannelID, now.UTC(), start.UTC(), end.UTC(),
	)
	if err != nil {
		if pgCode(err) == pgExclusionViolation {
			return 0, ErrOverlap
		}
		return 0, fmt.Errorf("update party: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteParty removes a not-yet-started party in scope. Enrollments cascade.
func (r *PartyRepository) DeleteParty(ctx context.Context, scope model.Scope, id int64, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM listening_parties
		 WHERE id = $1 AND guild_id = $2 AND channel_id = $3 AND start_at >= $4`,
		id, scope.GuildID, scope.ChannelID, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete party: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindParty returns a not-yet-started party in scope or ErrNotFound.
func (r *PartyRepository) FindParty(ctx context.Context, scope model.Scope, id int64, now time.Time) (*model.Party, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+partyColumns+`
		 FROM listening_parties
		 WHERE id = $1 AND guild_id = $2 AND channel_id = $3 AND start_at >= $4`,
		id, scope.GuildID, scope.ChannelID, now.UTC(),
	)
	p, err := scanParty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get party: %w", err)
	}
	return p, nil
}

// FindOverlapping returns parties in scope whose interval overlaps
// [start, end). A non-zero excludeID leaves that party out, which lets a party
// be moved onto a slot that overlaps its own current one.
func (r *PartyRepository) FindOverlapping(ctx context.Context, scope model.Scope, start, end time.Time, excludeID int64) ([]model.Party, error) {
	return r.list(ctx, "find overlapping",
		`SELECT `+partyColumns+`
		 FROM listening_parties
		 WHERE guild_id = $1 AND channel_id = $2
		   AND start_at < $4 AND $3 < end_at
		   AND id <> $5
		 ORDER BY start_at ASC`,
		scope.GuildID, scope.ChannelID, start.UTC(), end.UTC(), excludeID,
	)
}

// FindUpcoming returns parties in scope starting within [from, to].
func (r *PartyRepository) FindUpcoming(ctx context.Context, scope model.Scope, from, to time.Time) ([]model.Party, error) {
	return r.list(ctx, "find upcoming",
		`SELECT `+partyColumns+`
		 FROM listening_parties
		 WHERE guild_id = $1 AND channel_id = $2
		   AND start_at >= $3 AND start_at <= $4
		 ORDER BY start_at ASC`,
		scope.GuildID, scope.ChannelID, from.UTC(), to.UTC(),
	)
}

// FindDueForNotification returns unpinged parties starting at or before cutoff.
func (r *PartyRepository) FindDueForNotification(ctx context.Context, cutoff time.Time) ([]model.Party, error) {
	return r.list(ctx, "find due",
		`SELECT `+partyColumns+`
		 FROM listening_parties
		 WHERE ping_sent = FALSE AND start_at <= $1
		 ORDER BY start_at ASC`,
		cutoff.UTC(),
	)
}

// ClaimForNotification flips ping_sent for the given ids and returns only the
// ids this call flipped.
//
// The conditional `ping_sent = FALSE` is re-evaluated after any row lock wait,
// so when two sweeps race on the same row the loser sees it already claimed
// and does not return it. Each party is therefore claimed exactly once.
func (r *PartyRepository) ClaimForNotification(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`UPDATE listening_parties
		 SET ping_sent = TRUE
		 WHERE id = ANY($1) AND ping_sent = FALSE
		 RETURNING id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("claim parties: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan claimed id: %w", err)
	}
	return claimed, nil
}

func (r *PartyRepository) list(ctx context.Context, what, query string, args ...any) ([]model.Party, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var parties []model.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		parties = append(parties, *p)
	}
	return parties, rows.Err()
}

func scanParty(row pgx.Row) (*model.Party, error) {
	var p model.Party
	err := row.Scan(&p.ID, &p.Topic, &p.Start, &p.End, &p.Scope.GuildID, &p.Scope.ChannelID, &p.Owner, &p.PingSent, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Start, p.End, p.CreatedAt = p.Start.UTC(), p.End.UTC(), p.CreatedAt.UTC()
	return &p, nil
}

// EnrollmentRepository handles persistence for enrollments.
type EnrollmentRepository struct {
	db *pgxpool.Pool
}

// NewEnrollmentRepository constructs an EnrollmentRepository.
func NewEnrollmentRepository(db *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Enroll records a user's sign-up.
//
// The (party_id, user_id) unique constraint is the real guard against double
// enrollment: two concurrent joins can both pass the service-level lookup, but
// only one INSERT commits; the other gets 23505 and maps to
// ErrAlreadyEnrolled. A party deleted between lookup and insert trips the
// foreign key instead and maps to ErrNotFound.
func (r *EnrollmentRepository) Enroll(ctx context.Context, partyID int64, userID, userTag string) (*model.Enrollment, error) {
	e := &model.Enrollment{
		ID:        uuid.New().String(),
		PartyID:   partyID,
		UserID:    userID,
		UserTag:   userTag,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO enrollments (id, party_id, user_id, user_tag, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.PartyID, e.UserID, e.UserTag, e.CreatedAt,
	)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return nil, ErrAlreadyEnrolled
		case pgForeignKeyViolation:
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}
	return e, nil
}

// FindEnrollment returns the user's enrollment in a party or ErrNotFound.
func (r *EnrollmentRepository) FindEnrollment(ctx context.Context, partyID int64, userID string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.db.QueryRow(ctx,
		`SELECT id, party_id, user_id, user_tag, created_at
		 FROM enrollments WHERE party_id = $1 AND user_id = $2`,
		partyID, userID,
	).Scan(&e.ID, &e.PartyID, &e.UserID, &e.UserTag, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &e, nil
}

// ListEnrollments returns all enrollments for a party in sign-up order.
func (r *EnrollmentRepository) ListEnrollments(ctx context.Context, partyID int64) ([]model.Enrollment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, party_id, user_id, user_tag, created_at
		 FROM enrollments
		 WHERE party_id = $1
		 ORDER BY created_at ASC`,
		partyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.ID, &e.PartyID, &e.UserID, &e.UserTag, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
