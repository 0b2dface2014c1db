// Package db is the Postgres Store backend. Counter mutations are single
// UPDATE statements so the read-modify-write race never exists at this
// layer; handle uniqueness rides on a unique index and surfaces as a typed
// error.
package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/profile"
	"github.com/raichat/social/storage"
	"github.com/raichat/social/storage/models"
)

const pgUniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const getProfileQuery = `
SELECT id, display_name, handle, bio, avatar_ref, tier, is_paid_tier, follower_count, version, created_at
FROM profiles WHERE id = $1`

func (s *Store) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	return s.scanProfile(s.pool.QueryRow(ctx, getProfileQuery, id))
}

const getProfileByHandleQuery = `
SELECT id, display_name, handle, bio, avatar_ref, tier, is_paid_tier, follower_count, version, created_at
FROM profiles WHERE handle = $1`

func (s *Store) GetProfileByHandle(ctx context.Context, handle string) (models.Profile, error) {
	return s.scanProfile(s.pool.QueryRow(ctx, getProfileByHandleQuery, handle))
}

func (s *Store) scanProfile(row pgx.Row) (models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID, &p.DisplayName, &p.Handle, &p.Bio, &p.AvatarRef,
		&p.Tier, &p.IsPaidTier, &p.FollowerCount, &p.Version, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Profile{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

const putProfileQuery = `
INSERT INTO profiles (id, display_name, handle, bio, avatar_ref, tier, is_paid_tier, follower_count, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    display_name = excluded.display_name,
    handle = excluded.handle,
    bio = excluded.bio,
    avatar_ref = excluded.avatar_ref,
    tier = excluded.tier,
    is_paid_tier = excluded.is_paid_tier,
    follower_count = excluded.follower_count,
    version = excluded.version`

func (s *Store) PutProfile(ctx context.Context, p models.Profile) error {
	_, err := s.pool.Exec(
		ctx, putProfileQuery,
		p.ID, p.DisplayName, p.Handle, p.Bio, p.AvatarRef,
		p.Tier, p.IsPaidTier, p.FollowerCount, p.Version, p.CreatedAt,
	)
	return translateHandleViolation(err)
}

const putProfileVersionedQuery = `
UPDATE profiles SET
    display_name = $2,
    handle = $3,
    bio = $4,
    avatar_ref = $5,
    tier = $6,
    is_paid_tier = $7,
    version = version + 1
WHERE id = $1 AND version = $8`

func (s *Store) PutProfileVersioned(ctx context.Context, p models.Profile, expectedVersion int64) error {
	tag, err := s.pool.Exec(
		ctx, putProfileVersionedQuery,
		p.ID, p.DisplayName, p.Handle, p.Bio, p.AvatarRef,
		p.Tier, p.IsPaidTier, expectedVersion,
	)
	if err != nil {
		return translateHandleViolation(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, p.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrWriteConflict
	}
	return nil
}

// The CTE carries the pre-update value out so a clamped decrement can be
// logged as the defect it is.
const incrementFollowerCountQuery = `
WITH prev AS (SELECT follower_count FROM profiles WHERE id = $1)
UPDATE profiles SET follower_count = GREATEST(follower_count + $2, 0)
WHERE id = $1
RETURNING follower_count, (SELECT follower_count FROM prev)`

func (s *Store) IncrementFollowerCount(ctx context.Context, id string, delta int64) (int64, error) {
	var count, prev int64
	err := s.pool.QueryRow(ctx, incrementFollowerCountQuery, id, delta).Scan(&count, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if prev+delta < 0 {
		log.Warnf("Follower count underflow on %s (%d%+d), clamped to 0", id, prev, delta)
	}
	return count, nil
}

const createFollowQuery = `
INSERT INTO follows (followee_id, follower_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (followee_id, follower_id) DO NOTHING`

func (s *Store) CreateFollow(ctx context.Context, edge models.FollowEdge) error {
	tag, err := s.pool.Exec(ctx, createFollowQuery, edge.FolloweeID, edge.FollowerID, edge.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAlreadyFollowing
	}
	return nil
}

func (s *Store) DeleteFollow(ctx context.Context, followeeID, followerID string) error {
	tag, err := s.pool.Exec(
		ctx,
		`DELETE FROM follows WHERE followee_id = $1 AND follower_id = $2`,
		followeeID, followerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFollowing
	}
	return nil
}

func (s *Store) FollowExists(ctx context.Context, followeeID, followerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE followee_id = $1 AND follower_id = $2)`,
		followeeID, followerID,
	).Scan(&exists)
	return exists, err
}

func (s *Store) CountFollowers(ctx context.Context, followeeID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM follows WHERE followee_id = $1`,
		followeeID,
	).Scan(&count)
	return count, err
}

func (s *Store) ListProfileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM profiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// The no-op conflict update makes RETURNING yield the stored document when
// one exists and the default document when the insert won.
const getSettingsQuery = `
INSERT INTO settings (user_id, doc)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET user_id = excluded.user_id
RETURNING doc`

func (s *Store) GetSettings(ctx context.Context, userID string) (json.RawMessage, error) {
	var doc json.RawMessage
	err := s.pool.QueryRow(ctx, getSettingsQuery, userID, models.DefaultSettings()).Scan(&doc)
	return doc, err
}

func (s *Store) PutSettings(ctx context.Context, userID string, doc json.RawMessage) error {
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO settings (user_id, doc) VALUES ($1, $2)
         ON CONFLICT (user_id) DO UPDATE SET doc = excluded.doc`,
		userID, doc,
	)
	return err
}

func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.pool.QueryRow(
		ctx,
		`SELECT cursor FROM subscription_state WHERE service = $1`,
		service,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO subscription_state (service, cursor) VALUES ($1, $2)
         ON CONFLICT (service) DO UPDATE SET cursor = excluded.cursor`,
		service, cursor,
	)
	return err
}

func translateHandleViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "profiles_handle_key" {
		return profile.ErrHandleTaken
	}
	return err
}
