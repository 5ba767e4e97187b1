package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements ProfileStore, SettingsStore, FollowStore and
// CacheStore on top of the shared *sql.DB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const profileColumns = `id, username, first_name, last_name, age, bio, city, state, latitude, longitude, hashtags, is_active`

func scanProfile(row interface{ Scan(...interface{}) error }) (*UserProfile, error) {
	var p UserProfile
	var age sql.NullInt64
	var lat, lon sql.NullFloat64
	var hashtags []byte
	err := row.Scan(&p.ID, &p.Username, &p.FirstName, &p.LastName, &age, &p.Bio,
		&p.City, &p.State, &lat, &lon, &hashtags, &p.IsActive)
	if err != nil {
		return nil, err
	}
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lon.Valid {
		p.Longitude = &lon.Float64
	}
	if len(hashtags) > 0 {
		_ = json.Unmarshal(hashtags, &p.Hashtags)
	}
	return &p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID int) (*UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM users WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	return p, err
}

// ListCandidates applies the coarse population filter in SQL: active
// accounts, not the requester, age inside the requester's preferred range.
// NULL ages fail the comparison and drop out, matching the index-level
// behavior of the age pre-filter.
func (s *PostgresStore) ListCandidates(ctx context.Context, f CandidateFilter) ([]*UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users
        WHERE is_active = TRUE
          AND id <> $1
          AND age >= $2 AND age <= $3`
	if f.RequireCoords {
		query += ` AND latitude IS NOT NULL AND longitude IS NOT NULL`
	}

	rows, err := s.db.QueryContext(ctx, query, f.ExcludeUserID, f.MinAge, f.MaxAge)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, p)
	}
	return candidates, rows.Err()
}

const settingsColumns = `user_id, likes_notifications, shares_notifications, matches_notifications,
        messages_notifications, profile_visibility, show_location, allow_messages, show_online_status,
        location_radius, min_age, max_age, show_distance, theme, font_size`

func scanSettings(row interface{ Scan(...interface{}) error }) (*UserSettings, error) {
	var st UserSettings
	err := row.Scan(&st.UserID, &st.LikesNotifications, &st.SharesNotifications,
		&st.MatchesNotifications, &st.MessagesNotifications, &st.ProfileVisibility,
		&st.ShowLocation, &st.AllowMessages, &st.ShowOnlineStatus, &st.LocationRadius,
		&st.MinAge, &st.MaxAge, &st.ShowDistance, &st.Theme, &st.FontSize)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetOrCreateSettings returns the user's settings row, creating the default
// one on first access. Never reports a missing row as an error.
func (s *PostgresStore) GetOrCreateSettings(ctx context.Context, userID int) (*UserSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM user_settings WHERE user_id = $1`, userID)
	st, err := scanSettings(row)
	if err == nil {
		return st, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO user_settings (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO NOTHING
    `, userID)
	if err != nil {
		return nil, err
	}
	return defaultSettings(userID), nil
}

func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, followingID int) (bool, error) {
	var following bool
	err := s.db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2
        )
    `, followerID, followingID).Scan(&following)
	return following, err
}

func (s *PostgresStore) FindValidEntry(ctx context.Context, userID int, cacheKey string, now time.Time) (*CacheEntry, error) {
	var e CacheEntry
	err := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, cache_key, fingerprint, payload, page, page_size, total_matches,
               created_at, expires_at, is_valid
        FROM recommendation_cache
        WHERE user_id = $1 AND cache_key = $2 AND is_valid = TRUE AND expires_at > $3
    `, userID, cacheKey, now).Scan(
		&e.ID, &e.UserID, &e.CacheKey, &e.Fingerprint, (*[]byte)(&e.Payload),
		&e.Page, &e.PageSize, &e.TotalMatches, &e.CreatedAt, &e.ExpiresAt, &e.IsValid,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PutEntry invalidates every valid entry of the owning user and inserts the
// new page in one transaction, so a concurrent lookup can never observe two
// valid entries for the same user.
func (s *PostgresStore) PutEntry(ctx context.Context, entry *CacheEntry) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
            UPDATE recommendation_cache SET is_valid = FALSE
            WHERE user_id = $1 AND is_valid = TRUE
        `, entry.UserID); err != nil {
			return err
		}
		_, err := tx.Exec(`
            INSERT INTO recommendation_cache
                (user_id, cache_key, fingerprint, payload, page, page_size, total_matches, created_at, expires_at, is_valid)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
            ON CONFLICT (cache_key) DO UPDATE SET
                payload = EXCLUDED.payload,
                total_matches = EXCLUDED.total_matches,
                created_at = EXCLUDED.created_at,
                expires_at = EXCLUDED.expires_at,
                is_valid = TRUE
        `, entry.UserID, entry.CacheKey, entry.Fingerprint, []byte(entry.Payload),
			entry.Page, entry.PageSize, entry.TotalMatches, entry.CreatedAt, entry.ExpiresAt)
		return err
	})
}

func (s *PostgresStore) InvalidateUserEntries(ctx context.Context, userID int) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE recommendation_cache SET is_valid = FALSE
        WHERE user_id = $1 AND is_valid = TRUE
    `, userID)
	return err
}

func (s *PostgresStore) MarkExpiredEntries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE recommendation_cache SET is_valid = FALSE
        WHERE is_valid = TRUE AND expires_at < $1
    `, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) PurgeInvalidEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM recommendation_cache
        WHERE is_valid = FALSE AND created_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
