package cache

import (
	"context"
	"database/sql"
	"path"
	"strconv"
	"time"
)

// Store is the durable backend over the cache_entries table, shared across
// processes that point at the same database.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expires sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key=?`, key).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if s.expired(expires) {
		_, _ = s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key=?`, key)
		return "", false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO cache_entries(key,value,expires_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, s.deadline(ttl))
	return err
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key=?`, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var n int64
	var value string
	var expires sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key=?`, key).Scan(&value, &expires)
	switch {
	case err == sql.ErrNoRows || s.expired(expires):
		n = 0
	case err != nil:
		return 0, err
	default:
		n, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	n++
	if _, err := tx.ExecContext(ctx, `INSERT INTO cache_entries(key,value,expires_at) VALUES (?,?,NULL)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, strconv.FormatInt(n, 10)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE cache_entries SET expires_at=? WHERE key=?`, s.deadline(ttl), key)
	return err
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var expires sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT expires_at FROM cache_entries WHERE key=?`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !expires.Valid {
		return NoTTL, nil
	}
	deadline, err := time.Parse(time.RFC3339, expires.String)
	if err != nil {
		return 0, err
	}
	remaining := deadline.Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, expires_at FROM cache_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		var expires sql.NullString
		if err := rows.Scan(&key, &expires); err != nil {
			return nil, err
		}
		if s.expired(expires) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (s *Store) deadline(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return s.now().Add(ttl).UTC().Format(time.RFC3339)
}

func (s *Store) expired(expires sql.NullString) bool {
	if !expires.Valid {
		return false
	}
	deadline, err := time.Parse(time.RFC3339, expires.String)
	if err != nil {
		return true
	}
	return s.now().After(deadline)
}
