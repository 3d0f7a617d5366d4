package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/similarity"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps JSON blobs in two tables. Upserts rely on
// INSERT ... ON CONFLICT for per-key atomicity.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-process database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE type = ? AND id = ?`, string(mediaType), id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UnifiedRecord{}, false, nil
		}
		return domain.UnifiedRecord{}, false, err
	}
	var record domain.UnifiedRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return domain.UnifiedRecord{}, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, record domain.UnifiedRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (type, id, search, data, stored_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(type, id) DO NOTHING`,
		string(record.Type), record.ID, searchText(record), string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) ReplaceRecord(ctx context.Context, record domain.UnifiedRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (type, id, search, data, stored_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(type, id) DO UPDATE SET search = excluded.search, data = excluded.data, stored_at = excluded.stored_at`,
		string(record.Type), record.ID, searchText(record), string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// likePattern escapes LIKE wildcards in value and wraps it for substring match.
func likePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(value) + "%"
}

func (s *SQLiteStore) FindRecords(ctx context.Context, query string, mediaType domain.MediaType, limit int) ([]domain.UnifiedRecord, error) {
	normalized := similarity.Normalize(query)
	if normalized == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE type = ? AND search LIKE ? ESCAPE '\' LIMIT ?`,
		string(mediaType), likePattern(normalized), scanLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]domain.UnifiedRecord, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var record domain.UnifiedRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		candidates = append(candidates, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankRecords(candidates, query, limit), nil
}

func (s *SQLiteStore) GetDerivative(ctx context.Context, key domain.DerivativeKey) (domain.CachedDerivative, bool, error) {
	var (
		providerID string
		data       string
		cachedAt   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT provider_id, data, last_cached_at FROM derivatives WHERE cache_key = ?`, key.String(),
	).Scan(&providerID, &data, &cachedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CachedDerivative{}, false, nil
		}
		return domain.CachedDerivative{}, false, err
	}
	lastCachedAt, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil {
		return domain.CachedDerivative{}, false, fmt.Errorf("parse cached_at for %s: %w", key, err)
	}
	return domain.CachedDerivative{
		Key:          key,
		ProviderID:   providerID,
		Data:         json.RawMessage(data),
		LastCachedAt: lastCachedAt,
	}, true, nil
}

func (s *SQLiteStore) PutDerivative(ctx context.Context, derivative domain.CachedDerivative) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO derivatives (cache_key, record_id, sub_key, kind, provider_id, data, last_cached_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(cache_key) DO UPDATE SET
             provider_id = excluded.provider_id,
             data = excluded.data,
             last_cached_at = excluded.last_cached_at`,
		derivative.Key.String(),
		derivative.Key.ID,
		derivative.Key.SubKey,
		string(derivative.Key.Kind),
		derivative.ProviderID,
		string(derivative.Data),
		derivative.LastCachedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "sqlite", Records: map[string]int{}}
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM records GROUP BY type`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mediaType string
			count     int
		)
		if err := rows.Scan(&mediaType, &count); err != nil {
			return Stats{}, err
		}
		stats.Records[mediaType] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM derivatives`).Scan(&stats.Derivatives); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
