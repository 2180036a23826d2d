package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gaomindu/prscreen/internal/database"
)

// DefaultTTL is effectively unbounded. Annual reports never change once
// filed; rows are only replaced when a wider merge supersedes them.
const DefaultTTL = 9999 * 24 * time.Hour

// Store persists cached records in the history database. Rows are keyed by
// cache key (code + covered range) with a secondary index on the code, so
// all cached ranges for a security can be enumerated without knowing any
// range in advance.
//
// A corrupt or unreadable row is never fatal: it is logged, skipped and the
// security degrades to a cache miss.
type Store struct {
	db  *database.DB
	ttl time.Duration
	log zerolog.Logger
}

// NewStore creates a history store with the default near-infinite TTL.
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		ttl: DefaultTTL,
		log: log.With().Str("component", "history-store").Logger(),
	}
}

// Get returns the widest readable cached record for the code, or nil when
// nothing usable is cached. Ties prefer the record with the most recent
// end year.
func (s *Store) Get(code string) (*CachedRecord, error) {
	rows, err := s.db.Query(
		`SELECT start_year, end_year, payload, written_at FROM fin_history
		 WHERE ts_code = ? AND expires_at > ?
		 ORDER BY (end_year - start_year) DESC, end_year DESC`,
		code, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", code, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := s.scanRecord(code, rows)
		if err != nil {
			// Corrupt row: demote to miss for this row only.
			s.log.Warn().Err(err).Str("ts_code", code).Msg("Unreadable cache row, skipping")
			continue
		}
		return rec, nil
	}
	return nil, rows.Err()
}

// Records returns every readable cached record for the code, ordered by
// start year. Disjoint ranges produce multiple records.
func (s *Store) Records(code string) ([]CachedRecord, error) {
	rows, err := s.db.Query(
		`SELECT start_year, end_year, payload, written_at FROM fin_history
		 WHERE ts_code = ? AND expires_at > ?
		 ORDER BY start_year ASC`,
		code, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", code, err)
	}
	defer rows.Close()

	var out []CachedRecord
	for rows.Next() {
		rec, err := s.scanRecord(code, rows)
		if err != nil {
			s.log.Warn().Err(err).Str("ts_code", code).Msg("Unreadable cache row, skipping")
			continue
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Put writes the record, superseding any rows for the same security whose
// covered range the new record subsumes. Rows covering years outside the new
// range are retained, so disjoint history is never dropped.
func (s *Store) Put(rec CachedRecord) error {
	payload, err := msgpack.Marshal(rec.Points)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", rec.Code, err)
	}

	writtenAt := rec.WrittenAt
	if writtenAt.IsZero() {
		writtenAt = time.Now()
	}
	expiresAt := writtenAt.Add(s.ttl).Unix()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		// Drop rows the new record fully covers.
		if _, err := tx.Exec(
			`DELETE FROM fin_history WHERE ts_code = ? AND start_year >= ? AND end_year <= ?`,
			rec.Code, rec.Range.Start, rec.Range.End,
		); err != nil {
			return fmt.Errorf("failed to supersede rows for %s: %w", rec.Code, err)
		}

		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO fin_history
			 (cache_key, ts_code, start_year, end_year, payload, written_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			EncodeKey(rec.Code, rec.Range), rec.Code, rec.Range.Start, rec.Range.End,
			payload, writtenAt.Unix(), expiresAt,
		); err != nil {
			return fmt.Errorf("failed to store record for %s: %w", rec.Code, err)
		}
		return nil
	})
}

// ScanAll performs the read-only batch lookup for the scan phase: one entry
// per requested code, nil where nothing usable is cached. No network
// dependency; lookup errors degrade to a miss for that code only.
func (s *Store) ScanAll(codes []string) map[string]*CachedRecord {
	out := make(map[string]*CachedRecord, len(codes))
	for _, code := range codes {
		rec, err := s.Get(code)
		if err != nil {
			s.log.Warn().Err(err).Str("ts_code", code).Msg("Cache lookup failed, treating as miss")
			rec = nil
		}
		out[code] = rec
	}
	return out
}

// Delete removes all cached rows for a security.
func (s *Store) Delete(code string) error {
	if _, err := s.db.Exec(`DELETE FROM fin_history WHERE ts_code = ?`, code); err != nil {
		return fmt.Errorf("failed to delete history for %s: %w", code, err)
	}
	return nil
}

// PurgeUnreadable deletes rows whose payload no longer decodes.
// Returns the number of rows removed.
func (s *Store) PurgeUnreadable() (int64, error) {
	rows, err := s.db.Query(`SELECT cache_key, payload FROM fin_history`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan history rows: %w", err)
	}
	defer rows.Close()

	var bad []string
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return 0, fmt.Errorf("failed to scan history row: %w", err)
		}
		var points []YearPoint
		if err := msgpack.Unmarshal(payload, &points); err != nil {
			bad = append(bad, key)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var purged int64
	for _, key := range bad {
		res, err := s.db.Exec(`DELETE FROM fin_history WHERE cache_key = ?`, key)
		if err != nil {
			return purged, fmt.Errorf("failed to purge row %s: %w", key, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			purged += n
		}
	}
	return purged, nil
}

// Info summarizes the cache contents for the info endpoint.
type Info struct {
	Records   int   `json:"records"`
	Entities  int   `json:"entities"`
	Years     int   `json:"years"`
	SizeBytes int64 `json:"size_bytes"`
}

// GetInfo returns cache statistics.
func (s *Store) GetInfo() (*Info, error) {
	info := &Info{}

	err := s.db.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT ts_code), COALESCE(SUM(end_year - start_year + 1), 0) FROM fin_history`,
	).Scan(&info.Records, &info.Entities, &info.Years)
	if err != nil {
		return nil, fmt.Errorf("failed to count history rows: %w", err)
	}

	if stats, err := s.db.GetStats(); err == nil {
		info.SizeBytes = stats.SizeBytes + stats.WALSizeBytes
	}
	return info, nil
}

// Checkpoint flushes the WAL during maintenance windows.
func (s *Store) Checkpoint() error {
	return s.db.WALCheckpoint("")
}

// Vacuum reclaims space during maintenance windows.
func (s *Store) Vacuum() error {
	return s.db.Vacuum()
}

// scanRecord decodes one store row into a CachedRecord and validates that
// the payload matches the covered range.
func (s *Store) scanRecord(code string, rows *sql.Rows) (*CachedRecord, error) {
	var startYear, endYear int
	var payload []byte
	var writtenAt int64
	if err := rows.Scan(&startYear, &endYear, &payload, &writtenAt); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	r, err := NewYearRange(startYear, endYear)
	if err != nil {
		return nil, fmt.Errorf("corrupt range: %w", err)
	}

	var points []YearPoint
	if err := msgpack.Unmarshal(payload, &points); err != nil {
		return nil, fmt.Errorf("corrupt payload: %w", err)
	}
	for _, p := range points {
		if !r.ContainsYear(p.Year) {
			return nil, fmt.Errorf("corrupt payload: year %d outside range %s", p.Year, r)
		}
	}
	sortPoints(points)

	return &CachedRecord{
		Code:      code,
		Range:     r,
		Points:    points,
		WrittenAt: time.Unix(writtenAt, 0),
	}, nil
}
