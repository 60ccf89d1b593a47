package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"mkts/internal/market"
)

// schemaVersion is stored in PRAGMA user_version. Older layouts are dropped
// on open since every row can be fetched again.
const schemaVersion = 2

// connPragmas run on every new connection, not just the first one
const connPragmas = "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// SQLiteStore persists cache entries to a SQLite file
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the cache database and runs migrations
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+connPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("sqlite cache opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	var stmts []string
	if version < schemaVersion {
		if version > 0 {
			slog.Info("dropping cache tables from an older schema", "version", version)
		}
		stmts = append(stmts,
			`DROP TABLE IF EXISTS cache_points`,
			`DROP TABLE IF EXISTS cache_entries`,
		)
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			provider   TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			range_key  TEXT NOT NULL,
			range_from TEXT NOT NULL,
			range_to   TEXT NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (provider, symbol, range_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_fetched ON cache_entries(provider, fetched_at)`,

		`CREATE TABLE IF NOT EXISTS cache_points (
			provider  TEXT NOT NULL,
			symbol    TEXT NOT NULL,
			range_key TEXT NOT NULL,
			date      TEXT NOT NULL,
			open      TEXT NOT NULL,
			high      TEXT NOT NULL,
			low       TEXT NOT NULL,
			close     TEXT NOT NULL,
			volume    INTEGER NOT NULL,
			PRIMARY KEY (provider, symbol, range_key, date),
			FOREIGN KEY (provider, symbol, range_key)
				REFERENCES cache_entries(provider, symbol, range_key) ON DELETE CASCADE
		)`,
		fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
	)

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			head, _, _ := strings.Cut(strings.TrimSpace(stmt), "(")
			return fmt.Errorf("exec %q: %w", head, err)
		}
	}
	return nil
}

// Save replaces the stored copy of e
func (s *SQLiteStore) Save(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := e.Key()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache_entries WHERE provider = ? AND symbol = ? AND range_key = ?`,
		k.Provider, k.Symbol.String(), k.Range); err != nil {
		return fmt.Errorf("delete old entry: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO cache_entries
		(provider, symbol, range_key, range_from, range_to, fetched_at)
		VALUES (?,?,?,?,?,?)`,
		k.Provider, k.Symbol.String(), k.Range,
		market.FormatDate(e.Range.From), market.FormatDate(e.Range.To),
		e.FetchedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO cache_points
		(provider, symbol, range_key, date, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare points: %w", err)
	}
	defer stmt.Close()

	for _, p := range e.Series.Points() {
		if _, err := stmt.Exec(
			k.Provider, k.Symbol.String(), k.Range, market.FormatDate(p.Date),
			p.Open.String(), p.High.String(), p.Low.String(), p.Close.String(),
			p.Volume,
		); err != nil {
			return fmt.Errorf("insert point %s: %w", market.FormatDate(p.Date), err)
		}
	}

	return tx.Commit()
}

// Delete removes the entry stored under k, if any
func (s *SQLiteStore) Delete(k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE provider = ? AND symbol = ? AND range_key = ?`,
		k.Provider, k.Symbol.String(), k.Range)
	return err
}

// LoadRecent returns up to limit entries fetched from provider, most
// recently fetched first. Entries whose stored points no longer build into
// a series are skipped.
func (s *SQLiteStore) LoadRecent(provider string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT symbol, range_key, range_from, range_to, fetched_at
		FROM cache_entries WHERE provider = ? ORDER BY fetched_at DESC LIMIT ?`, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}

	type header struct {
		symbol, rangeKey, from, to string
		fetchedAt                  int64
	}
	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.symbol, &h.rangeKey, &h.from, &h.to, &h.fetchedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		headers = append(headers, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(headers))
	for _, h := range headers {
		e, err := s.loadEntry(provider, h.symbol, h.rangeKey, h.from, h.to, h.fetchedAt)
		if err != nil {
			slog.Warn("skipping unreadable cache entry", "symbol", h.symbol, "range", h.rangeKey, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SQLiteStore) loadEntry(provider, symbol, rangeKey, from, to string, fetchedAt int64) (Entry, error) {
	fromDate, err := market.ParseDate(from)
	if err != nil {
		return Entry{}, err
	}
	toDate, err := market.ParseDate(to)
	if err != nil {
		return Entry{}, err
	}

	rows, err := s.db.Query(`SELECT date, open, high, low, close, volume
		FROM cache_points WHERE provider = ? AND symbol = ? AND range_key = ? ORDER BY date`,
		provider, symbol, rangeKey)
	if err != nil {
		return Entry{}, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var points []market.PricePoint
	for rows.Next() {
		var date, open, high, low, closeText string
		var volume int64
		if err := rows.Scan(&date, &open, &high, &low, &closeText, &volume); err != nil {
			return Entry{}, fmt.Errorf("scan point: %w", err)
		}
		p := market.PricePoint{Volume: volume}
		if p.Date, err = market.ParseDate(date); err != nil {
			return Entry{}, err
		}
		for _, f := range []struct {
			raw string
			dst *decimal.Decimal
		}{{open, &p.Open}, {high, &p.High}, {low, &p.Low}, {closeText, &p.Close}} {
			if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
				return Entry{}, fmt.Errorf("point %s: %w", date, err)
			}
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, err
	}

	sym := market.Symbol(symbol)
	series, err := market.Build(sym, points)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Provider:  provider,
		Symbol:    sym,
		Range:     market.DateRange{From: fromDate, To: toDate},
		FetchedAt: time.Unix(0, fetchedAt),
		Series:    series,
	}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	slog.Debug("closing sqlite cache")
	return s.db.Close()
}
