package duckdb

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

const visitorColumns = `ip, timestamp, country, country_code, region, city, zip, lat, lon, timezone, isp, as_name, user_agent, platform, browser, referrer`

// InsertVisitorBatch appends visitors in one transaction. If the batch
// fails it is retried one record at a time and unrecoverable rows are
// dropped with a log line.
func (s *Store) InsertVisitorBatch(records []*model.VisitorRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertTx(ctx, records); err == nil {
		return nil
	}

	var failed int
	for _, r := range records {
		if err := s.insertTx(ctx, []*model.VisitorRecord{r}); err != nil {
			failed++
			log.Printf("duckdb: dropping visitor %s: %v", r.IP, err)
		}
	}
	if failed == len(records) {
		return fmt.Errorf("duckdb: all %d visitors failed to insert", failed)
	}
	if failed > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d visitors dropped", failed, len(records))
	}
	return nil
}

func (s *Store) insertTx(ctx context.Context, records []*model.VisitorRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO visitors (`+visitorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			r.IP, ts.UTC(),
			orUnknown(r.Country), orDefault(r.CountryCode, model.UnknownCountryCode),
			orUnknown(r.Region), orUnknown(r.City), orUnknown(r.Zip),
			r.Lat, r.Lon,
			orUnknown(r.Timezone), orUnknown(r.ISP), orUnknown(r.AS),
			r.UserAgent, r.Platform, r.Browser, r.Referrer,
		); err != nil {
			return fmt.Errorf("visitor insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// TotalVisitors returns the number of stored visitors.
func (s *Store) TotalVisitors() (int64, error) {
	ctx, release, err := s.readCtx()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int64
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visitors`).Scan(&n)
	return n, err
}

// RecentVisitors returns visitors matching filter, newest first.
func (s *Store) RecentVisitors(filter model.VisitorFilter) ([]model.VisitorRecord, error) {
	where, args := visitorWhere(filter, time.Now())

	query := `SELECT ` + visitorColumns + ` FROM visitors` + where + ` ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	ctx, release, err := s.readCtx()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VisitorRecord
	for rows.Next() {
		var r model.VisitorRecord
		if err := rows.Scan(
			&r.IP, &r.Timestamp, &r.Country, &r.CountryCode, &r.Region, &r.City, &r.Zip,
			&r.Lat, &r.Lon, &r.Timezone, &r.ISP, &r.AS,
			&r.UserAgent, &r.Platform, &r.Browser, &r.Referrer,
		); err != nil {
			log.Printf("duckdb scan error (RecentVisitors): %v", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// visitorWhere builds the WHERE clause for filter. Day boundaries are taken
// in now's location.
func visitorWhere(filter model.VisitorFilter, now time.Time) (string, []any) {
	var conds []string
	var args []any

	switch filter.Date {
	case model.DateToday:
		start := startOfDay(now)
		conds = append(conds, "timestamp >= ? AND timestamp < ?")
		args = append(args, start.UTC(), start.AddDate(0, 0, 1).UTC())
	case model.DateCustom:
		if !filter.From.IsZero() {
			conds = append(conds, "timestamp >= ?")
			args = append(args, startOfDay(filter.From).UTC())
		}
		if !filter.To.IsZero() {
			conds = append(conds, "timestamp < ?")
			args = append(args, startOfDay(filter.To).AddDate(0, 0, 1).UTC())
		}
	}

	if c := strings.TrimSpace(filter.Country); c != "" {
		conds = append(conds, "country = ?")
		args = append(args, c)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ListCountries returns the distinct countries seen, sorted by name.
func (s *Store) ListCountries() ([]string, error) {
	ctx, release, err := s.readCtx()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT country FROM visitors ORDER BY country`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			log.Printf("duckdb scan error (ListCountries): %v", err)
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopCountries returns the countries with the most visitors.
func (s *Store) TopCountries(limit int) ([]model.CountryCount, error) {
	if limit <= 0 {
		limit = 10
	}

	ctx, release, err := s.readCtx()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		SELECT country, COUNT(*) AS count
		FROM visitors
		GROUP BY country
		ORDER BY count DESC, country ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CountryCount
	for rows.Next() {
		var cc model.CountryCount
		if err := rows.Scan(&cc.Country, &cc.Count); err != nil {
			log.Printf("duckdb scan error (TopCountries): %v", err)
			continue
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// ClearVisitors deletes every stored visitor and returns how many were removed.
func (s *Store) ClearVisitors() (int64, error) {
	return s.deleteWhere("")
}

// DeleteBefore removes visitors recorded before cutoff.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	return s.deleteWhere(" WHERE timestamp < ?", cutoff.UTC())
}

func (s *Store) deleteWhere(where string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM visitors`+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func orUnknown(s string) string {
	return orDefault(s, model.UnknownValue)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
