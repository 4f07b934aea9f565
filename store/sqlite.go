package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pricewatch/dbopen"
	"github.com/hazyhaar/pricewatch/fetch"
	"github.com/hazyhaar/pricewatch/price"
)

// SQL is the SQLite-backed Store.
type SQL struct {
	DB *sql.DB
}

// NewSQL wraps an opened database. The schema must already be applied
// (dbopen.WithSchema(store.Schema)).
func NewSQL(db *sql.DB) *SQL {
	return &SQL{DB: db}
}

// ListActiveTargets returns every target without a deletion timestamp.
func (s *SQL) ListActiveTargets(ctx context.Context) ([]TargetSummary, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM targets WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list active targets: %w", err)
	}
	defer rows.Close()

	var out []TargetSummary
	for rows.Next() {
		var t TargetSummary
		if err := rows.Scan(&t.ID); err != nil {
			return nil, fmt.Errorf("store: scan target id: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTarget loads a target with selectors, strategy and currency resolved
// through its site and country. LEFT JOINs keep a target loadable when
// the site→country association is broken; Currency is empty in that case
// and the pipeline classifies it.
func (s *SQL) GetTarget(ctx context.Context, id string) (*Target, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT t.id, t.site_id, t.url, COALESCE(t.name, ''),
		       COALESCE(s.price_selector, ''), COALESCE(s.name_selector, ''),
		       COALESCE(s.strategy, 'fetch'), COALESCE(c.currency, ''),
		       t.deleted_at
		FROM targets t
		LEFT JOIN sites s ON s.id = t.site_id
		LEFT JOIN countries c ON c.id = s.country_id
		WHERE t.id = ?`, id)

	var t Target
	var strategy string
	var deletedAt sql.NullInt64
	err := row.Scan(&t.ID, &t.SiteID, &t.URL, &t.Name,
		&t.PriceSelector, &t.NameSelector, &strategy, &t.Currency, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get target %s: %w", id, err)
	}

	t.Strategy = fetch.Strategy(strategy)
	t.Deleted = deletedAt.Valid
	return &t, nil
}

// SetTargetNameIfEmpty writes the name only when the current one is NULL
// or blank. The guard lives in the UPDATE itself so concurrent workers
// cannot both win.
func (s *SQL) SetTargetNameIfEmpty(ctx context.Context, id, name string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB, `
		UPDATE targets SET name = ?, updated_at = ?
		WHERE id = ? AND (name IS NULL OR name = '')`,
		name, time.Now().UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("store: set target name: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: set target name: %w", err)
	}
	return n > 0, nil
}

// RecordPriceSample appends one sample, rounded to two fractional digits.
func (s *SQL) RecordPriceSample(ctx context.Context, sample PriceSample) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO prices (target_id, value, currency, captured_at)
		VALUES (?, ?, ?, ?)`,
		sample.TargetID, price.Round2(sample.Value), sample.Currency,
		sample.CapturedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: record price sample: %w", err)
	}
	return nil
}

// Samples returns the recorded samples for a target, oldest first.
func (s *SQL) Samples(ctx context.Context, targetID string) ([]PriceSample, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT target_id, value, currency, captured_at
		FROM prices WHERE target_id = ? ORDER BY captured_at ASC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: samples: %w", err)
	}
	defer rows.Close()

	var out []PriceSample
	for rows.Next() {
		var p PriceSample
		var capturedAt int64
		if err := rows.Scan(&p.TargetID, &p.Value, &p.Currency, &capturedAt); err != nil {
			return nil, fmt.Errorf("store: scan sample: %w", err)
		}
		p.CapturedAt = time.UnixMilli(capturedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Country is a currency-bearing country row.
type Country struct {
	ID       string
	Name     string
	Code     string
	Currency string
}

// Site holds per-site extraction configuration.
type Site struct {
	ID            string
	Name          string
	Hostname      string
	PriceSelector string
	NameSelector  string
	Strategy      fetch.Strategy
	CountryID     string // empty for a site without a country association
}

// CreateCountry inserts a country.
func (s *SQL) CreateCountry(ctx context.Context, c Country) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO countries (id, name, code, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Code, c.Currency, now, now)
	if err != nil {
		return fmt.Errorf("store: create country: %w", err)
	}
	return nil
}

// CreateSite inserts a site.
func (s *SQL) CreateSite(ctx context.Context, site Site) error {
	now := time.Now().UnixMilli()
	var countryID any
	if site.CountryID != "" {
		countryID = site.CountryID
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO sites (id, name, hostname, price_selector, name_selector,
		strategy, country_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		site.ID, site.Name, site.Hostname, site.PriceSelector, site.NameSelector,
		string(site.Strategy), countryID, now, now)
	if err != nil {
		return fmt.Errorf("store: create site: %w", err)
	}
	return nil
}

// CreateTarget inserts a tracked target.
func (s *SQL) CreateTarget(ctx context.Context, id, siteID, url string) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO targets (id, site_id, url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, id, siteID, url, now, now)
	if err != nil {
		return fmt.Errorf("store: create target: %w", err)
	}
	return nil
}

// SoftDeleteTarget stamps deleted_at. Historical samples are kept.
func (s *SQL) SoftDeleteTarget(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB, `
		UPDATE targets SET deleted_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("store: soft delete target: %w", err)
	}
	return nil
}
