// Package analytics persists match events to an embedded SQLite log and
// serves the windowed aggregates the pacing engine and reporting tools
// read. Events are append-only; nothing in the engine deletes them.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sponsorlabs/placemint/internal/fault"
)

// ts holds unix nanoseconds so window comparisons are numeric.
const schema = `
CREATE TABLE IF NOT EXISTS campaign_events (
	event_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            INTEGER NOT NULL,
	event_type    TEXT NOT NULL,
	request_id    TEXT,
	placement     TEXT,
	campaign_id   TEXT NOT NULL,
	creative_id   TEXT NOT NULL,
	score         REAL,
	pacing_weight REAL,
	cost          REAL,
	metadata      TEXT
);
CREATE INDEX IF NOT EXISTS idx_campaign_events_ts ON campaign_events (ts);
CREATE INDEX IF NOT EXISTS idx_campaign_events_campaign ON campaign_events (campaign_id);
`

// Store is a SQLite-backed analytics log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the analytics database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("analytics: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids lock contention
	// between the pool's connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("analytics: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// MatchEvent is one recorded (creative, request) match.
type MatchEvent struct {
	TS           time.Time
	RequestID    string
	Placement    string
	CampaignID   string
	CreativeID   string
	Score        float64
	PacingWeight float64
	Cost         float64
	Metadata     map[string]any
}

// RecordMatch appends a match event.
func (s *Store) RecordMatch(ctx context.Context, ev MatchEvent) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fault.Wrap(fault.Internal, "analytics: encode metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaign_events (
			ts, event_type, request_id, placement, campaign_id, creative_id,
			score, pacing_weight, cost, metadata
		) VALUES (?, 'match', ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TS.UTC().UnixNano(),
		ev.RequestID, ev.Placement, ev.CampaignID, ev.CreativeID,
		ev.Score, ev.PacingWeight, ev.Cost, string(meta),
	)
	if err != nil {
		return fault.Wrap(fault.Unavailable, "analytics: record match", err)
	}
	return nil
}

// CampaignStats are aggregated delivery numbers for one campaign.
type CampaignStats struct {
	Impressions     int64   `json:"impressions"`
	Spend           float64 `json:"spend"`
	AvgScore        float64 `json:"avg_score"`
	AvgPacingWeight float64 `json:"avg_pacing_weight"`
}

// CampaignStats aggregates a campaign's events, optionally windowed.
func (s *Store) CampaignStats(ctx context.Context, campaignID string, since, until *time.Time) (CampaignStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(cost), 0),
		       COALESCE(AVG(score), 0),
		       COALESCE(AVG(pacing_weight), 0)
		FROM campaign_events
		WHERE campaign_id = ?`
	args := []any{campaignID}
	if since != nil {
		query += " AND ts >= ?"
		args = append(args, since.UTC().UnixNano())
	}
	if until != nil {
		query += " AND ts <= ?"
		args = append(args, until.UTC().UnixNano())
	}

	var stats CampaignStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Impressions, &stats.Spend, &stats.AvgScore, &stats.AvgPacingWeight,
	)
	if err != nil {
		return CampaignStats{}, fault.Wrap(fault.Unavailable, "analytics: campaign stats", err)
	}
	return stats, nil
}

// RecentStats aggregates a campaign's events within the trailing window.
func (s *Store) RecentStats(ctx context.Context, campaignID string, window time.Duration) (CampaignStats, error) {
	since := time.Now().UTC().Add(-window)
	return s.CampaignStats(ctx, campaignID, &since, nil)
}

// CampaignSummary is one row of the per-campaign summary.
type CampaignSummary struct {
	CampaignID  string  `json:"campaign_id"`
	Impressions int64   `json:"impressions"`
	Spend       float64 `json:"spend"`
	AvgScore    float64 `json:"avg_score"`
}

// Summary returns per-campaign aggregates ordered by spend descending.
func (s *Store) Summary(ctx context.Context, since *time.Time) ([]CampaignSummary, error) {
	query := `
		SELECT campaign_id,
		       COUNT(*),
		       COALESCE(SUM(cost), 0),
		       COALESCE(AVG(score), 0)
		FROM campaign_events`
	var args []any
	if since != nil {
		query += " WHERE ts >= ?"
		args = append(args, since.UTC().UnixNano())
	}
	query += " GROUP BY campaign_id ORDER BY SUM(cost) DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "analytics: summary", err)
	}
	defer rows.Close()

	var out []CampaignSummary
	for rows.Next() {
		var row CampaignSummary
		if err := rows.Scan(&row.CampaignID, &row.Impressions, &row.Spend, &row.AvgScore); err != nil {
			return nil, fault.Wrap(fault.Unavailable, "analytics: scan summary", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.Unavailable, "analytics: summary rows", err)
	}
	return out, nil
}

// CreativeStats are per-creative delivery numbers inside a report.
type CreativeStats struct {
	CreativeID  string  `json:"creative_id"`
	Impressions int64   `json:"impressions"`
	AvgScore    float64 `json:"avg_score"`
}

// CampaignReport is the campaign aggregate plus its top creatives by
// impression count.
type CampaignReport struct {
	CampaignID string `json:"campaign_id"`
	CampaignStats
	TopCreatives []CreativeStats `json:"top_creatives"`
}

// CampaignReport builds a report for one campaign: windowed stats and the
// top five creatives by impressions.
func (s *Store) CampaignReport(ctx context.Context, campaignID string, since, until *time.Time) (CampaignReport, error) {
	stats, err := s.CampaignStats(ctx, campaignID, since, until)
	if err != nil {
		return CampaignReport{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT creative_id, COUNT(*), COALESCE(AVG(score), 0)
		FROM campaign_events
		WHERE campaign_id = ?
		GROUP BY creative_id
		ORDER BY COUNT(*) DESC
		LIMIT 5`, campaignID)
	if err != nil {
		return CampaignReport{}, fault.Wrap(fault.Unavailable, "analytics: campaign report", err)
	}
	defer rows.Close()

	report := CampaignReport{CampaignID: campaignID, CampaignStats: stats}
	for rows.Next() {
		var cs CreativeStats
		if err := rows.Scan(&cs.CreativeID, &cs.Impressions, &cs.AvgScore); err != nil {
			return CampaignReport{}, fault.Wrap(fault.Unavailable, "analytics: scan report", err)
		}
		report.TopCreatives = append(report.TopCreatives, cs)
	}
	if err := rows.Err(); err != nil {
		return CampaignReport{}, fault.Wrap(fault.Unavailable, "analytics: report rows", err)
	}
	return report, nil
}
