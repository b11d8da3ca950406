// Package storage provides SQLite-backed persistence for stays, pricing
// snapshots, alerts, and reconciliation results.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mkrell/staywatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	maxSnapshots int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/staywatch/data.db.
// maxSnapshots caps the retained pricing history per stay.
func New(maxSnapshots int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "staywatch", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxSnapshots: maxSnapshots}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stays (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			target_date      INTEGER NOT NULL,
			base_price       REAL NOT NULL,
			demand_mult      REAL NOT NULL,
			created_at       INTEGER NOT NULL,
			last_updated     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pricing_snapshots (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			stay_id          TEXT NOT NULL REFERENCES stays(id) ON DELETE CASCADE,
			urgency_level    TEXT NOT NULL,
			price            REAL NOT NULL,
			multiplier       REAL NOT NULL,
			projections      TEXT NOT NULL DEFAULT '[]',
			increase_rate    REAL NOT NULL DEFAULT 0,
			peak_price       REAL NOT NULL DEFAULT 0,
			calculated_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			stay_id          TEXT NOT NULL REFERENCES stays(id) ON DELETE CASCADE,
			alert_type       TEXT NOT NULL,
			message          TEXT NOT NULL,
			show             INTEGER NOT NULL DEFAULT 1,
			priority         INTEGER NOT NULL,
			price            REAL NOT NULL,
			base_price       REAL NOT NULL,
			detected_at      INTEGER NOT NULL,
			notified         INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS verifications (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			stay_id          TEXT NOT NULL REFERENCES stays(id) ON DELETE CASCADE,
			outcome          TEXT NOT NULL,
			local_price      REAL NOT NULL,
			remote_price     REAL,
			difference       REAL,
			error            TEXT,
			checked_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_stay_time ON pricing_snapshots(stay_id, calculated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_priority ON alerts(priority DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_verifications_stay_time ON verifications(stay_id, checked_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertStay inserts the stay or replaces an existing row with the same ID.
func (s *Storage) UpsertStay(stay *models.Stay) error {
	if err := stay.Validate(); err != nil {
		return fmt.Errorf("invalid stay: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO stays
			(id, name, target_date, base_price, demand_mult, created_at, last_updated)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, target_date=excluded.target_date,
			base_price=excluded.base_price, demand_mult=excluded.demand_mult,
			last_updated=excluded.last_updated`,
		stay.ID, stay.Name, stay.TargetDate.UnixNano(),
		stay.BasePrice, stay.MarketDemandMultiplier,
		stay.CreatedAt.UnixNano(), stay.LastUpdated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stay: %w", err)
	}
	return nil
}

func (s *Storage) GetStay(id string) (*models.Stay, error) {
	row := s.db.QueryRow(`SELECT `+stayCols+` FROM stays WHERE id = ?`, id)
	stay, err := scanStay(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stay not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stay: %w", err)
	}
	return stay, nil
}

func (s *Storage) GetAllStays() ([]*models.Stay, error) {
	rows, err := s.db.Query(`SELECT ` + stayCols + ` FROM stays ORDER BY target_date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stays: %w", err)
	}
	defer rows.Close()
	var stays []*models.Stay
	for rows.Next() {
		stay, err := scanStay(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stay: %w", err)
		}
		stays = append(stays, stay)
	}
	if stays == nil {
		stays = []*models.Stay{}
	}
	return stays, rows.Err()
}

// DeleteStay removes a stay; snapshots, alerts, and verifications cascade.
func (s *Storage) DeleteStay(id string) error {
	res, err := s.db.Exec(`DELETE FROM stays WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stay: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("stay not found: %s", id)
	}
	return nil
}

// SaveSnapshot appends one pricing result to the stay's history and trims the
// history to the configured cap in the same transaction.
func (s *Storage) SaveSnapshot(stayID string, level models.UrgencyLevel, pricing *models.UrgencyPricing) error {
	projectionsJSON, err := json.Marshal(pricing.Projections)
	if err != nil {
		return fmt.Errorf("failed to marshal projections: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO pricing_snapshots
			(stay_id, urgency_level, price, multiplier, projections,
			 increase_rate, peak_price, calculated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		stayID, string(level), pricing.CurrentPrice, pricing.CurrentMultiplier,
		string(projectionsJSON), pricing.IncreaseRatePerDay, pricing.PeakPrice,
		pricing.CalculatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM pricing_snapshots WHERE stay_id = ? AND id NOT IN (
			SELECT id FROM pricing_snapshots WHERE stay_id = ?
			ORDER BY calculated_at DESC, id DESC LIMIT ?
		)`, stayID, stayID, s.maxSnapshots); err != nil {
		return fmt.Errorf("failed to enforce snapshot cap: %w", err)
	}

	return tx.Commit()
}

// LatestSnapshot returns the newest pricing result for the stay, or nil when
// no history exists.
func (s *Storage) LatestSnapshot(stayID string) (*models.UrgencyPricing, models.UrgencyLevel, error) {
	row := s.db.QueryRow(`
		SELECT urgency_level, price, multiplier, projections,
		       increase_rate, peak_price, calculated_at
		FROM pricing_snapshots WHERE stay_id = ?
		ORDER BY calculated_at DESC, id DESC LIMIT 1`, stayID)

	var pricing models.UrgencyPricing
	var level string
	var projectionsJSON string
	var calculatedAtNano int64

	err := row.Scan(
		&level, &pricing.CurrentPrice, &pricing.CurrentMultiplier, &projectionsJSON,
		&pricing.IncreaseRatePerDay, &pricing.PeakPrice, &calculatedAtNano,
	)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(projectionsJSON), &pricing.Projections); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal projections: %w", err)
	}

	pricing.CalculatedAt = time.Unix(0, calculatedAtNano)
	return &pricing, models.UrgencyLevel(level), nil
}

// SnapshotCount reports the stored history length for the stay.
func (s *Storage) SnapshotCount(stayID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pricing_snapshots WHERE stay_id = ?`, stayID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func (s *Storage) AddAlert(alert *models.PriceAlert) error {
	_, err := s.db.Exec(`
		INSERT INTO alerts
			(id, stay_id, alert_type, message, show, priority,
			 price, base_price, detected_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.StayID, string(alert.Type), alert.Message,
		boolToInt(alert.Show), alert.Priority,
		alert.Price, alert.BasePrice,
		alert.DetectedAt.UnixNano(), boolToInt(alert.Notified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetRecentAlerts returns up to limit alerts for the stay, newest first.
func (s *Storage) GetRecentAlerts(stayID string, limit int) ([]models.PriceAlert, error) {
	rows, err := s.db.Query(`
		SELECT id, stay_id, alert_type, message, show, priority,
		       price, base_price, detected_at, notified
		FROM alerts WHERE stay_id = ?
		ORDER BY detected_at DESC LIMIT ?`, stayID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.PriceAlert
	for rows.Next() {
		var a models.PriceAlert
		var alertType string
		var show, notified int
		var detectedAtNano int64

		err := rows.Scan(
			&a.ID, &a.StayID, &alertType, &a.Message, &show, &a.Priority,
			&a.Price, &a.BasePrice, &detectedAtNano, &notified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Type = models.AlertType(alertType)
		a.Show = show != 0
		a.Notified = notified != 0
		a.DetectedAt = time.Unix(0, detectedAtNano)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// MarkAlertNotified flags an alert as delivered.
func (s *Storage) MarkAlertNotified(id string) error {
	res, err := s.db.Exec(`UPDATE alerts SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert notified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (s *Storage) ClearAlerts(stayID string) error {
	if _, err := s.db.Exec(`DELETE FROM alerts WHERE stay_id = ?`, stayID); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	return nil
}

// AddVerification records one reconciliation outcome against the remote
// pricing service.
func (s *Storage) AddVerification(stayID string, v *models.VerificationState) error {
	_, err := s.db.Exec(`
		INSERT INTO verifications
			(stay_id, outcome, local_price, remote_price, difference, error, checked_at)
		VALUES (?,?,?,?,?,?,?)`,
		stayID, string(v.Outcome), v.LocalPrice, v.RemotePrice, v.Difference,
		v.Error, v.CheckedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

// LatestVerification returns the newest reconciliation record for the stay,
// or nil when none exists.
func (s *Storage) LatestVerification(stayID string) (*models.VerificationState, error) {
	row := s.db.QueryRow(`
		SELECT outcome, local_price, remote_price, difference, error, checked_at
		FROM verifications WHERE stay_id = ?
		ORDER BY checked_at DESC, id DESC LIMIT 1`, stayID)

	var v models.VerificationState
	var outcome string
	var checkedAtNano int64

	err := row.Scan(&outcome, &v.LocalPrice, &v.RemotePrice, &v.Difference, &v.Error, &checkedAtNano)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification: %w", err)
	}

	v.Outcome = models.VerificationOutcome(outcome)
	v.CheckedAt = time.Unix(0, checkedAtNano)
	return &v, nil
}

// VerificationCount reports the stored reconciliation history length for
// the stay.
func (s *Storage) VerificationCount(stayID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM verifications WHERE stay_id = ?`, stayID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count verifications: %w", err)
	}
	return n, nil
}

// RotateSnapshots trims every stay's history to the configured cap. Run
// periodically to bound growth when stays stop recomputing.
func (s *Storage) RotateSnapshots() error {
	_, err := s.db.Exec(`
		DELETE FROM pricing_snapshots WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY stay_id
					ORDER BY calculated_at DESC, id DESC
				) AS rn FROM pricing_snapshots
			) WHERE rn > ?
		)`, s.maxSnapshots)
	if err != nil {
		return fmt.Errorf("failed to rotate snapshots: %w", err)
	}
	return nil
}

const stayCols = `id, name, target_date, base_price, demand_mult, created_at, last_updated`

func scanStay(scan func(...any) error) (*models.Stay, error) {
	var stay models.Stay
	var targetNano, createdAtNano, lastUpdatedNano int64
	err := scan(
		&stay.ID, &stay.Name, &targetNano,
		&stay.BasePrice, &stay.MarketDemandMultiplier,
		&createdAtNano, &lastUpdatedNano,
	)
	if err != nil {
		return nil, err
	}
	stay.TargetDate = time.Unix(0, targetNano)
	stay.CreatedAt = time.Unix(0, createdAtNano)
	stay.LastUpdated = time.Unix(0, lastUpdatedNano)
	return &stay, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
