package encounter

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open encounter store (%s): %w", dbPath, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate encounter store (%s): %w", dbPath, err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS encounters (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			target TEXT NOT NULL,
			temp_id TEXT NOT NULL,
			model TEXT NOT NULL,
			rssi REAL NOT NULL,
			tx_power REAL NOT NULL,
			org_id INTEGER NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_encounters_timestamp ON encounters(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Save(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO encounters (id, timestamp, target, temp_id, model, rssi, tx_power, org_id, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		rec.Timestamp.UnixNano(),
		string(rec.Target),
		rec.TempID,
		rec.Model,
		rec.RSSI,
		rec.TxPower,
		rec.OrgID,
		rec.Version,
	)
	return err
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *SQLiteStore) List(limit int) ([]Record, error) {
	query := `SELECT timestamp, target, temp_id, model, rssi, tx_power, org_id, version
		FROM encounters ORDER BY timestamp DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec    Record
			ts     int64
			target string
		)
		if err := rows.Scan(&ts, &target, &rec.TempID, &rec.Model, &rec.RSSI, &rec.TxPower, &rec.OrgID, &rec.Version); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.Target = sensor.TargetIdentifier(target)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
