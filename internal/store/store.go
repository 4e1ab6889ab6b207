// Package store persists decoded samples and system logs in SQLite and
// serves the ordered range queries the energy reconstruction replays.
package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nexcode/iotcoss/internal/directory"
	"github.com/nexcode/iotcoss/internal/energy"
	"github.com/nexcode/iotcoss/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_mac TEXT NOT NULL,
	device_name TEXT NOT NULL DEFAULT '',
	temperature REAL,
	humidity REAL,
	current_amps REAL,
	relay_status TEXT,
	sampled_at INTEGER
);
CREATE INDEX IF NOT EXISTS samples_device_time ON samples (device_mac, sampled_at);

CREATE TABLE IF NOT EXISTS system_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	level TEXT NOT NULL,
	source TEXT NOT NULL,
	message TEXT NOT NULL,
	detail TEXT,
	timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_macs (
	device_mac TEXT PRIMARY KEY,
	device_name TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT ''
);
`

// SampleRow is one persisted device sample. Optional sensor fields are
// nil when the reading did not carry them.
type SampleRow struct {
	ID          int64      `json:"id"`
	DeviceMAC   string     `json:"device_mac"`
	DeviceName  string     `json:"device_name"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	CurrentAmps *float64   `json:"energy_amp"`
	RelayStatus string     `json:"relay_status"`
	SampledAt   *time.Time `json:"timestamp"`
}

type Store struct {
	pool *sqlitex.Pool
}

func Open(path string) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("store: %s: %w", pragma, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Info("sample store opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

/* =========================
   Samples
   ========================= */

func (s *Store) AppendSample(ctx context.Context, row SampleRow) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var sampledAt any
	if row.SampledAt != nil {
		sampledAt = row.SampledAt.Unix()
	}
	return sqlitex.Execute(conn, `INSERT INTO samples
		(device_mac, device_name, temperature, humidity, current_amps, relay_status, sampled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			row.DeviceMAC,
			row.DeviceName,
			nullableFloat(row.Temperature),
			nullableFloat(row.Humidity),
			nullableFloat(row.CurrentAmps),
			row.RelayStatus,
			sampledAt,
		},
	})
}

// RecentSamples returns the newest rows first, for the snapshot sent to
// a freshly connected viewer.
func (s *Store) RecentSamples(ctx context.Context, limit int) ([]SampleRow, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rows []SampleRow
	err = sqlitex.Execute(conn, `SELECT id, device_mac, device_name, temperature,
		humidity, current_amps, relay_status, sampled_at
		FROM samples ORDER BY id DESC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, scanSample(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: recent samples: %w", err)
	}
	return rows, nil
}

func scanSample(stmt *sqlite.Stmt) SampleRow {
	row := SampleRow{
		ID:          stmt.ColumnInt64(0),
		DeviceMAC:   stmt.ColumnText(1),
		DeviceName:  stmt.ColumnText(2),
		RelayStatus: stmt.ColumnText(6),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		v := stmt.ColumnFloat(3)
		row.Temperature = &v
	}
	if stmt.ColumnType(4) != sqlite.TypeNull {
		v := stmt.ColumnFloat(4)
		row.Humidity = &v
	}
	if stmt.ColumnType(5) != sqlite.TypeNull {
		v := stmt.ColumnFloat(5)
		row.CurrentAmps = &v
	}
	if stmt.ColumnType(7) != sqlite.TypeNull {
		t := time.Unix(stmt.ColumnInt64(7), 0)
		row.SampledAt = &t
	}
	return row
}

// HistoryBetween returns current readings in [start, end) ordered by
// (device, time), the shape the trapezoidal replay expects. Rows
// without a current reading or timestamp carry nothing to integrate
// and are skipped at the query level.
func (s *Store) HistoryBetween(ctx context.Context, start, end time.Time) ([]energy.HistorySample, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var samples []energy.HistorySample
	err = sqlitex.Execute(conn, `SELECT device_mac, current_amps, sampled_at
		FROM samples
		WHERE current_amps IS NOT NULL AND sampled_at IS NOT NULL
		  AND sampled_at >= ? AND sampled_at < ?
		ORDER BY device_mac, sampled_at`, &sqlitex.ExecOptions{
		Args: []any{start.Unix(), end.Unix()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			samples = append(samples, energy.HistorySample{
				DeviceMAC: stmt.ColumnText(0),
				Amps:      stmt.ColumnFloat(1),
				At:        time.Unix(stmt.ColumnInt64(2), 0),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: history between: %w", err)
	}
	return samples, nil
}

/* =========================
   System logs
   ========================= */

func (s *Store) AppendSystemLog(ctx context.Context, logType, level, source, message, detail string, ts time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO system_logs
		(type, level, source, message, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{logType, level, source, message, detail, ts.Unix()},
	})
}

/* =========================
   Device registry
   ========================= */

// GetDevice implements directory.Registry.
func (s *Store) GetDevice(ctx context.Context, mac string) (directory.Entry, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return directory.Entry{}, false, err
	}
	defer s.pool.Put(conn)

	var entry directory.Entry
	found := false
	err = sqlitex.Execute(conn, `SELECT device_mac, device_name, location
		FROM device_macs WHERE device_mac = ?`, &sqlitex.ExecOptions{
		Args: []any{mac},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry = directory.Entry{
				DeviceMAC:  stmt.ColumnText(0),
				DeviceName: stmt.ColumnText(1),
				Location:   stmt.ColumnText(2),
			}
			found = true
			return nil
		},
	})
	if err != nil {
		return directory.Entry{}, false, fmt.Errorf("store: get device: %w", err)
	}
	return entry, found, nil
}

func (s *Store) UpsertDevice(ctx context.Context, entry directory.Entry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO device_macs (device_mac, device_name, location)
		VALUES (?, ?, ?)
		ON CONFLICT(device_mac) DO UPDATE SET device_name = excluded.device_name, location = excluded.location`,
		&sqlitex.ExecOptions{Args: []any{entry.DeviceMAC, entry.DeviceName, entry.Location}})
}

func (s *Store) DeleteDevice(ctx context.Context, mac string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM device_macs WHERE device_mac = ?`,
		&sqlitex.ExecOptions{Args: []any{mac}})
}

func (s *Store) ListDevices(ctx context.Context) ([]directory.Entry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var entries []directory.Entry
	err = sqlitex.Execute(conn, `SELECT device_mac, device_name, location
		FROM device_macs ORDER BY device_mac`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, directory.Entry{
				DeviceMAC:  stmt.ColumnText(0),
				DeviceName: stmt.ColumnText(1),
				Location:   stmt.ColumnText(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	return entries, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
