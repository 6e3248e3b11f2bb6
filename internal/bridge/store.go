package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

const timeLayout = time.RFC3339Nano

// Store is the SQLite accessory cache. Registered accessories are written
// here and handed back to the reconciler on the next start.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	db *database.DB

	mu     sync.RWMutex
	closed bool
}

// NewStore wraps db. The accessories table must exist (see migrations).
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Close marks the store closed. The database itself is owned by the caller.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Load returns every cached accessory ordered by identity.
func (s *Store) Load(ctx context.Context) ([]accessory.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_mac, device_label, outlet_index, display_name, outlet_name,
		       metered, on_state, created_at, updated_at
		FROM accessories
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("loading accessories: %w", err)
	}
	defer rows.Close()

	var records []accessory.Record
	for rows.Next() {
		var (
			rec              accessory.Record
			id               string
			metered, on      int
			created, updated string
		)
		if err := rows.Scan(&id, &rec.Context.DeviceMAC, &rec.Context.DeviceLabel, &rec.Context.OutletIndex,
			&rec.DisplayName, &rec.Context.OutletName, &metered, &on, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning accessory: %w", err)
		}
		rec.ID = accessory.Identity(id)
		rec.Metered = metered != 0
		rec.On = on != 0
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accessories: %w", err)
	}
	return records, nil
}

// Upsert writes records in one transaction.
func (s *Store) Upsert(ctx context.Context, records []accessory.Record) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO accessories (id, device_mac, device_label, outlet_index, display_name,
			                         outlet_name, metered, on_state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				device_mac   = excluded.device_mac,
				device_label = excluded.device_label,
				outlet_index = excluded.outlet_index,
				display_name = excluded.display_name,
				outlet_name  = excluded.outlet_name,
				metered      = excluded.metered,
				on_state     = excluded.on_state,
				updated_at   = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("preparing accessory upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			created := rec.CreatedAt
			if created.IsZero() {
				created = now
			}
			updated := rec.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			if _, err := stmt.ExecContext(ctx,
				string(rec.ID), rec.Context.DeviceMAC, rec.Context.DeviceLabel, rec.Context.OutletIndex,
				rec.DisplayName, rec.Context.OutletName, boolInt(rec.Metered), boolInt(rec.On),
				created.Format(timeLayout), updated.Format(timeLayout),
			); err != nil {
				return fmt.Errorf("upserting accessory %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// Delete removes accessories in one transaction. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []accessory.Identity) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM accessories WHERE id = ?`, string(id)); err != nil {
				return fmt.Errorf("deleting accessory %s: %w", id, err)
			}
		}
		return nil
	})
}

// SaveState records the last confirmed relay state.
func (s *Store) SaveState(ctx context.Context, id accessory.Identity, on bool) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE accessories SET on_state = ?, updated_at = ? WHERE id = ?`,
		boolInt(on), time.Now().UTC().Format(timeLayout), string(id))
	if err != nil {
		return fmt.Errorf("saving state of %s: %w", id, err)
	}
	return nil
}

// SaveTelemetry records the latest reading of a metered outlet.
func (s *Store) SaveTelemetry(ctx context.Context, id accessory.Identity, t unifi.Telemetry, at time.Time) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE accessories
		SET voltage = ?, current = ?, power = ?, power_factor = ?, telemetry_at = ?
		WHERE id = ?
	`, t.Voltage, t.Current, t.Power, t.PowerFactor, at.UTC().Format(timeLayout), string(id))
	if err != nil {
		return fmt.Errorf("saving telemetry of %s: %w", id, err)
	}
	return nil
}

// Telemetry returns the last stored reading. ok is false when none has
// been recorded.
func (s *Store) Telemetry(ctx context.Context, id accessory.Identity) (t unifi.Telemetry, at time.Time, ok bool, err error) {
	if err := s.check(); err != nil {
		return unifi.Telemetry{}, time.Time{}, false, err
	}

	var (
		name                        string
		index                       int
		voltage, current, power, pf sql.NullFloat64
		telemetryAt                 sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT outlet_name, outlet_index, voltage, current, power, power_factor, telemetry_at
		FROM accessories WHERE id = ?
	`, string(id)).Scan(&name, &index, &voltage, &current, &power, &pf, &telemetryAt)
	if errors.Is(err, sql.ErrNoRows) {
		return unifi.Telemetry{}, time.Time{}, false, nil
	}
	if err != nil {
		return unifi.Telemetry{}, time.Time{}, false, fmt.Errorf("loading telemetry of %s: %w", id, err)
	}
	if !telemetryAt.Valid {
		return unifi.Telemetry{}, time.Time{}, false, nil
	}

	return unifi.Telemetry{
		Index:       index,
		Name:        name,
		Voltage:     voltage.Float64,
		Current:     current.Float64,
		Power:       power.Float64,
		PowerFactor: pf.Float64,
	}, parseTime(telemetryAt.String), true, nil
}

// Count returns the number of cached accessories.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accessories`).Scan(&count)
	return count, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
