// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib loads per-device factory calibration (current-range
// gain/offset pairs) from the condition/configuration database. It is an
// optional collaborator: the decode/suppress/reassembly pipeline works
// identically with or without a Store, converting raw codes to physical
// units only when one is configured.
package calib // import "github.com/go-lpc/jsdrv/calib"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host    = "localhost"
	drvName = "mysql"

	numRanges = 9 // current_range 0..6 plus 7=off, 8=missing.
)

// GainOffset is one current-range's linear correction: physical = raw*Gain
// + Offset.
type GainOffset struct {
	Gain   float64
	Offset float64
}

// Calibration holds one device's per-range current and voltage corrections.
type Calibration struct {
	Serial  string
	Current [numRanges]GainOffset
	Voltage [numRanges]GainOffset
}

// Store wraps a *sql.DB holding factory calibration records.
type Store struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the calibration database dbname, using usr/pwd
// credentials, and verifies it is reachable.
func Open(dbname, usr, pwd string) (*Store, error) {
	db, err := sql.Open(drvName, dsn(dbname, usr, pwd))
	if err != nil {
		return nil, fmt.Errorf("calib: could not open %q db: %w", dbname, err)
	}

	if err := ping(db, dbname); err != nil {
		return nil, err
	}

	return &Store{db: db, name: dbname}, nil
}

func dsn(dbname, usr, pwd string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, dbname)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("calib: could not ping %q db: %w", dbname, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load retrieves the calibration record for deviceSerial. Current ranges
// with no row in the table default to the identity correction (gain=1,
// offset=0).
func (s *Store) Load(ctx context.Context, deviceSerial string) (Calibration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cal := Calibration{Serial: deviceSerial}
	for i := range cal.Current {
		cal.Current[i] = GainOffset{Gain: 1, Offset: 0}
		cal.Voltage[i] = GainOffset{Gain: 1, Offset: 0}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT current_range, i_gain, i_offset, v_gain, v_offset
		FROM calibration
		WHERE serial = ?`, deviceSerial,
	)
	if err != nil {
		return Calibration{}, fmt.Errorf("calib: could not query calibration for %q: %w", deviceSerial, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rng            int
			iGain, iOffset float64
			vGain, vOffset float64
		)
		if err := rows.Scan(&rng, &iGain, &iOffset, &vGain, &vOffset); err != nil {
			return Calibration{}, fmt.Errorf("calib: could not scan calibration row for %q: %w", deviceSerial, err)
		}
		if rng < 0 || rng >= numRanges {
			continue
		}
		cal.Current[rng] = GainOffset{Gain: iGain, Offset: iOffset}
		cal.Voltage[rng] = GainOffset{Gain: vGain, Offset: vOffset}
	}
	if err := rows.Err(); err != nil {
		return Calibration{}, fmt.Errorf("calib: error reading calibration rows for %q: %w", deviceSerial, err)
	}

	return cal, nil
}

// Apply converts a raw current/voltage pair sampled at current_range into
// physical units.
func (c Calibration) Apply(currentRange uint8, rawI, rawV float64) (i, v float64) {
	if int(currentRange) >= numRanges {
		return rawI, rawV
	}
	ci := c.Current[currentRange]
	cv := c.Voltage[currentRange]
	return rawI*ci.Gain + ci.Offset, rawV*cv.Gain + cv.Offset
}
