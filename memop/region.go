// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memop implements the on-device memory-operation coordinator:
// erase, windowed write, and windowed read of named regions on either the
// controller or the sensor, with sequence/offset tracking and a strict
// one-operation-at-a-time policy.
package memop // import "github.com/go-lpc/jsdrv/memop"

import (
	"golang.org/x/xerrors"

	"github.com/go-lpc/jsdrv"
)

// Target names which half of the instrument a region table applies to.
type Target int

const (
	TargetController Target = iota
	TargetSensor
)

func (t Target) String() string {
	switch t {
	case TargetController:
		return "c"
	case TargetSensor:
		return "s"
	default:
		return "unknown"
	}
}

// Region identifies a named on-device memory region by its position in the
// ordered table for its target.
type Region struct {
	Name  string
	Index int
}

var controllerRegions = []string{"app", "upd1", "upd2", "storage", "log", "acfg", "bcfg", "pers"}

var sensorRegions = []string{"app1", "app2", "cal_t", "cal_a", "cal_f", "pers"}

// RegionNames returns a copy of the ordered region-name table for target,
// or nil for an unknown target.
func RegionNames(target Target) []string {
	var table []string
	switch target {
	case TargetController:
		table = controllerRegions
	case TargetSensor:
		table = sensorRegions
	default:
		return nil
	}
	return append([]string(nil), table...)
}

// Lookup resolves name against the ordered region table for target. It
// returns ParameterInvalid when the target is unknown or the name is not in
// that target's table.
func Lookup(target Target, name string) (Region, error) {
	var table []string
	switch target {
	case TargetController:
		table = controllerRegions
	case TargetSensor:
		table = sensorRegions
	default:
		return Region{}, xerrors.Errorf("memop: unknown target %d: %w", int(target), jsdrv.ErrParameterInvalid)
	}

	for i, n := range table {
		if n == name {
			return Region{Name: n, Index: i}, nil
		}
	}
	return Region{}, xerrors.Errorf("memop: unknown region %q for target %v: %w", name, target, jsdrv.ErrParameterInvalid)
}
