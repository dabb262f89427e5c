// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// MigrationStatus is the lifecycle state of a single load's migration
// run, as opposed to the status of any one migration within it — the
// runner applies each pending migration in its own transaction but
// reports once per run: one Running, then one Completed or Failed.
type MigrationStatus string

const (
	MigrationRunning   MigrationStatus = "Running"
	MigrationCompleted MigrationStatus = "Completed"
	MigrationFailed    MigrationStatus = "Failed"
)

// MigrationEvent is one entry in a database's append-only migration
// trail. MigrationCount is populated on Completed and reports the
// total number of migrations known to the runner, not just the ones
// newly applied during this load. Error is populated on Failed.
type MigrationEvent struct {
	DBPath         string
	Status         MigrationStatus
	MigrationCount int
	Error          string
	At             time.Time
}
