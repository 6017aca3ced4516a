// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"log/slog"

	"gorm.io/gorm"
)

// Capabilities records which evolved schema columns are present. It is
// computed once at startup and re-evaluated after every successful ALTER,
// so a single process never mixes the two shapes within one query path.
type Capabilities struct {
	// LogsHaveRunID: task_logs carries run_id, so log reads and upserts
	// are keyed by run instead of task + pod-name correlation.
	LogsHaveRunID bool
	// RunsHaveSnapshot: task_runs carries the code snapshot columns.
	RunsHaveSnapshot bool
	// TasksHaveSystemDeps: tasks carries system_dependencies.
	TasksHaveSystemDeps bool
}

// evolution lists the columns added after the legacy schema, with the raw
// statement used when the migrator could not add them. The statements use
// the plain ADD COLUMN form, which SQLite and PostgreSQL both accept;
// idempotency comes from the HasColumn guard before each one runs.
var evolution = []struct {
	table  string
	column string
	stmt   string
}{
	{"task_logs", "run_id", "ALTER TABLE task_logs ADD COLUMN run_id integer"},
	{"task_runs", "python_code", "ALTER TABLE task_runs ADD COLUMN python_code text"},
	{"task_runs", "dependencies", "ALTER TABLE task_runs ADD COLUMN dependencies text"},
	{"task_runs", "requirements_file", "ALTER TABLE task_runs ADD COLUMN requirements_file text"},
	{"task_runs", "system_dependencies", "ALTER TABLE task_runs ADD COLUMN system_dependencies text"},
	{"tasks", "system_dependencies", "ALTER TABLE tasks ADD COLUMN system_dependencies text"},
}

// probeCapabilities inspects the catalog for the evolved columns.
func probeCapabilities(db *gorm.DB) Capabilities {
	m := db.Migrator()
	return Capabilities{
		LogsHaveRunID: m.HasColumn(&TaskLog{}, "run_id"),
		RunsHaveSnapshot: m.HasColumn(&TaskRun{}, "python_code") &&
			m.HasColumn(&TaskRun{}, "dependencies") &&
			m.HasColumn(&TaskRun{}, "requirements_file"),
		TasksHaveSystemDeps: m.HasColumn(&Task{}, "system_dependencies"),
	}
}

// evolveSchema attempts the idempotent ALTERs for any evolution column the
// probe found missing. Failures are logged and tolerated; the store then
// serves the affected paths in legacy-read mode.
func evolveSchema(db *gorm.DB, logger *slog.Logger) Capabilities {
	m := db.Migrator()
	for _, ev := range evolution {
		if m.HasColumn(tableModel(ev.table), ev.column) {
			continue
		}
		if err := db.Exec(ev.stmt).Error; err != nil {
			logger.Warn("schema evolution statement failed; continuing in legacy-read mode",
				slog.String("table", ev.table),
				slog.String("column", ev.column),
				slog.Any("error", err))
			continue
		}
		logger.Info("added schema evolution column",
			slog.String("table", ev.table),
			slog.String("column", ev.column))
	}
	return probeCapabilities(db)
}

func tableModel(table string) any {
	switch table {
	case "task_logs":
		return &TaskLog{}
	case "task_runs":
		return &TaskRun{}
	case "tasks":
		return &Task{}
	default:
		return nil
	}
}
