package backup

import (
	"time"

	"github.com/google/uuid"
)

// BackupData is the export of one tenant: every tenant-scoped model with its rows.
// Tenant columns are part of the rows but ignored on restore.
type BackupData struct {
	Version   string                      `json:"version"`
	Timestamp time.Time                   `json:"timestamp"`
	TenantID  uuid.UUID                   `json:"tenant_id"`
	Models    map[string][]map[string]any `json:"models"`
}

const BackupVersion = "1.0"

type BackupOptions struct {
	// Models restricts the export; empty means every tenant-scoped model.
	Models         []string
	IncludeDeleted bool
}

type ConflictStrategy string

const (
	ConflictStrategySkip      ConflictStrategy = "skip"
	ConflictStrategyOverwrite ConflictStrategy = "overwrite"
	ConflictStrategyError     ConflictStrategy = "error"
)

type RestoreOptions struct {
	Models           []string
	ConflictStrategy ConflictStrategy
}

// RestoreResult counts rows per model and outcome.
type RestoreResult struct {
	Created     map[string]int `json:"created"`
	Overwritten map[string]int `json:"overwritten"`
	Skipped     map[string]int `json:"skipped"`
}
