package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// Restore loads a backup into the caller's tenant inside one transaction.
// Tenant columns of the backup are ignored, so a backup of one tenant can seed another.
func (svc *BackupService) Restore(ctx context.Context, data []byte, opts RestoreOptions) (*RestoreResult, error) {
	if _, err := svc.authorize(ctx); err != nil {
		return nil, err
	}

	var backupData BackupData
	if err := json.Unmarshal(data, &backupData); err != nil {
		return nil, err
	}

	if backupData.Version != BackupVersion {
		log.Warn(ctx, "backup version mismatch",
			log.String("expected", BackupVersion),
			log.String("got", backupData.Version))

		return nil, fmt.Errorf("%w: expected %s, got %s", ErrVersionMismatch, BackupVersion, backupData.Version)
	}

	if opts.ConflictStrategy == "" {
		opts.ConflictStrategy = ConflictStrategySkip
	}

	names := opts.Models
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(backupData.Models))
	}

	descriptors, err := svc.models(names)
	if err != nil {
		return nil, err
	}

	return tenantdb.InTxResult(ctx, svc.db, func(ctx context.Context) (*RestoreResult, error) {
		result := &RestoreResult{
			Created:     map[string]int{},
			Overwritten: map[string]int{},
			Skipped:     map[string]int{},
		}

		for _, d := range descriptors {
			for _, row := range backupData.Models[d.Model] {
				if err := svc.restoreRow(ctx, d, row, opts, result); err != nil {
					return nil, fmt.Errorf("restore %s: %w", d.Model, err)
				}
			}
		}

		log.Info(ctx, "tenant backup restored",
			log.Any("created", result.Created),
			log.Any("overwritten", result.Overwritten),
			log.Any("skipped", result.Skipped),
		)

		return result, nil
	})
}

func (svc *BackupService) restoreRow(ctx context.Context, d scopes.Descriptor, raw map[string]any, opts RestoreOptions, result *RestoreResult) error {
	row := importRow(d, raw)

	id, hasID := row[d.PrimaryKey]
	if !hasID || id == nil {
		delete(row, d.PrimaryKey)

		if _, err := svc.db.Create(ctx, d.Model, row); err != nil {
			return err
		}

		result.Created[d.Model]++

		return nil
	}

	existing, err := svc.db.First(ctx, d.Model, tenantdb.Query{
		Filter:  intercept.Where(intercept.EQ(d.PrimaryKey, id)),
		Deleted: intercept.IncludeDeleted,
	})

	switch {
	case errors.Is(err, tenantdb.ErrNotFound):
		taken, err := svc.keyTaken(ctx, d, id)
		if err != nil {
			return err
		}

		// The key belongs to a row of another tenant.
		if taken {
			if opts.ConflictStrategy == ConflictStrategySkip {
				result.Skipped[d.Model]++
				return nil
			}

			return fmt.Errorf("%w: %s %v", ErrConflict, d.Model, id)
		}

		if _, err := svc.db.Create(ctx, d.Model, row); err != nil {
			return err
		}

		result.Created[d.Model]++

		return nil
	case err != nil:
		return err
	}

	switch opts.ConflictStrategy {
	case ConflictStrategySkip:
		result.Skipped[d.Model]++
		return nil
	case ConflictStrategyError:
		return fmt.Errorf("%w: %s %v", ErrConflict, d.Model, id)
	case ConflictStrategyOverwrite:
		if err := svc.overwrite(ctx, d, id, row, existing); err != nil {
			return err
		}

		result.Overwritten[d.Model]++

		return nil
	default:
		return fmt.Errorf("unknown conflict strategy %q", opts.ConflictStrategy)
	}
}

// keyTaken reports whether any tenant owns a row with primary key id.
func (svc *BackupService) keyTaken(ctx context.Context, d scopes.Descriptor, id any) (bool, error) {
	return authz.RunAsSystem(ctx, "backup-key-check", func(ctx context.Context) (bool, error) {
		n, err := svc.db.Count(ctx, d.Model, tenantdb.Query{
			Filter:  intercept.Where(intercept.EQ(d.PrimaryKey, id)),
			Deleted: intercept.IncludeDeleted,
		})

		return n > 0, err
	})
}

// overwrite replaces the mutable columns of existing and aligns its soft-delete state with row.
func (svc *BackupService) overwrite(ctx context.Context, d scopes.Descriptor, id any, row, existing map[string]any) error {
	wasDeleted := d.SoftDelete && existing[d.DeletedAtColumn] != nil
	isDeleted := d.SoftDelete && row[d.DeletedAtColumn] != nil

	if wasDeleted {
		if err := svc.db.Restore(ctx, d.Model, id); err != nil {
			return err
		}
	}

	set := lo.OmitByKeys(row, d.ProtectedColumns())
	if len(set) > 0 {
		if err := svc.db.Update(ctx, d.Model, id, set); err != nil {
			return err
		}
	}

	if isDeleted {
		return svc.db.Delete(ctx, d.Model, id)
	}

	return nil
}

// importRow drops the columns the interceptor owns and parses timestamps back from JSON.
func importRow(d scopes.Descriptor, raw map[string]any) intercept.Values {
	row := intercept.Values(lo.OmitByKeys(raw, lo.Compact([]string{
		d.TenantColumn,
		d.CreatorColumn,
		d.UpdaterColumn,
		d.UpdatedAtColumn,
	})))

	for _, col := range lo.Compact([]string{d.CreatedAtColumn, d.DeletedAtColumn}) {
		if _, ok := row[col].(string); !ok {
			continue
		}

		if t, err := cast.ToTimeE(row[col]); err == nil {
			row[col] = t.UTC()
		}
	}

	return row
}
