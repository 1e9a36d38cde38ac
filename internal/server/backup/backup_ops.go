package backup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/store"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// Backup exports the caller's tenant as JSON. Only rows of the caller's tenant are ever read.
func (svc *BackupService) Backup(ctx context.Context, opts BackupOptions) ([]byte, error) {
	p, err := svc.authorize(ctx)
	if err != nil {
		return nil, err
	}

	data, err := svc.export(ctx, opts)
	if err != nil {
		return nil, err
	}

	data.TenantID = p.TenantID

	return json.Marshal(data)
}

func (svc *BackupService) export(ctx context.Context, opts BackupOptions) (*BackupData, error) {
	descriptors, err := svc.models(opts.Models)
	if err != nil {
		return nil, err
	}

	deleted := intercept.ExcludeDeleted
	if opts.IncludeDeleted {
		deleted = intercept.IncludeDeleted
	}

	data := &BackupData{
		Version:   BackupVersion,
		Timestamp: time.Now().UTC(),
		Models:    make(map[string][]map[string]any, len(descriptors)),
	}

	total := 0

	for _, d := range descriptors {
		rows, err := svc.db.Find(ctx, d.Model, tenantdb.Query{
			Order:   []intercept.Order{intercept.Asc(d.PrimaryKey)},
			Deleted: deleted,
		})
		if err != nil {
			return nil, err
		}

		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			out[i] = exportRow(row)
		}

		data.Models[d.Model] = out
		total += len(out)
	}

	log.Info(ctx, "tenant backup exported",
		log.Int("models", len(descriptors)),
		log.Int("rows", total),
	)

	return data, nil
}

// exportRow turns driver values into JSON friendly ones.
func exportRow(row store.Row) map[string]any {
	out := make(map[string]any, len(row))

	for k, v := range row {
		switch v := v.(type) {
		case []byte:
			out[k] = string(v)
		case time.Time:
			out[k] = v.UTC().Format(time.RFC3339Nano)
		default:
			out[k] = v
		}
	}

	return out
}
