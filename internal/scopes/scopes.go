// Package scopes is the tenant-scope registry: static knowledge of which models carry a
// tenant column, which support soft delete, and how their audit columns are named.
//
// A Registry is built once at startup from a manifest and never changes afterwards.
package scopes

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Default column names of the persisted-state convention.
const (
	DefaultPrimaryKey      = "id"
	DefaultTenantColumn    = "id_doanh_nghiep"
	DefaultDeletedAtColumn = "deleted_at"
	DefaultCreatorColumn   = "creator_id"
	DefaultUpdaterColumn   = "updater_id"
	DefaultCreatedAtColumn = "created_at"
	DefaultUpdatedAtColumn = "updated_at"
)

var (
	ErrUnknownModel    = errors.New("scopes: unknown model")
	ErrInvalidManifest = errors.New("scopes: invalid manifest")
)

// Descriptor is the per-model tenancy metadata.
type Descriptor struct {
	Model      string
	Table      string
	PrimaryKey string
	// TenantColumn is empty for global models.
	TenantColumn    string
	SoftDelete      bool
	DeletedAtColumn string
	CreatorColumn   string
	UpdaterColumn   string
	CreatedAtColumn string
	UpdatedAtColumn string
}

// TenantScoped reports whether rows of the model are owned by a tenant.
func (d Descriptor) TenantScoped() bool {
	return d.TenantColumn != ""
}

// ProtectedColumns are the columns a caller can never set through an update payload.
func (d Descriptor) ProtectedColumns() []string {
	return lo.Compact([]string{d.PrimaryKey, d.CreatorColumn, d.CreatedAtColumn, d.DeletedAtColumn})
}

// ModelConfig is one manifest entry. Empty column names fall back to the defaults.
type ModelConfig struct {
	Model string `conf:"model" yaml:"model" json:"model"`
	Table string `conf:"table" yaml:"table" json:"table"`
	// Global marks a model without tenant owner, e.g. the tenant table itself.
	Global          bool   `conf:"global" yaml:"global" json:"global"`
	SoftDelete      bool   `conf:"soft_delete" yaml:"soft_delete" json:"soft_delete"`
	PrimaryKey      string `conf:"primary_key" yaml:"primary_key" json:"primary_key"`
	TenantColumn    string `conf:"tenant_column" yaml:"tenant_column" json:"tenant_column"`
	DeletedAtColumn string `conf:"deleted_at_column" yaml:"deleted_at_column" json:"deleted_at_column"`
	CreatorColumn   string `conf:"creator_column" yaml:"creator_column" json:"creator_column"`
	UpdaterColumn   string `conf:"updater_column" yaml:"updater_column" json:"updater_column"`
	CreatedAtColumn string `conf:"created_at_column" yaml:"created_at_column" json:"created_at_column"`
	UpdatedAtColumn string `conf:"updated_at_column" yaml:"updated_at_column" json:"updated_at_column"`
}

type Config struct {
	Models []ModelConfig `conf:"models" yaml:"models" json:"models"`
}

func (c ModelConfig) descriptor() Descriptor {
	d := Descriptor{
		Model:           c.Model,
		Table:           lo.CoalesceOrEmpty(c.Table, c.Model),
		PrimaryKey:      lo.CoalesceOrEmpty(c.PrimaryKey, DefaultPrimaryKey),
		SoftDelete:      c.SoftDelete,
		CreatorColumn:   lo.CoalesceOrEmpty(c.CreatorColumn, DefaultCreatorColumn),
		UpdaterColumn:   lo.CoalesceOrEmpty(c.UpdaterColumn, DefaultUpdaterColumn),
		CreatedAtColumn: lo.CoalesceOrEmpty(c.CreatedAtColumn, DefaultCreatedAtColumn),
		UpdatedAtColumn: lo.CoalesceOrEmpty(c.UpdatedAtColumn, DefaultUpdatedAtColumn),
	}

	if !c.Global {
		d.TenantColumn = lo.CoalesceOrEmpty(c.TenantColumn, DefaultTenantColumn)
	}

	if c.SoftDelete {
		d.DeletedAtColumn = lo.CoalesceOrEmpty(c.DeletedAtColumn, DefaultDeletedAtColumn)
	}

	return d
}

func (d Descriptor) validate() error {
	if d.Model == "" {
		return fmt.Errorf("%w: empty model name", ErrInvalidManifest)
	}

	if d.SoftDelete && d.DeletedAtColumn == "" {
		return fmt.Errorf("%w: model %s supports soft delete without a deleted-at column", ErrInvalidManifest, d.Model)
	}

	columns := lo.Compact([]string{
		d.PrimaryKey, d.TenantColumn, d.DeletedAtColumn,
		d.CreatorColumn, d.UpdaterColumn, d.CreatedAtColumn, d.UpdatedAtColumn,
	})
	if dup := lo.FindDuplicates(columns); len(dup) > 0 {
		return fmt.Errorf("%w: model %s reuses column %v for several roles", ErrInvalidManifest, d.Model, dup)
	}

	return nil
}

// Registry answers tenancy questions about models. It is safe for concurrent use because it is never mutated.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry validates the manifest and builds the registry.
func NewRegistry(cfg Config) (*Registry, error) {
	descriptors := make(map[string]Descriptor, len(cfg.Models))

	for _, mc := range cfg.Models {
		d := mc.descriptor()
		if err := d.validate(); err != nil {
			return nil, err
		}

		if _, exists := descriptors[d.Model]; exists {
			return nil, fmt.Errorf("%w: duplicate model %s", ErrInvalidManifest, d.Model)
		}

		descriptors[d.Model] = d
	}

	return &Registry{descriptors: descriptors}, nil
}

// MustNewRegistry is NewRegistry for startup code, it panics on an invalid manifest.
func MustNewRegistry(cfg Config) *Registry {
	r, err := NewRegistry(cfg)
	if err != nil {
		panic(err)
	}

	return r
}

// Describe returns the descriptor of model, or ErrUnknownModel.
func (r *Registry) Describe(model string) (Descriptor, error) {
	d, ok := r.descriptors[model]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	return d, nil
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	models := lo.Keys(r.descriptors)
	slices.Sort(models)

	return models
}

// Descriptors returns all descriptors ordered by model name.
func (r *Registry) Descriptors() []Descriptor {
	return lo.Map(r.Models(), func(m string, _ int) Descriptor {
		return r.descriptors[m]
	})
}

// SoftDeleteModels returns the descriptors of models supporting soft delete.
func (r *Registry) SoftDeleteModels() []Descriptor {
	return lo.Filter(r.Descriptors(), func(d Descriptor, _ int) bool {
		return d.SoftDelete
	})
}
