package objects

// ModelInfo describes how the data layer guards one registered model.
type ModelInfo struct {
	Model           string `json:"model"`
	Table           string `json:"table"`
	TenantScoped    bool   `json:"tenantScoped"`
	TenantColumn    string `json:"tenantColumn,omitempty"`
	SoftDelete      bool   `json:"softDelete"`
	DeletedAtColumn string `json:"deletedAtColumn,omitempty"`
}
