package scopes

// Model names of the business modules guarded by the data layer.
const (
	ModelTenants         = "doanh_nghiep"
	ModelUsers           = "users"
	ModelCustomers       = "customers"
	ModelInvoices        = "invoices"
	ModelCashflowEntries = "cashflow_entries"
	ModelAssets          = "assets"
	ModelRoutes          = "routes"
	ModelNotifications   = "notifications"
	ModelAuditEvents     = "audit_events"
)

// DefaultConfig is the manifest used when the configuration does not provide one.
func DefaultConfig() Config {
	return Config{
		Models: []ModelConfig{
			{Model: ModelTenants, Global: true, SoftDelete: true},
			{Model: ModelUsers, Global: true, SoftDelete: true},
			{Model: ModelCustomers, SoftDelete: true},
			{Model: ModelInvoices, SoftDelete: true},
			{Model: ModelCashflowEntries, SoftDelete: true},
			{Model: ModelAssets, SoftDelete: true},
			{Model: ModelRoutes, SoftDelete: true},
			{Model: ModelNotifications, SoftDelete: true},
			{Model: ModelAuditEvents},
		},
	}
}
