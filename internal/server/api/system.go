package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/build"
	"github.com/looplj/tenantguard/internal/objects"
	"github.com/looplj/tenantguard/internal/scopes"
)

type SystemHandlersParams struct {
	fx.In

	Registry *scopes.Registry
}

func NewSystemHandlers(params SystemHandlersParams) *SystemHandlers {
	return &SystemHandlers{
		Registry: params.Registry,
	}
}

type SystemHandlers struct {
	Registry *scopes.Registry
}

type HealthResponse struct {
	Status string     `json:"status"`
	Build  build.Info `json:"build"`
}

func (h *SystemHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Build:  build.GetBuildInfo(),
	})
}

// Models lists the registered models with their tenancy metadata.
func (h *SystemHandlers) Models(c *gin.Context) {
	c.JSON(http.StatusOK, lo.Map(h.Registry.Descriptors(), func(d scopes.Descriptor, _ int) objects.ModelInfo {
		return objects.ModelInfo{
			Model:           d.Model,
			Table:           d.Table,
			TenantScoped:    d.TenantScoped(),
			TenantColumn:    d.TenantColumn,
			SoftDelete:      d.SoftDelete,
			DeletedAtColumn: d.DeletedAtColumn,
		}
	}))
}
