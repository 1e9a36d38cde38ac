package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/server/backup"
	"github.com/looplj/tenantguard/internal/server/middleware"
)

// maxBackupSize bounds restore payloads.
const maxBackupSize = 64 << 20

type BackupHandlersParams struct {
	fx.In

	BackupService *backup.BackupService
}

func NewBackupHandlers(params BackupHandlersParams) *BackupHandlers {
	return &BackupHandlers{
		BackupService: params.BackupService,
	}
}

type BackupHandlers struct {
	BackupService *backup.BackupService
}

func splitModels(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(m string, _ int) string {
		return strings.TrimSpace(m)
	}))
}

func (h *BackupHandlers) Backup(c *gin.Context) {
	data, err := h.BackupService.Backup(c.Request.Context(), backup.BackupOptions{
		Models:         splitModels(c.Query("models")),
		IncludeDeleted: c.Query("deleted") == "include",
	})
	if err != nil {
		h.abort(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="tenant-backup.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (h *BackupHandlers) Restore(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBackupSize))
	if err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	strategy := backup.ConflictStrategy(c.DefaultQuery("conflict", string(backup.ConflictStrategySkip)))
	if !lo.Contains([]backup.ConflictStrategy{
		backup.ConflictStrategySkip,
		backup.ConflictStrategyOverwrite,
		backup.ConflictStrategyError,
	}, strategy) {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("unknown conflict strategy %q", strategy))
		return
	}

	result, err := h.BackupService.Restore(c.Request.Context(), data, backup.RestoreOptions{
		Models:           splitModels(c.Query("models")),
		ConflictStrategy: strategy,
	})
	if err != nil {
		h.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *BackupHandlers) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backup.ErrPermissionDenied):
		JSONError(c, http.StatusForbidden, err)
	case errors.Is(err, backup.ErrConflict):
		JSONError(c, http.StatusConflict, err)
	case errors.Is(err, backup.ErrVersionMismatch), errors.Is(err, scopes.ErrUnknownModel):
		JSONError(c, http.StatusBadRequest, err)
	default:
		var (
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
		)
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			JSONError(c, http.StatusBadRequest, errors.New("invalid backup payload"))
			return
		}

		middleware.AbortWithDataError(c, err)
	}
}
