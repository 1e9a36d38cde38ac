package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/server/middleware"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

const maxPageSize = 500

type RecordHandlersParams struct {
	fx.In

	DB *tenantdb.Client
}

func NewRecordHandlers(params RecordHandlersParams) *RecordHandlers {
	return &RecordHandlers{
		DB: params.DB,
	}
}

// RecordHandlers exposes the tenant-scoped models over REST. Every call goes through the
// tenant-isolated client with the execution bound by the auth middleware.
type RecordHandlers struct {
	DB *tenantdb.Client
}

type ListResponse struct {
	Items []map[string]any `json:"items"`
	Total int              `json:"total"`
}

func (h *RecordHandlers) model(c *gin.Context) (string, bool) {
	d, ok := h.descriptor(c)
	return d.Model, ok
}

func (h *RecordHandlers) descriptor(c *gin.Context) (scopes.Descriptor, bool) {
	d, err := h.DB.Registry().Describe(c.Param("model"))
	if err != nil || !d.TenantScoped() {
		JSONError(c, http.StatusNotFound, errors.New("unknown model"))
		return scopes.Descriptor{}, false
	}

	return d, true
}

// checkColumns rejects names that are not plain column identifiers.
func checkColumns(names ...string) error {
	for _, name := range names {
		if !intercept.ValidColumn(name) {
			return fmt.Errorf("invalid column %q", name)
		}
	}

	return nil
}

// checkQuery validates the client supplied parts of q against d before it reaches the data layer.
func checkQuery(ctx context.Context, d scopes.Descriptor, q tenantdb.Query) error {
	for _, cond := range q.Filter.All {
		if err := checkColumns(cond.Column); err != nil {
			return err
		}

		if cond.Column == d.TenantColumn && !callerTenant(ctx, cond.Value) {
			return errors.New("filter names another tenant")
		}
	}

	for _, o := range q.Order {
		if err := checkColumns(o.Column); err != nil {
			return err
		}
	}

	return nil
}

// checkPayload validates a create or update body against d.
func checkPayload(ctx context.Context, d scopes.Descriptor, payload intercept.Values, update bool) error {
	for col, v := range payload {
		if err := checkColumns(col); err != nil {
			return err
		}

		if col == d.TenantColumn && !callerTenant(ctx, v) {
			return errors.New("payload names another tenant")
		}

		if update && lo.Contains(d.ProtectedColumns(), col) {
			return fmt.Errorf("column %q cannot be updated", col)
		}
	}

	return nil
}

func callerTenant(ctx context.Context, v any) bool {
	exec, ok := contexts.Current(ctx)
	if !ok || !exec.HasTenant() {
		return false
	}

	return cast.ToString(v) == exec.TenantID.String()
}

// abortWithRecordError answers 400 for operations the data layer refused because of client input.
func abortWithRecordError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, intercept.ErrInvalidOperation),
		errors.Is(err, intercept.ErrProtectedColumn),
		errors.Is(err, intercept.ErrCrossTenantViolation):
		JSONError(c, http.StatusBadRequest, errors.New("invalid request"))
	default:
		middleware.AbortWithDataError(c, err)
	}
}

func parseQuery(c *gin.Context) (tenantdb.Query, error) {
	q := tenantdb.Query{}

	for column, value := range c.QueryMap("where") {
		q.Filter = q.Filter.And(intercept.EQ(column, value))
	}

	if order := c.Query("order"); order != "" {
		for _, col := range strings.Split(order, ",") {
			if name, desc := strings.CutPrefix(col, "-"); desc {
				q.Order = append(q.Order, intercept.Desc(name))
			} else {
				q.Order = append(q.Order, intercept.Asc(col))
			}
		}
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := cast.ToIntE(raw)
		if err != nil || limit < 0 {
			return q, errors.New("invalid limit")
		}

		q.Limit = min(limit, maxPageSize)
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := cast.ToIntE(raw)
		if err != nil || offset < 0 {
			return q, errors.New("invalid offset")
		}

		q.Offset = offset
	}

	switch c.DefaultQuery("deleted", "exclude") {
	case "exclude":
		q.Deleted = intercept.ExcludeDeleted
	case "include":
		q.Deleted = intercept.IncludeDeleted
	case "only":
		q.Deleted = intercept.OnlyDeleted
	default:
		return q, errors.New("deleted must be one of exclude, include, only")
	}

	return q, nil
}

func (h *RecordHandlers) List(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}

	model := d.Model
	ctx := c.Request.Context()

	q, err := parseQuery(c)
	if err == nil {
		err = checkQuery(ctx, d, q)
	}

	if err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	items, err := h.DB.Find(ctx, model, q)
	if err != nil {
		abortWithRecordError(c, err)
		return
	}

	total, err := h.DB.Count(ctx, model, tenantdb.Query{Filter: q.Filter, Deleted: q.Deleted})
	if err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Items: items, Total: total})
}

func (h *RecordHandlers) Get(c *gin.Context) {
	model, ok := h.model(c)
	if !ok {
		return
	}

	row, err := h.DB.Get(c.Request.Context(), model, c.Param("id"))
	if err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.JSON(http.StatusOK, row)
}

func (h *RecordHandlers) Create(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}

	var payload intercept.Values
	if err := c.ShouldBindJSON(&payload); err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	ctx := c.Request.Context()

	if err := checkPayload(ctx, d, payload, false); err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	row, err := h.DB.Create(ctx, d.Model, payload)
	if err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.JSON(http.StatusCreated, row)
}

func (h *RecordHandlers) Update(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}

	model := d.Model

	var payload intercept.Values
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload) == 0 {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	ctx := c.Request.Context()

	if err := checkPayload(ctx, d, payload, true); err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.DB.Update(ctx, model, c.Param("id"), payload); err != nil {
		abortWithRecordError(c, err)
		return
	}

	row, err := h.DB.Get(ctx, model, c.Param("id"))
	if err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.JSON(http.StatusOK, row)
}

func (h *RecordHandlers) Delete(c *gin.Context) {
	model, ok := h.model(c)
	if !ok {
		return
	}

	if err := h.DB.Delete(c.Request.Context(), model, c.Param("id")); err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *RecordHandlers) Restore(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}

	if !d.SoftDelete {
		JSONError(c, http.StatusBadRequest, errors.New("model does not support restore"))
		return
	}

	if err := h.DB.Restore(c.Request.Context(), d.Model, c.Param("id")); err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ReportResponse struct {
	Value  float64          `json:"value"`
	Groups []map[string]any `json:"groups,omitempty"`
}

// Report aggregates a model: ?func=sum&column=amount&group_by=status.
// Without group_by a single value is returned.
func (h *RecordHandlers) Report(c *gin.Context) {
	d, ok := h.descriptor(c)
	if !ok {
		return
	}

	model := d.Model
	ctx := c.Request.Context()

	q, err := parseQuery(c)
	if err == nil {
		err = checkQuery(ctx, d, q)
	}

	if err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	agg := intercept.Aggregate{
		Func:   intercept.AggFunc(c.DefaultQuery("func", string(intercept.AggCount))),
		Column: c.Query("column"),
	}

	switch agg.Func {
	case intercept.AggCount, intercept.AggSum, intercept.AggAvg, intercept.AggMin, intercept.AggMax:
	default:
		JSONError(c, http.StatusBadRequest, errors.New("unsupported aggregate function"))
		return
	}

	if agg.Func != intercept.AggCount && agg.Column == "" {
		JSONError(c, http.StatusBadRequest, errors.New("column is required"))
		return
	}

	if agg.Column != "" {
		if err := checkColumns(agg.Column); err != nil {
			JSONError(c, http.StatusBadRequest, err)
			return
		}
	}

	if groupBy := c.Query("group_by"); groupBy != "" {
		columns := strings.Split(groupBy, ",")
		if err := checkColumns(columns...); err != nil {
			JSONError(c, http.StatusBadRequest, err)
			return
		}

		groups, err := h.DB.GroupBy(ctx, model, columns, agg, q)
		if err != nil {
			abortWithRecordError(c, err)
			return
		}

		c.JSON(http.StatusOK, ReportResponse{Groups: groups})

		return
	}

	value, err := h.DB.Aggregate(ctx, model, agg, q)
	if err != nil {
		abortWithRecordError(c, err)
		return
	}

	c.JSON(http.StatusOK, ReportResponse{Value: value})
}
