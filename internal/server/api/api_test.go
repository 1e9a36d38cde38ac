package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/objects"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/server/backup"
	"github.com/looplj/tenantguard/internal/server/biz"
	"github.com/looplj/tenantguard/internal/server/middleware"
	"github.com/looplj/tenantguard/internal/store/memstore"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := scopes.MustNewRegistry(scopes.DefaultConfig())
	db := tenantdb.New(intercept.NewEngine(registry), memstore.New())

	authSvc := biz.NewAuthService(biz.AuthServiceParams{
		Config: biz.AuthConfig{SecretKey: "api-secret", TokenTTL: time.Hour},
		DB:     db,
	})
	tenantSvc := biz.NewTenantService(biz.TenantServiceParams{DB: db})
	notificationSvc := biz.NewNotificationService(biz.NotificationServiceParams{DB: db})

	system := NewSystemHandlers(SystemHandlersParams{Registry: registry})
	auth := NewAuthHandlers(AuthHandlersParams{AuthService: authSvc, TenantService: tenantSvc})
	records := NewRecordHandlers(RecordHandlersParams{DB: db})
	notifications := NewNotificationHandlers(NotificationHandlersParams{NotificationService: notificationSvc})
	backups := NewBackupHandlers(BackupHandlersParams{BackupService: backup.NewBackupService(backup.BackupServiceParams{DB: db})})

	router := gin.New()
	router.GET("/health", system.Health)
	router.POST("/auth/signup", auth.SignUp)
	router.POST("/auth/signin", auth.SignIn)

	secured := router.Group("/api", middleware.WithExecutionContext(authSvc))
	secured.GET("/admin/models", middleware.RequireRole("admin"), system.Models)
	secured.GET("/records/:model", records.List)
	secured.POST("/records/:model", records.Create)
	secured.GET("/records/:model/:id", records.Get)
	secured.PATCH("/records/:model/:id", records.Update)
	secured.DELETE("/records/:model/:id", records.Delete)
	secured.POST("/records/:model/:id/restore", records.Restore)
	secured.GET("/reports/:model", records.Report)
	secured.POST("/notifications", notifications.Send)
	secured.GET("/notifications", notifications.List)
	secured.POST("/notifications/:id/read", notifications.MarkRead)
	secured.GET("/backup", backups.Backup)
	secured.POST("/restore", backups.Restore)

	return &testServer{t: t, router: router}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)

		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())

	return v
}

func (s *testServer) signUp(company, email string) SignInResponse {
	s.t.Helper()

	w := s.do(http.MethodPost, "/auth/signup", "", biz.RegisterTenantInput{
		CompanyName: company,
		Email:       email,
		Password:    "correct-horse",
	})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	return decode[SignInResponse](s.t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestSignInAfterSignUp(t *testing.T) {
	s := newTestServer(t)
	owner := s.signUp("Acme", "owner@acme.test")

	w := s.do(http.MethodPost, "/auth/signin", "", SignInRequest{Email: "owner@acme.test", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, owner.User, decode[SignInResponse](t, w).User)

	w = s.do(http.MethodPost, "/auth/signin", "", SignInRequest{Email: "owner@acme.test", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/signup", "", biz.RegisterTenantInput{
		CompanyName: "Again", Email: "owner@acme.test", Password: "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRecords_TenantIsolation(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")
	b := s.signUp("Globex", "owner@globex.test")

	w := s.do(http.MethodPost, "/api/records/invoices", a.Token, map[string]any{"number": "INV-1", "amount": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[map[string]any](t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, a.User.TenantID.String(), created[scopes.DefaultTenantColumn])
	assert.Equal(t, a.User.ID.String(), created[scopes.DefaultCreatorColumn])

	w = s.do(http.MethodGet, "/api/records/invoices", b.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[ListResponse](t, w).Total)

	w = s.do(http.MethodGet, "/api/records/invoices/"+id, b.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPatch, "/api/records/invoices/"+id, b.Token, map[string]any{"amount": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/api/records/invoices/"+id, b.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Explicitly asking for another tenant is rejected, never answered.
	w = s.do(http.MethodGet, "/api/records/invoices?where[id_doanh_nghiep]="+a.User.TenantID.String(), b.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "INV-1")

	w = s.do(http.MethodGet, "/api/records/invoices", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[ListResponse](t, w).Total)
}

func TestRecords_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")

	w := s.do(http.MethodPost, "/api/records/customers", a.Token, map[string]any{"name": "Initech", "segment": "smb"})
	require.Equal(t, http.StatusCreated, w.Code)

	id := decode[map[string]any](t, w)["id"].(string)

	w = s.do(http.MethodPatch, "/api/records/customers/"+id, a.Token, map[string]any{"segment": "enterprise"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "enterprise", decode[map[string]any](t, w)["segment"])

	w = s.do(http.MethodPatch, "/api/records/customers/"+id, a.Token, map[string]any{"created_at": "2020-01-01T00:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, col := range []string{"deleted_at", "creator_id", "id"} {
		w = s.do(http.MethodPatch, "/api/records/customers/"+id, a.Token, map[string]any{col: nil})
		assert.Equal(t, http.StatusBadRequest, w.Code, col)
	}

	w = s.do(http.MethodDelete, "/api/records/customers/"+id, a.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/api/records/customers/"+id, a.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/records/customers?deleted=only", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[ListResponse](t, w).Total)

	w = s.do(http.MethodPost, "/api/records/customers/"+id+"/restore", a.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/api/records/customers/"+id, a.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/records/audit_events/"+id+"/restore", a.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecords_GlobalModelsHidden(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")

	for _, model := range []string{scopes.ModelUsers, scopes.ModelTenants, "unknown"} {
		w := s.do(http.MethodGet, "/api/records/"+model, a.Token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, model)
	}
}

func TestRecords_BadQuery(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")

	for _, q := range []string{"?limit=-1", "?offset=x", "?deleted=maybe"} {
		w := s.do(http.MethodGet, "/api/records/invoices"+q, a.Token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestRecords_ExpressionColumnsRejected(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")
	b := s.signUp("Globex", "owner@globex.test")

	w := s.do(http.MethodPost, "/api/records/invoices", b.Token, map[string]any{"status": "b-secret"})
	require.Equal(t, http.StatusCreated, w.Code)

	queries := []url.Values{
		{"where[(1=1) OR (1=1)]": {"x"}},
		{"order": {"(select 1)"}},
		{"where[status]": {"x"}, "order": {"-status desc"}},
	}

	for _, q := range queries {
		w = s.do(http.MethodGet, "/api/records/invoices?"+q.Encode(), a.Token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q.Encode())
		assert.NotContains(t, w.Body.String(), "b-secret")
	}

	reports := []url.Values{
		{"func": {"sum"}, "column": {"max(amount)"}},
		{"group_by": {"status,count(*)"}},
	}

	for _, q := range reports {
		w = s.do(http.MethodGet, "/api/reports/invoices?"+q.Encode(), a.Token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q.Encode())
	}

	w = s.do(http.MethodPost, "/api/records/invoices", a.Token, map[string]any{"status = 'x' --": "y"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/records/invoices", a.Token, map[string]any{
		"status":                   "x",
		scopes.DefaultTenantColumn: b.User.TenantID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/records/invoices", b.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[ListResponse](t, w).Total)
}

func TestReport(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")
	b := s.signUp("Globex", "owner@globex.test")

	for _, inv := range []map[string]any{
		{"status": "paid", "amount": 100},
		{"status": "paid", "amount": 50},
		{"status": "open", "amount": 30},
	} {
		require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/records/invoices", a.Token, inv).Code)
	}

	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, "/api/records/invoices", b.Token, map[string]any{"status": "paid", "amount": 1000}).Code)

	w := s.do(http.MethodGet, "/api/reports/invoices?func=sum&column=amount", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 180, decode[ReportResponse](t, w).Value, 0.001)

	w = s.do(http.MethodGet, "/api/reports/invoices?func=sum&column=amount&group_by=status&order=status", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[ReportResponse](t, w).Groups, 2)

	w = s.do(http.MethodGet, "/api/reports/invoices?func=median&column=amount", a.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/reports/invoices?func=sum", a.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminModels(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")

	w := s.do(http.MethodGet, "/api/admin/models", a.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	h := NewSystemHandlers(SystemHandlersParams{Registry: scopes.MustNewRegistry(scopes.DefaultConfig())})
	router := gin.New()
	router.GET("/models", h.Models)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	models := decode[[]objects.ModelInfo](t, rec)
	require.Len(t, models, len(scopes.DefaultConfig().Models))

	byName := make(map[string]objects.ModelInfo, len(models))
	for _, m := range models {
		byName[m.Model] = m
	}

	assert.False(t, byName[scopes.ModelTenants].TenantScoped)
	assert.True(t, byName[scopes.ModelInvoices].TenantScoped)
	assert.False(t, byName[scopes.ModelAuditEvents].SoftDelete)
}

func TestNotifications(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")
	b := s.signUp("Globex", "owner@globex.test")

	w := s.do(http.MethodPost, "/api/notifications", a.Token, biz.Notification{
		RecipientID: &a.User.ID,
		Title:       "your invoice was paid",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[map[string]any](t, w)
	id := created["id"].(string)
	assert.Equal(t, a.User.TenantID.String(), created["id_doanh_nghiep"])

	w = s.do(http.MethodGet, "/api/notifications", b.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))

	w = s.do(http.MethodGet, "/api/notifications?unread=true", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/notifications/"+id+"/read", b.Token, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/notifications/"+id+"/read", a.Token, nil).Code)

	w = s.do(http.MethodGet, "/api/notifications?unread=true", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))
}

func TestNotifications_ForeignTenantRefused(t *testing.T) {
	s := newTestServer(t)
	a := s.signUp("Acme", "owner@acme.test")
	b := s.signUp("Globex", "owner@globex.test")

	w := s.do(http.MethodPost, "/api/notifications", a.Token, biz.Notification{
		RecipientID: &b.User.ID,
		Title:       "reset your password here",
	})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/notifications", a.Token, map[string]any{
		"tenant_id": b.User.TenantID,
		"title":     "reset your password here",
	})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	// The recipient's tenant wins over a claimed one.
	w = s.do(http.MethodPost, "/api/notifications", a.Token, map[string]any{
		"tenant_id":    a.User.TenantID,
		"recipient_id": b.User.ID,
		"title":        "reset your password here",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	ghost := uuid.New()
	w = s.do(http.MethodPost, "/api/notifications", a.Token, biz.Notification{RecipientID: &ghost, Title: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/notifications", b.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))
}

func TestBackupRestore(t *testing.T) {
	s := newTestServer(t)
	acme := s.signUp("Acme", "owner@acme.test")
	globex := s.signUp("Globex", "owner@globex.test")

	w := s.do(http.MethodPost, "/api/records/customers", acme.Token, map[string]any{"name": "Wile E."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customer := decode[map[string]any](t, w)

	w = s.do(http.MethodPost, "/api/records/customers", globex.Token, map[string]any{"name": "Hank"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/api/backup?models=customers", acme.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	snapshot := decode[backup.BackupData](t, w)
	require.Len(t, snapshot.Models["customers"], 1)
	assert.Equal(t, customer["id"], snapshot.Models["customers"][0]["id"])

	w = s.do(http.MethodPatch, "/api/records/customers/"+customer["id"].(string), acme.Token, map[string]any{"name": "Road Runner"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/restore?conflict=overwrite", acme.Token, map[string]any{"version": "0.1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)

	w = s.do(http.MethodPost, "/api/restore?conflict=bogus", acme.Token, json.RawMessage(raw))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/restore?conflict=overwrite", acme.Token, json.RawMessage(raw))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[backup.RestoreResult](t, w).Overwritten["customers"])

	w = s.do(http.MethodGet, "/api/records/customers/"+customer["id"].(string), acme.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Wile E.", decode[map[string]any](t, w)["name"])

	w = s.do(http.MethodPost, "/api/restore?conflict=error", globex.Token, json.RawMessage(raw))
	assert.Equal(t, http.StatusConflict, w.Code)
}
