package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/admin-rbac/internal/middleware"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository/memory"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/internal/service/role"
	"github.com/jwalitptl/admin-rbac/pkg/auth"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store   *memory.Store
	auditor *audit.Service
	tokens  *auth.TokenService
	router  *gin.Engine

	reader  uuid.UUID
	patient uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	auditor := audit.NewService(store.Audit(), metrics.Nop(), logger.Nop())
	roles := role.NewService(store, store.Roles(), permission.Default(), nil, auditor, logger.Nop())
	_, err := roles.Seed(ctx)
	require.NoError(t, err)

	tokens := auth.NewTokenService("test-secret", "admin-rbac", time.Hour)
	engine := rbac.NewEngine(store.Assignments(), nil, metrics.Nop(), logger.Nop())
	mw := middleware.NewAuthMiddleware(tokens, engine, auditor, permission.Default(), logger.Nop())

	r := gin.New()
	api := r.Group("/api/v1", mw.Authenticate())
	NewHandler(auditor, mw).RegisterRoutes(api)

	f := &fixture{store: store, auditor: auditor, tokens: tokens, router: r}
	f.reader = f.addUser(t, permission.RoleHospitalAdmin)
	f.patient = f.addUser(t, permission.RolePatient)
	return f
}

func (f *fixture) addUser(t *testing.T, roleName string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	r, err := f.store.Roles().GetByName(ctx, roleName)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, f.store.Assignments().Create(ctx, &model.Assignment{UserID: id, RoleID: r.ID}))
	return id
}

func (f *fixture) get(t *testing.T, user uuid.UUID, path string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := f.tokens.Generate(user, "u@example.com")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1"+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) record(t *testing.T, actor uuid.UUID, resourceID string, outcome model.Outcome) {
	t.Helper()
	_, err := f.auditor.Record(context.Background(), audit.Entry{
		Actor:        model.UserActor(actor, "10.0.0.1", "test"),
		Action:       model.ActionUpdateUser,
		ResourceType: model.ResourceUser,
		ResourceID:   resourceID,
		Outcome:      outcome,
		Details:      "test",
	})
	require.NoError(t, err)
}

type pageResponse struct {
	Status string          `json:"status"`
	Data   model.AuditPage `json:"data"`
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) model.AuditPage {
	t.Helper()
	var resp pageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Data
}

func TestAuditRoutesRequireAuditRead(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/audit/logs", "/audit/logs/user/" + f.reader.String(), "/audit/export"} {
		w := f.get(t, f.patient, path)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}

	page, err := f.auditor.QueryByUser(context.Background(), f.patient, model.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	for _, rec := range page.Records {
		assert.Equal(t, model.OutcomeDenied, rec.Outcome)
		assert.Equal(t, model.ResourceRoute, rec.ResourceType)
	}
}

func TestListLogsFilters(t *testing.T) {
	f := newFixture(t)
	target := uuid.NewString()
	f.record(t, f.reader, target, model.OutcomeSuccess)
	f.record(t, f.reader, target, model.OutcomeFailed)
	f.record(t, f.patient, uuid.NewString(), model.OutcomeSuccess)

	page := decodePage(t, f.get(t, f.reader, "/audit/logs?outcome=failed"))
	require.Len(t, page.Records, 1)
	assert.Equal(t, model.OutcomeFailed, page.Records[0].Outcome)

	page = decodePage(t, f.get(t, f.reader, "/audit/logs?actor_id="+f.patient.String()))
	require.Len(t, page.Records, 1)

	page = decodePage(t, f.get(t, f.reader, "/audit/logs/resource/user/"+target))
	require.Len(t, page.Records, 2)
	assert.Greater(t, page.Records[0].Seq, page.Records[1].Seq)

	page = decodePage(t, f.get(t, f.reader, "/audit/logs/user/"+f.reader.String()+"?page=1&page_size=1"))
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int64(2), page.Total)

	assert.Equal(t, http.StatusBadRequest, f.get(t, f.reader, "/audit/logs?outcome=maybe").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, f.reader, "/audit/logs?actor_id=nope").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, f.reader, "/audit/logs/user/nope").Code)
}

func TestExportLogs(t *testing.T) {
	f := newFixture(t)
	f.record(t, f.reader, uuid.NewString(), model.OutcomeSuccess)
	f.record(t, f.reader, uuid.NewString(), model.OutcomeSuccess)

	w := f.get(t, f.reader, "/audit/export?format=csv&actor_id="+f.reader.String())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, f.reader.String(), rows[1][2])

	w = f.get(t, f.reader, "/audit/export?format=json&actor_id="+f.reader.String())
	require.Equal(t, http.StatusOK, w.Code)
	var recs []*model.AuditRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	assert.Equal(t, http.StatusBadRequest, f.get(t, f.reader, "/audit/export?format=xml").Code)
}
