package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/admin-rbac/internal/middleware"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository/memory"
	"github.com/jwalitptl/admin-rbac/internal/service/admin"
	"github.com/jwalitptl/admin-rbac/internal/service/assignment"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/internal/service/role"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
	"github.com/jwalitptl/admin-rbac/pkg/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	store   *memory.Store
	handler *Handler

	superAdmin    uuid.UUID
	hospitalAdmin uuid.UUID
	patient       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, middleware.RegisterValidators(permission.Default()))

	store := memory.New()
	auditor := audit.NewService(store.Audit(), metrics.Nop(), logger.Nop())
	roles := role.NewService(store, store.Roles(), permission.Default(), nil, auditor, logger.Nop())
	_, err := roles.Seed(context.Background())
	require.NoError(t, err)

	svc := admin.NewService(admin.Deps{
		Tx:            store,
		Engine:        rbac.NewEngine(store.Assignments(), nil, metrics.Nop(), logger.Nop()),
		Auditor:       auditor,
		Roles:         roles,
		Assignments:   assignment.NewService(store.Assignments(), nil, logger.Nop()),
		Users:         store.Users(),
		Organizations: store.Organizations(),
		Hasher:        security.NewBcryptHasher(4),
		Metrics:       metrics.Nop(),
		Logger:        logger.Nop(),
	})

	f := &fixture{store: store, handler: NewHandler(svc)}
	f.superAdmin = f.addUser(t, "root@example.com", permission.RoleSuperAdmin)
	f.hospitalAdmin = f.addUser(t, "admin@example.com", permission.RoleHospitalAdmin)
	f.patient = f.addUser(t, "pat@example.com", permission.RolePatient)
	return f
}

func (f *fixture) addUser(t *testing.T, email, roleName string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	u := &model.User{Name: email, Email: email}
	require.NoError(t, f.store.Users().Create(ctx, u))
	r, err := f.store.Roles().GetByName(ctx, roleName)
	require.NoError(t, err)
	require.NoError(t, f.store.Assignments().Create(ctx, &model.Assignment{UserID: u.ID, RoleID: r.ID}))
	return u.ID
}

// do sends a request as user, bypassing token authentication.
func (f *fixture) do(t *testing.T, user uuid.UUID, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, user)
		c.Next()
	})
	f.handler.RegisterRoutes(api)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/api/v1"+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, "/api/v1"+path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(t, f.hospitalAdmin, http.MethodDelete, "/admin/users/"+f.patient.String(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, resp.Message, "permission denied")

	w, _ = f.do(t, f.superAdmin, http.MethodDelete, "/admin/users/"+f.patient.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, f.superAdmin, http.MethodGet, "/admin/users/"+f.patient.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	body := `{"name":"Dr Who","email":"who@example.com","password":"tardis-1963","role":"doctor"}`

	w, resp := f.do(t, f.superAdmin, http.MethodPost, "/admin/users", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var user model.User
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	assert.Equal(t, "who@example.com", user.Email)
	assert.NotContains(t, string(resp.Data), "tardis")

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/users", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = f.do(t, f.superAdmin, http.MethodPost, "/admin/users", `{"name":"x","email":"nope","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation failed", resp.Message)
}

func TestAssignAndRevokeRole(t *testing.T) {
	f := newFixture(t)
	body := `{"user_id":"` + f.patient.String() + `","role_name":"doctor"}`

	w, _ := f.do(t, f.hospitalAdmin, http.MethodPost, "/admin/roles/assign", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/roles/assign", body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/roles/assign", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp := f.do(t, f.hospitalAdmin, http.MethodGet, "/admin/users/"+f.patient.String()+"/roles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"name":"doctor"`)

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/roles/revoke", body)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/roles/revoke", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/roles/assign",
		`{"user_id":"`+f.patient.String()+`","role_name":"wizard"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatientCannotAdminister(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/admin/users", "/admin/dashboard", "/admin/doctors/pending", "/admin/organizations"} {
		w, _ := f.do(t, f.patient, http.MethodGet, path, "")
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}

	recs, _, err := f.store.Audit().List(context.Background(),
		model.AuditFilter{ActorID: &f.patient, Outcome: model.OutcomeDenied}, model.Pagination{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}

func TestOrganizationsAndDashboard(t *testing.T) {
	f := newFixture(t)
	org := &model.Organization{Name: "St. Mary"}
	f.store.AddOrganization(org)

	w, resp := f.do(t, f.superAdmin, http.MethodGet, "/admin/organizations?page=1&page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"total":1`)

	w, resp = f.do(t, f.superAdmin, http.MethodPost, "/admin/organizations/"+org.ID.String()+"/verify", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(resp.Data), `"is_verified":true`)

	w, _ = f.do(t, f.superAdmin, http.MethodPost, "/admin/organizations/not-a-uuid/verify", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = f.do(t, f.superAdmin, http.MethodGet, "/admin/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.DashboardStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalPatients)
	assert.Equal(t, int64(1), stats.TotalOrganizations)
}

func TestMalformedInputAnsweredAfterAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	denied := func(actor uuid.UUID) int {
		recs, _, err := f.store.Audit().List(ctx,
			model.AuditFilter{ActorID: &actor, Outcome: model.OutcomeDenied}, model.Pagination{Page: 1, PageSize: 10})
		require.NoError(t, err)
		return len(recs)
	}

	// Without permission the shape of the input is never disclosed.
	w, resp := f.do(t, f.patient, http.MethodPost, "/admin/users", `{"email":"nope"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, resp.Message, "permission denied")

	w, _ = f.do(t, f.patient, http.MethodDelete, "/admin/users/not-a-uuid", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, f.hospitalAdmin, http.MethodPost, "/admin/roles/assign", `{"user_id":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, 2, denied(f.patient))
	assert.Equal(t, 1, denied(f.hospitalAdmin))

	// With permission the same requests are plain validation failures.
	w, resp = f.do(t, f.superAdmin, http.MethodPost, "/admin/users", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation failed", resp.Message)

	w, _ = f.do(t, f.superAdmin, http.MethodDelete, "/admin/users/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, f.hospitalAdmin, http.MethodGet, "/admin/users/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, denied(f.superAdmin))
	assert.Equal(t, 1, denied(f.hospitalAdmin))
}
