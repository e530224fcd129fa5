// Package memory provides thread-safe in-memory repositories. It backs tests
// and the memory storage driver used for local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

// Compile-time interface checks.
var (
	_ repository.Transactor             = (*Store)(nil)
	_ repository.RoleRepository         = (*roleRepo)(nil)
	_ repository.AssignmentRepository   = (*assignmentRepo)(nil)
	_ repository.AuditRepository        = (*auditRepo)(nil)
	_ repository.UserRepository         = (*userRepo)(nil)
	_ repository.OrganizationRepository = (*organizationRepo)(nil)
)

// Store holds every entity behind one lock. Writes made inside WithinTx are
// visible to other callers before commit; rollback replays an undo log.
type Store struct {
	mu sync.RWMutex

	roles         map[uuid.UUID]*model.Role
	assignments   []*model.Assignment
	audit         []*model.AuditRecord
	users         map[uuid.UUID]*model.User
	organizations map[uuid.UUID]*model.Organization
	auditSeq      int64
	lastAuditAt   time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		roles:         make(map[uuid.UUID]*model.Role),
		users:         make(map[uuid.UUID]*model.User),
		organizations: make(map[uuid.UUID]*model.Organization),
	}
}

func (s *Store) Roles() repository.RoleRepository                 { return &roleRepo{s} }
func (s *Store) Assignments() repository.AssignmentRepository     { return &assignmentRepo{s} }
func (s *Store) Audit() repository.AuditRepository                { return &auditRepo{s} }
func (s *Store) Users() repository.UserRepository                 { return &userRepo{s} }
func (s *Store) Organizations() repository.OrganizationRepository { return &organizationRepo{s} }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// AddOrganization registers an organization directly. Organizations are
// created outside the admin surface.
func (s *Store) AddOrganization(org *model.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	s.organizations[org.ID] = org.Clone()
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

type txKey struct{}

type memTx struct {
	mu   sync.Mutex
	undo []func()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{}
	txCtx, hooks := repository.WithTxHooks(context.WithValue(ctx, txKey{}, tx))

	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			hooks.RolledBack()
			panic(p)
		}
	}()

	if err = fn(txCtx); err != nil {
		tx.rollback()
		hooks.RolledBack()
		return err
	}
	if err = ctx.Err(); err != nil {
		tx.rollback()
		hooks.RolledBack()
		return err
	}

	hooks.Committed()
	return nil
}

func (t *memTx) rollback() {
	t.mu.Lock()
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// onRollback registers undo when ctx carries a transaction. Callers must
// not hold s.mu when the undo later runs; undo functions take it themselves.
func onRollback(ctx context.Context, undo func()) {
	tx, ok := ctx.Value(txKey{}).(*memTx)
	if !ok {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Roles
// ──────────────────────────────────────────────────

type roleRepo struct{ s *Store }

func (r *roleRepo) Create(ctx context.Context, role *model.Role) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return apperrors.DuplicateRole(role.Name)
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	s.roles[role.ID] = role.Clone()

	id := role.ID
	onRollback(ctx, func() {
		s.mu.Lock()
		delete(s.roles, id)
		s.mu.Unlock()
	})
	return nil
}

func (r *roleRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[id]
	if !ok {
		return nil, apperrors.RoleNotFound(id.String())
	}
	return role.Clone(), nil
}

func (r *roleRepo) GetByName(_ context.Context, name string) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, role := range r.s.roles {
		if role.Name == name {
			return role.Clone(), nil
		}
	}
	return nil, apperrors.RoleNotFound(name)
}

func (r *roleRepo) List(_ context.Context) ([]*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		out = append(out, role.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roleRepo) UpdatePermissions(ctx context.Context, id uuid.UUID, perms []permission.Permission) (*model.Role, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, apperrors.RoleNotFound(id.String())
	}
	prev := role.Clone()

	// Swap in a fresh value so readers holding a clone never see a mix.
	next := role.Clone()
	next.Permissions = append([]permission.Permission(nil), perms...)
	next.UpdatedAt = time.Now().UTC()
	s.roles[id] = next

	onRollback(ctx, func() {
		s.mu.Lock()
		s.roles[id] = prev
		s.mu.Unlock()
	})
	return next.Clone(), nil
}

// ──────────────────────────────────────────────────
// Assignments
// ──────────────────────────────────────────────────

type assignmentRepo struct{ s *Store }

func copyAssignment(a *model.Assignment) *model.Assignment {
	cp := *a
	return &cp
}

func (r *assignmentRepo) Create(ctx context.Context, a *model.Assignment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[a.RoleID]
	if !ok {
		return apperrors.RoleNotFound(a.RoleID.String())
	}
	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID && existing.Active() {
			return apperrors.AlreadyAssigned(role.Name)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	a.RoleName = role.Name
	s.assignments = append(s.assignments, copyAssignment(a))

	id := a.ID
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.assignments {
			if existing.ID == id {
				s.assignments = append(s.assignments[:i], s.assignments[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *assignmentRepo) Revoke(ctx context.Context, userID, roleID uuid.UUID, revokedBy *uuid.UUID, at time.Time) (*model.Assignment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.Active() {
			r.revokeLocked(ctx, a, revokedBy, at)
			return copyAssignment(a), nil
		}
	}
	name := roleID.String()
	if role, ok := s.roles[roleID]; ok {
		name = role.Name
	}
	return nil, apperrors.AssignmentNotFound(name)
}

func (r *assignmentRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, revokedBy *uuid.UUID, at time.Time) ([]*model.Assignment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Assignment
	for _, a := range s.assignments {
		if a.UserID == userID && a.Active() {
			r.revokeLocked(ctx, a, revokedBy, at)
			out = append(out, copyAssignment(a))
		}
	}
	return out, nil
}

func (r *assignmentRepo) revokeLocked(ctx context.Context, a *model.Assignment, revokedBy *uuid.UUID, at time.Time) {
	s := r.s
	revokedAt := at.UTC()
	a.RevokedAt = &revokedAt
	a.RevokedBy = revokedBy

	onRollback(ctx, func() {
		s.mu.Lock()
		a.RevokedAt = nil
		a.RevokedBy = nil
		s.mu.Unlock()
	})
}

func (r *assignmentRepo) ListActive(_ context.Context, userID uuid.UUID) ([]*model.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Assignment
	for _, a := range r.s.assignments {
		if a.UserID == userID && a.Active() {
			out = append(out, copyAssignment(a))
		}
	}
	sortAssignments(out)
	return out, nil
}

func (r *assignmentRepo) ListUserRoles(_ context.Context, userID uuid.UUID) ([]*model.UserRole, error) {
	return r.userRoles(userID, func(a *model.Assignment) bool { return a.Active() }), nil
}

func (r *assignmentRepo) ListUserRolesAt(_ context.Context, userID uuid.UUID, at time.Time) ([]*model.UserRole, error) {
	return r.userRoles(userID, func(a *model.Assignment) bool { return a.HeldAt(at) }), nil
}

func (r *assignmentRepo) userRoles(userID uuid.UUID, keep func(*model.Assignment) bool) []*model.UserRole {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var held []*model.Assignment
	for _, a := range r.s.assignments {
		if a.UserID == userID && keep(a) {
			held = append(held, a)
		}
	}
	sortAssignments(held)

	out := make([]*model.UserRole, 0, len(held))
	for _, a := range held {
		role, ok := r.s.roles[a.RoleID]
		if !ok {
			continue
		}
		out = append(out, &model.UserRole{
			Role:       role.Clone(),
			AssignedAt: a.AssignedAt,
			AssignedBy: a.AssignedBy,
		})
	}
	return out
}

func (r *assignmentRepo) CountUsersWithRole(_ context.Context, roleName string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := make(map[uuid.UUID]struct{})
	for _, a := range r.s.assignments {
		if a.Active() && a.RoleName == roleName {
			users[a.UserID] = struct{}{}
		}
	}
	return int64(len(users)), nil
}

// sortAssignments orders by assignment time; the stable sort keeps
// insertion order for equal timestamps.
func sortAssignments(as []*model.Assignment) {
	sort.SliceStable(as, func(i, j int) bool { return as[i].AssignedAt.Before(as[j].AssignedAt) })
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

type auditRepo struct{ s *Store }

func copyRecord(rec *model.AuditRecord) *model.AuditRecord {
	cp := *rec
	return &cp
}

func (r *auditRepo) Create(ctx context.Context, rec *model.AuditRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// Seq and CreatedAt are assigned together so a later seq never carries
	// an earlier timestamp.
	s.auditSeq++
	rec.Seq = s.auditSeq
	if rec.CreatedAt.Before(s.lastAuditAt) {
		rec.CreatedAt = s.lastAuditAt
	}
	s.lastAuditAt = rec.CreatedAt
	s.audit = append(s.audit, copyRecord(rec))

	seq := rec.Seq
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.audit {
			if existing.Seq == seq {
				s.audit = append(s.audit[:i], s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *auditRepo) List(_ context.Context, filter model.AuditFilter, page model.Pagination) ([]*model.AuditRecord, int64, error) {
	r.s.mu.RLock()
	var matched []*model.AuditRecord
	for _, rec := range r.s.audit {
		if matchAudit(rec, filter) {
			matched = append(matched, copyRecord(rec))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Seq > matched[j].Seq
	})

	total := int64(len(matched))
	return paginate(matched, page), total, nil
}

func matchAudit(rec *model.AuditRecord, f model.AuditFilter) bool {
	if f.ActorID != nil && (rec.ActorID == nil || *rec.ActorID != *f.ActorID) {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && rec.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && (rec.ResourceID == nil || *rec.ResourceID != f.ResourceID) {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.From != nil && rec.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func paginate[T any](items []T, page model.Pagination) []T {
	offset := page.Offset()
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit() > 0 && offset+page.Limit() < end {
		end = offset + page.Limit()
	}
	return items[offset:end]
}

// ──────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.DeletedAt == nil && strings.EqualFold(existing.Email, user.Email) {
			return apperrors.Conflict("email already registered")
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user.Clone()

	id := user.ID
	onRollback(ctx, func() {
		s.mu.Lock()
		delete(s.users, id)
		s.mu.Unlock()
	})
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, apperrors.NotFound("user", nil)
	}
	return u.Clone(), nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, apperrors.NotFound("user", nil)
}

func (r *userRepo) Update(ctx context.Context, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[user.ID]
	if !ok || prev.DeletedAt != nil {
		return apperrors.NotFound("user", nil)
	}
	for id, existing := range s.users {
		if id != user.ID && existing.DeletedAt == nil && strings.EqualFold(existing.Email, user.Email) {
			return apperrors.Conflict("email already registered")
		}
	}
	user.UpdatedAt = time.Now().UTC()
	s.users[user.ID] = user.Clone()

	onRollback(ctx, func() {
		s.mu.Lock()
		s.users[prev.ID] = prev
		s.mu.Unlock()
	})
	return nil
}

func (r *userRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[id]
	if !ok || prev.DeletedAt != nil {
		return apperrors.NotFound("user", nil)
	}
	next := prev.Clone()
	deletedAt := at.UTC()
	next.DeletedAt = &deletedAt
	s.users[id] = next

	onRollback(ctx, func() {
		s.mu.Lock()
		s.users[id] = prev
		s.mu.Unlock()
	})
	return nil
}

func (r *userRepo) List(_ context.Context, filter model.UserFilter) ([]*model.User, int64, error) {
	r.s.mu.RLock()
	term := strings.ToLower(filter.SearchTerm)
	var matched []*model.User
	for _, u := range r.s.users {
		if u.DeletedAt != nil {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(u.Name), term) && !strings.Contains(strings.ToLower(u.Email), term) {
			continue
		}
		matched = append(matched, u.Clone())
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Email < matched[j].Email
	})
	return paginate(matched, filter.Pagination), int64(len(matched)), nil
}

func (r *userRepo) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, u := range r.s.users {
		if u.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *userRepo) ListPendingDoctors(_ context.Context) ([]*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	doctors := make(map[uuid.UUID]struct{})
	for _, a := range r.s.assignments {
		if a.Active() && a.RoleName == permission.RoleDoctor {
			doctors[a.UserID] = struct{}{}
		}
	}

	var out []*model.User
	for id := range doctors {
		u, ok := r.s.users[id]
		if !ok || u.DeletedAt != nil || u.DoctorApprovedAt != nil {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *userRepo) ApproveDoctor(ctx context.Context, id uuid.UUID, by *uuid.UUID, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[id]
	if !ok || prev.DeletedAt != nil {
		return apperrors.NotFound("user", nil)
	}
	next := prev.Clone()
	approvedAt := at.UTC()
	next.DoctorApprovedAt = &approvedAt
	next.DoctorApprovedBy = by
	next.UpdatedAt = approvedAt
	s.users[id] = next

	onRollback(ctx, func() {
		s.mu.Lock()
		s.users[id] = prev
		s.mu.Unlock()
	})
	return nil
}

// ──────────────────────────────────────────────────
// Organizations
// ──────────────────────────────────────────────────

type organizationRepo struct{ s *Store }

func (r *organizationRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Organization, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	org, ok := r.s.organizations[id]
	if !ok || org.DeletedAt != nil {
		return nil, apperrors.NotFound("organization", nil)
	}
	return org.Clone(), nil
}

func (r *organizationRepo) List(_ context.Context, page model.Pagination) ([]*model.Organization, int64, error) {
	r.s.mu.RLock()
	var out []*model.Organization
	for _, org := range r.s.organizations {
		if org.DeletedAt == nil {
			out = append(out, org.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, page), int64(len(out)), nil
}

func (r *organizationRepo) SetVerified(ctx context.Context, id uuid.UUID, by *uuid.UUID, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.organizations[id]
	if !ok || prev.DeletedAt != nil {
		return apperrors.NotFound("organization", nil)
	}
	next := prev.Clone()
	verifiedAt := at.UTC()
	next.IsVerified = true
	next.VerifiedAt = &verifiedAt
	next.VerifiedBy = by
	next.UpdatedAt = verifiedAt
	s.organizations[id] = next

	onRollback(ctx, func() {
		s.mu.Lock()
		s.organizations[id] = prev
		s.mu.Unlock()
	})
	return nil
}

func (r *organizationRepo) Count(_ context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, org := range r.s.organizations {
		if org.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}
