package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/repositories"
)

// mockSchemaRepository is an in-memory SchemaRepository for one scope.
type mockSchemaRepository struct {
	mu     sync.Mutex
	// txMu serializes transactions so a rollback only undoes its own writes.
	txMu   sync.Mutex
	rows   map[uuid.UUID]*models.SchemaData
	users  map[uuid.UUID][]*models.User
	labels map[uuid.UUID]models.Labels
	conns  map[uuid.UUID]*models.ExternalConnection

	// errs makes the named method fail, e.g. errs["CreateUser"].
	errs map[string]error
	// hideOnFind hides a row from FindSchemaDataByID, to simulate a lost write.
	hideOnFind bool
}

func newMockSchemaRepository() *mockSchemaRepository {
	return &mockSchemaRepository{
		rows:   make(map[uuid.UUID]*models.SchemaData),
		users:  make(map[uuid.UUID][]*models.User),
		labels: make(map[uuid.UUID]models.Labels),
		conns:  make(map[uuid.UUID]*models.ExternalConnection),
		errs:   make(map[string]error),
	}
}

func (m *mockSchemaRepository) fail(method string) error {
	return m.errs[method]
}

type mockTxKey struct{}

// InTx restores the state seen at the start of the outermost transaction when
// fn fails. Nested calls join the outer transaction.
func (m *mockSchemaRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(mockTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, mockTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type mockRepoState struct {
	rows   map[uuid.UUID]*models.SchemaData
	users  map[uuid.UUID][]*models.User
	labels map[uuid.UUID]models.Labels
	conns  map[uuid.UUID]*models.ExternalConnection
}

func (m *mockSchemaRepository) snapshot() mockRepoState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := mockRepoState{
		rows:   make(map[uuid.UUID]*models.SchemaData, len(m.rows)),
		users:  make(map[uuid.UUID][]*models.User, len(m.users)),
		labels: make(map[uuid.UUID]models.Labels, len(m.labels)),
		conns:  make(map[uuid.UUID]*models.ExternalConnection, len(m.conns)),
	}
	for id, r := range m.rows {
		s.rows[id] = copyRow(r)
	}
	for id, u := range m.users {
		s.users[id] = copyUsers(u)
	}
	for id, l := range m.labels {
		s.labels[id] = l.Clone()
	}
	for id, c := range m.conns {
		cc := *c
		s.conns[id] = &cc
	}
	return s
}

func (m *mockSchemaRepository) restore(s mockRepoState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows, m.users, m.labels, m.conns = s.rows, s.users, s.labels, s.conns
}

func (m *mockSchemaRepository) CreateSchemaData(ctx context.Context, name string, schemaType models.SchemaType, createdAt time.Time) (*models.SchemaData, error) {
	if err := m.fail("CreateSchemaData"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if schemaType == models.SchemaTypeManaged {
		for _, r := range m.rows {
			if r.Name == name && r.SchemaType == models.SchemaTypeManaged {
				return nil, fmt.Errorf("schema %s: %w", name, apperrors.ErrConflict)
			}
		}
	}
	row := &models.SchemaData{ID: uuid.New(), Name: name, SchemaType: schemaType, Active: true, CreatedDate: createdAt}
	m.rows[row.ID] = row
	return copyRow(row), nil
}

func (m *mockSchemaRepository) FindSchemaDataByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.SchemaData, error) {
	if err := m.fail("FindSchemaDataByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || m.hideOnFind || (activeOnly && !row.Active) {
		return nil, apperrors.ErrNotFound
	}
	return copyRow(row), nil
}

func (m *mockSchemaRepository) FindSchemaDataByName(ctx context.Context, name string, activeOnly bool) (*models.SchemaData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if strings.EqualFold(row.Name, name) && (!activeOnly || row.Active) {
			return copyRow(row), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockSchemaRepository) FindSchemaData(ctx context.Context, filter repositories.SchemaDataFilter) ([]*models.SchemaData, error) {
	if err := m.fail("FindSchemaData"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SchemaData
	for _, row := range m.rows {
		if filter.Type != "" && row.SchemaType != filter.Type {
			continue
		}
		if filter.Active != nil && row.Active != *filter.Active {
			continue
		}
		if !MatchesAll(m.labels[row.ID], filter.Labels) {
			continue
		}
		out = append(out, copyRow(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSchemaRepository) FindSchemaDataDeleteAfterBefore(ctx context.Context, t time.Time) ([]*models.SchemaData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SchemaData
	for _, row := range m.rows {
		if !row.Active && row.DeleteAfter != nil && row.DeleteAfter.Before(t) {
			out = append(out, copyRow(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSchemaRepository) DeactivateSchemaData(ctx context.Context, id uuid.UUID, cooldownAt, deleteAfter time.Time) error {
	if err := m.fail("DeactivateSchemaData"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.Active = false
	row.SetToCooldownAt = &cooldownAt
	row.DeleteAfter = &deleteAfter
	return nil
}

func (m *mockSchemaRepository) ReactivateSchemaData(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.Active = true
	row.SetToCooldownAt = nil
	row.DeleteAfter = nil
	return nil
}

func (m *mockSchemaRepository) UpdateSchemaName(ctx context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.Name = name
	return nil
}

func (m *mockSchemaRepository) DeleteSchemaData(ctx context.Context, id uuid.UUID) error {
	if err := m.fail("DeleteSchemaData"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.rows, id)
	delete(m.users, id)
	delete(m.labels, id)
	delete(m.conns, id)
	return nil
}

func (m *mockSchemaRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := m.fail("CreateUser"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = uuid.New()
	u := *user
	m.users[user.SchemaID] = append(m.users[user.SchemaID], &u)
	return nil
}

func (m *mockSchemaRepository) FindUsersBySchemaID(ctx context.Context, schemaID uuid.UUID) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUsers(m.users[schemaID]), nil
}

func (m *mockSchemaRepository) FindAllUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for _, users := range m.users {
		out = append(out, copyUsers(users)...)
	}
	return out, nil
}

func (m *mockSchemaRepository) UpdateUser(ctx context.Context, user *models.User) error {
	if err := m.fail("UpdateUser"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users[user.SchemaID] {
		if u.ID == user.ID {
			*u = *user
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockSchemaRepository) ReplaceLabels(ctx context.Context, schemaID uuid.UUID, labels models.Labels) error {
	if err := m.fail("ReplaceLabels"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[schemaID] = labels.Clone()
	return nil
}

func (m *mockSchemaRepository) FindLabelsBySchemaID(ctx context.Context, schemaID uuid.UUID) (models.Labels, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labels[schemaID].Clone(), nil
}

func (m *mockSchemaRepository) FindAllLabels(ctx context.Context) (map[uuid.UUID]models.Labels, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]models.Labels, len(m.labels))
	for id, l := range m.labels {
		out[id] = l.Clone()
	}
	return out, nil
}

func (m *mockSchemaRepository) CreateExternalConnection(ctx context.Context, conn *models.ExternalConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conn
	m.conns[conn.SchemaID] = &c
	return nil
}

func (m *mockSchemaRepository) FindExternalConnection(ctx context.Context, schemaID uuid.UUID) (*models.ExternalConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[schemaID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *mockSchemaRepository) FindAllExternalConnections(ctx context.Context) (map[uuid.UUID]*models.ExternalConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]*models.ExternalConnection, len(m.conns))
	for id, c := range m.conns {
		cc := *c
		out[id] = &cc
	}
	return out, nil
}

func (m *mockSchemaRepository) UpdateExternalConnection(ctx context.Context, conn *models.ExternalConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[conn.SchemaID]; !ok {
		return apperrors.ErrNotFound
	}
	c := *conn
	m.conns[conn.SchemaID] = &c
	return nil
}

// row returns the stored row for assertions.
func (m *mockSchemaRepository) row(name string) *models.SchemaData {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Name == name {
			return copyRow(r)
		}
	}
	return nil
}

func copyRow(r *models.SchemaData) *models.SchemaData {
	out := *r
	return &out
}

func copyUsers(users []*models.User) []*models.User {
	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		uu := *u
		out = append(out, &uu)
	}
	return out
}

var _ repositories.SchemaRepository = (*mockSchemaRepository)(nil)

// mockManager is an in-memory engine.Manager that upper-cases names.
type mockManager struct {
	mu        sync.Mutex
	schemas   map[string]*models.PhysicalSchema
	passwords map[string]string
	sizes     []models.SchemaSize
	deleted   []string

	createErr   error
	passwordErr error
	deleteErr   error
	// failCreateFor makes Create fail for one name.
	failCreateFor string
}

func newMockManager() *mockManager {
	return &mockManager{
		schemas:   make(map[string]*models.PhysicalSchema),
		passwords: make(map[string]string),
	}
}

func (m *mockManager) Ping(ctx context.Context) error { return nil }

func (m *mockManager) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.schemas[strings.ToUpper(name)]
	return ok, nil
}

func (m *mockManager) Create(ctx context.Context, name, password string) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	safe := strings.ToUpper(name)
	if m.failCreateFor != "" && strings.EqualFold(m.failCreateFor, name) {
		return "", engine.WrapError("create schema "+safe, fmt.Errorf("ORA-01920: user name conflicts"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[safe] = &models.PhysicalSchema{Username: safe, Created: time.Now()}
	m.passwords[safe] = password
	return safe, nil
}

func (m *mockManager) UpdatePassword(ctx context.Context, name, password string) error {
	if m.passwordErr != nil {
		return m.passwordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[strings.ToUpper(name)] = password
	return nil
}

func (m *mockManager) FindByName(ctx context.Context, name string) (*models.PhysicalSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.schemas[strings.ToUpper(name)]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (m *mockManager) FindAllNonSystem(ctx context.Context) ([]*models.PhysicalSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PhysicalSchema
	for _, p := range m.schemas {
		pp := *p
		out = append(out, &pp)
	}
	return out, nil
}

func (m *mockManager) Delete(ctx context.Context, name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schemas, strings.ToUpper(name))
	m.deleted = append(m.deleted, strings.ToUpper(name))
	return nil
}

func (m *mockManager) SchemaSizes(ctx context.Context) ([]models.SchemaSize, error) {
	return m.sizes, nil
}

func (m *mockManager) Close() error { return nil }

// setLastLogin records a login for a physical schema.
func (m *mockManager) setLastLogin(name string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.schemas[strings.ToUpper(name)]; ok {
		p.LastLogin = &t
	}
}

// dropPhysical removes a schema behind the metadata store's back.
func (m *mockManager) dropPhysical(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schemas, strings.ToUpper(name))
}

func (m *mockManager) password(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passwords[strings.ToUpper(name)]
}

var _ engine.Manager = (*mockManager)(nil)

// mockTester is an engine.ConnectionTester with a canned result.
type mockTester struct {
	err    error
	closed bool
}

func (t *mockTester) TestConnection(ctx context.Context) error { return t.err }
func (t *mockTester) Close() error {
	t.closed = true
	return nil
}

// mockTesterFactory hands out mockTester values and records requests.
type mockTesterFactory struct {
	testErr   error
	createErr error
	requests  []string
	last      *mockTester
}

func (f *mockTesterFactory) NewConnectionTester(ctx context.Context, url, username, password string) (engine.ConnectionTester, error) {
	f.requests = append(f.requests, url+"|"+username+"|"+password)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.last = &mockTester{err: f.testErr}
	return f.last, nil
}
