package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/license-console/license-console/internal/auth"
	"github.com/license-console/license-console/internal/crypto"
	"github.com/license-console/license-console/internal/db/models"
	"github.com/license-console/license-console/internal/db/repositories"
)

// fakeStore is an in-memory repositories.Store. WithTx snapshots the state and restores
// it when fn fails. Methods named in failures return the injected error.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	plans    map[string]*models.Plan
	orgs     map[string]*models.Organization
	audit    []*models.AuditLog
	seq      int
	failures map[string]error
	clock    *testClock

	// one-shot hooks run after the next read of that kind
	afterAuditList func()
	afterPlanRead  func()
}

func newFakeStore(clock *testClock) *fakeStore {
	return &fakeStore{
		plans:    map[string]*models.Plan{},
		orgs:     map[string]*models.Organization{},
		failures: map[string]error{},
		clock:    clock,
	}
}

func (s *fakeStore) failOn(method string, err error) { s.failures[method] = err }

func (s *fakeStore) fail(method string) error { return s.failures[method] }

// fire runs and clears a one-shot hook
func (s *fakeStore) fire(hook *func()) {
	if fn := *hook; fn != nil {
		*hook = nil
		fn()
	}
}

func (s *fakeStore) Plans() repositories.PlanStore                 { return fakePlans{s} }
func (s *fakeStore) Organizations() repositories.OrganizationStore { return fakeOrgs{s} }
func (s *fakeStore) Audit() repositories.AuditStore                { return fakeAudit{s} }

func (s *fakeStore) Ping(context.Context) error { return s.fail("Ping") }

func (s *fakeStore) WithTx(ctx context.Context, fn func(repositories.Repos) error) error {
	if err := s.fail("WithTx"); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	plans, orgs, audit := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.plans, s.orgs, s.audit = plans, orgs, audit
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) snapshot() (map[string]*models.Plan, map[string]*models.Organization, []*models.AuditLog) {
	plans := make(map[string]*models.Plan, len(s.plans))
	for k, v := range s.plans {
		plans[k] = clonePlan(v)
	}
	orgs := make(map[string]*models.Organization, len(s.orgs))
	for k, v := range s.orgs {
		orgs[k] = cloneOrg(v)
	}
	return plans, orgs, append([]*models.AuditLog(nil), s.audit...)
}

func clonePlan(p *models.Plan) *models.Plan {
	c := *p
	c.Features = append([]string{}, p.Features...)
	c.FeatureFlags = p.FeatureFlags.Complete()
	return &c
}

func cloneOrg(o *models.Organization) *models.Organization {
	c := *o
	return &c
}

// seedPlan stores a plan directly, bypassing the catalog
func (s *fakeStore) seedPlan(id, name string, seats, labs, concurrency int, flags ...string) *models.Plan {
	ff := models.FeatureFlags{}
	for _, f := range flags {
		ff[f] = true
	}
	p := &models.Plan{
		ID:            id,
		Name:          name,
		Features:      []string{},
		DefaultQuotas: models.QuotaTemplate{Seats: seats, Labs: labs, Concurrency: concurrency},
		FeatureFlags:  ff.Complete(),
		CreatedAt:     s.clock.Now(),
		UpdatedAt:     s.clock.Now(),
	}
	s.mu.Lock()
	s.plans[id] = clonePlan(p)
	s.mu.Unlock()
	return p
}

func (s *fakeStore) org(t *testing.T, id string) *models.Organization {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	require.True(t, ok, "organization %s not stored", id)
	return cloneOrg(o)
}

func (s *fakeStore) entries() []*models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditLog(nil), s.audit...)
}

func (s *fakeStore) lastEntry(t *testing.T) *models.AuditLog {
	t.Helper()
	e := s.entries()
	require.NotEmpty(t, e, "no audit entries")
	return e[len(e)-1]
}

// ---------------------------------------------------------------------------
// Plans
// ---------------------------------------------------------------------------

type fakePlans struct{ s *fakeStore }

func (f fakePlans) List(context.Context) ([]*models.Plan, error) {
	if err := f.s.fail("Plans.List"); err != nil {
		return nil, err
	}
	defer f.s.fire(&f.s.afterPlanRead)
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]*models.Plan, 0, len(f.s.plans))
	for _, p := range f.s.plans {
		out = append(out, clonePlan(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f fakePlans) GetByID(_ context.Context, id string) (*models.Plan, error) {
	if err := f.s.fail("Plans.GetByID"); err != nil {
		return nil, err
	}
	defer f.s.fire(&f.s.afterPlanRead)
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if p, ok := f.s.plans[id]; ok {
		return clonePlan(p), nil
	}
	return nil, nil
}

func (f fakePlans) GetByIDForUpdate(ctx context.Context, id string) (*models.Plan, error) {
	return f.GetByID(ctx, id)
}

func (f fakePlans) GetByName(_ context.Context, name string) (*models.Plan, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range f.s.plans {
		if strings.EqualFold(p.Name, name) {
			return clonePlan(p), nil
		}
	}
	return nil, nil
}

func (f fakePlans) Create(_ context.Context, plan *models.Plan) error {
	if err := f.s.fail("Plans.Create"); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.plans[plan.ID]; ok {
		return &pq.Error{Code: "23505"}
	}
	plan.CreatedAt = f.s.clock.Now()
	plan.UpdatedAt = plan.CreatedAt
	f.s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (f fakePlans) Update(_ context.Context, plan *models.Plan) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.plans[plan.ID]; !ok {
		return repositories.ErrNotFound
	}
	plan.UpdatedAt = f.s.clock.Now()
	f.s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (f fakePlans) Delete(_ context.Context, id string) error {
	if err := f.s.fail("Plans.Delete"); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.plans[id]; !ok {
		return repositories.ErrNotFound
	}
	for _, o := range f.s.orgs {
		if o.PlanID == id {
			return &pq.Error{Code: "23503"}
		}
	}
	delete(f.s.plans, id)
	return nil
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

type fakeOrgs struct{ s *fakeStore }

func (f fakeOrgs) GetByID(_ context.Context, id string) (*models.Organization, error) {
	if err := f.s.fail("Organizations.GetByID"); err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if o, ok := f.s.orgs[id]; ok {
		return cloneOrg(o), nil
	}
	return nil, nil
}

func (f fakeOrgs) GetByIDForUpdate(ctx context.Context, id string) (*models.Organization, error) {
	return f.GetByID(ctx, id)
}

func (f fakeOrgs) GetByKeyFingerprint(_ context.Context, fingerprint string) (*models.Organization, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, o := range f.s.orgs {
		if o.LicenseKeyFingerprint == fingerprint {
			return cloneOrg(o), nil
		}
	}
	return nil, nil
}

func (f fakeOrgs) sorted() []*models.Organization {
	out := make([]*models.Organization, 0, len(f.s.orgs))
	for _, o := range f.s.orgs {
		out = append(out, cloneOrg(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (f fakeOrgs) List(_ context.Context, filters models.OrganizationFilters, now time.Time, limit, offset int) ([]*models.Organization, int, error) {
	if err := f.s.fail("Organizations.List"); err != nil {
		return nil, 0, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	var matched []*models.Organization
	for _, o := range f.sorted() {
		if filters.Status != nil && o.EffectiveStatus(now) != *filters.Status {
			continue
		}
		if filters.PlanID != nil && o.PlanID != *filters.PlanID {
			continue
		}
		if filters.Search != nil &&
			!strings.Contains(strings.ToLower(o.Name), strings.ToLower(*filters.Search)) &&
			o.ID != *filters.Search {
			continue
		}
		matched = append(matched, o)
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (f fakeOrgs) ListLapsedForUpdate(_ context.Context, now time.Time, limit int) ([]*models.Organization, error) {
	if err := f.s.fail("Organizations.ListLapsedForUpdate"); err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Organization
	for _, o := range f.sorted() {
		if o.Lapsed(now) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f fakeOrgs) ListExpiringUnnotified(_ context.Context, now, until time.Time) ([]*models.Organization, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Organization
	for _, o := range f.sorted() {
		if o.Status == models.StatusActive && o.ExpiryNotifiedAt == nil &&
			o.ExpiresAt.After(now) && !o.ExpiresAt.After(until) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f fakeOrgs) CountByPlan(_ context.Context, planID string) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, o := range f.s.orgs {
		if o.PlanID == planID {
			n++
		}
	}
	return n, nil
}

func (f fakeOrgs) Create(_ context.Context, org *models.Organization) error {
	if err := f.s.fail("Organizations.Create"); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.seq++
	org.CreatedAt = f.s.clock.Now().Add(time.Duration(f.s.seq) * time.Microsecond)
	org.UpdatedAt = org.CreatedAt
	f.s.orgs[org.ID] = cloneOrg(org)
	return nil
}

// UpdateLifecycle keeps the stored usage counters, as the SQL statement does
func (f fakeOrgs) UpdateLifecycle(_ context.Context, org *models.Organization) error {
	if err := f.s.fail("Organizations.UpdateLifecycle"); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	stored, ok := f.s.orgs[org.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	org.Quotas.Seats.Current = stored.Quotas.Seats.Current
	org.Quotas.Labs.Current = stored.Quotas.Labs.Current
	org.Quotas.Concurrency.Current = stored.Quotas.Concurrency.Current
	org.UpdatedAt = f.s.clock.Now()
	f.s.orgs[org.ID] = cloneOrg(org)
	return nil
}

func (f fakeOrgs) SetUsage(_ context.Context, id string, usage repositories.UsageUpdate) (*models.Organization, error) {
	if err := f.s.fail("Organizations.SetUsage"); err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	o, ok := f.s.orgs[id]
	if !ok {
		return nil, nil
	}
	if usage.Seats != nil {
		o.Quotas.Seats.Current = *usage.Seats
	}
	if usage.Labs != nil {
		o.Quotas.Labs.Current = *usage.Labs
	}
	if usage.Concurrency != nil {
		o.Quotas.Concurrency.Current = *usage.Concurrency
	}
	o.UpdatedAt = f.s.clock.Now()
	return cloneOrg(o), nil
}

func (f fakeOrgs) MarkExpiryNotified(_ context.Context, id string, expiresAt, at time.Time) error {
	if err := f.s.fail("Organizations.MarkExpiryNotified"); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	o, ok := f.s.orgs[id]
	if !ok || !o.ExpiresAt.Equal(expiresAt) {
		return repositories.ErrNotFound
	}
	o.ExpiryNotifiedAt = &at
	return nil
}

func (f fakeOrgs) Stats(_ context.Context, now, expiringBefore time.Time, saturationPercent int) (*repositories.OrganizationStats, error) {
	if err := f.s.fail("Organizations.Stats"); err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	st := &repositories.OrganizationStats{ByStatus: map[string]int{}, ByPlan: map[string]int{}}
	for _, o := range f.s.orgs {
		st.Total++
		status := o.EffectiveStatus(now)
		st.ByStatus[string(status)]++
		st.ByPlan[o.PlanID]++
		if status == models.StatusActive && !o.ExpiresAt.After(expiringBefore) {
			st.ExpiringSoon++
		}
		if status == models.StatusRevoked {
			continue
		}
		if len(o.Quotas.OverCapacity()) > 0 {
			st.OverCapacity++
			continue
		}
		for _, dim := range models.QuotaDimensions() {
			q := o.Quotas.Get(dim)
			if q.Total > 0 && q.Current*100 >= q.Total*saturationPercent {
				st.Saturated++
				break
			}
		}
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

type fakeAudit struct{ s *fakeStore }

func (f fakeAudit) Append(_ context.Context, entry *models.AuditLog) error {
	if err := f.s.fail("Audit.Append"); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.seq++
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("entry-%04d", f.s.seq)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = f.s.clock.Now()
	}
	c := *entry
	f.s.audit = append(f.s.audit, &c)
	return nil
}

func matchesAudit(e *models.AuditLog, f models.AuditFilters) bool {
	switch {
	case f.Actor != nil && e.Actor != *f.Actor:
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	case f.ResourceType != nil && e.ResourceType != *f.ResourceType:
		return false
	case f.ResourceID != nil && e.ResourceID != *f.ResourceID:
		return false
	case f.OrganizationID != nil && (e.OrganizationID == nil || *e.OrganizationID != *f.OrganizationID):
		return false
	case f.From != nil && e.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && e.CreatedAt.After(*f.To):
		return false
	case f.Before != nil && !auditOlder(e, f.Before):
		return false
	}
	return true
}

func auditOlder(e *models.AuditLog, c *models.AuditCursor) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID < c.ID
	}
	return e.CreatedAt.Before(c.CreatedAt)
}

func (f fakeAudit) List(_ context.Context, filters models.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	if err := f.s.fail("Audit.List"); err != nil {
		return nil, 0, err
	}
	entries, total := f.list(filters, limit, offset)
	f.s.fire(&f.s.afterAuditList)
	return entries, total, nil
}

func (f fakeAudit) list(filters models.AuditFilters, limit, offset int) ([]*models.AuditLog, int) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var matched []*models.AuditLog
	for i := len(f.s.audit) - 1; i >= 0; i-- {
		if matchesAudit(f.s.audit[i], filters) {
			matched = append(matched, f.s.audit[i])
		}
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

func (f fakeAudit) GetByID(_ context.Context, id string) (*models.AuditLog, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.audit {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (f fakeAudit) CountSince(_ context.Context, since time.Time) (int, error) {
	if err := f.s.fail("Audit.CountSince"); err != nil {
		return 0, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, e := range f.s.audit {
		if !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingForwarder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *recordingForwarder) Forward(entries ...*models.AuditLog) {
	r.mu.Lock()
	r.entries = append(r.entries, entries...)
	r.mu.Unlock()
}

func (r *recordingForwarder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fixture struct {
	clock     *testClock
	store     *fakeStore
	forwarder *recordingForwarder
	cipher    *crypto.KeyCipher
	engine    *LicenseEngine
	catalog   *PlanCatalog
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()
	clock := newTestClock()
	store := newFakeStore(clock)
	fwd := &recordingForwarder{}

	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i + 1)
	}
	cipher, err := crypto.NewKeyCipher(master)
	require.NoError(t, err)

	store.seedPlan("starter", "Starter", 5, 2, 1, models.CapabilityCyberTraining)
	store.seedPlan("enterprise", "Enterprise", 100, 50, 20,
		models.CapabilityCyberTraining, models.CapabilitySSOOIDC, models.CapabilityAccessControl)

	return &fixture{
		clock:     clock,
		store:     store,
		forwarder: fwd,
		cipher:    cipher,
		engine:    NewLicenseEngine(store, auth.NewLicenseKeyGenerator("ORGX"), cipher, clock, fwd, cfg),
		catalog:   NewPlanCatalog(store, nil, fwd),
	}
}

// provision creates an organization on plan and returns it with its plaintext key
func (f *fixture) provision(t *testing.T, name, plan string) *KeyedOrganization {
	t.Helper()
	res, err := f.engine.Provision(context.Background(), "admin@example.com", ProvisionInput{
		Name:           name,
		ContactEmail:   "ops@" + strings.ToLower(strings.ReplaceAll(name, " ", "")) + ".example",
		PlanID:         plan,
		ValidityMonths: 12,
	})
	require.NoError(t, err)
	return res
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string    { return &v }
