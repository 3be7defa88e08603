package services

// In-memory repository stubs shared across the service tests. Only the
// behavior a test exercises is modeled; everything else returns zero values.

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type stubAuditRepo struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (r *stubAuditRepo) Create(ctx context.Context, record *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *stubAuditRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.TenantID == tenantID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *stubAuditRepo) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Action)
	}
	return out
}

func newTestAudit() (*AuditService, *stubAuditRepo) {
	repo := &stubAuditRepo{}
	return NewAuditService(repo, nil, silentLogger()), repo
}

// memEntitlementCache is a map-backed EntitlementCacheStore
type memEntitlementCache struct {
	mu            sync.Mutex
	entries       map[string]*models.ResolvedEntitlement
	sets          int
	invalidations int
}

func newMemEntitlementCache() *memEntitlementCache {
	return &memEntitlementCache{entries: make(map[string]*models.ResolvedEntitlement)}
}

func (c *memEntitlementCache) Get(ctx context.Context, tenantID string) (*models.ResolvedEntitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resolved, ok := c.entries[tenantID]
	return resolved, ok
}

func (c *memEntitlementCache) Set(ctx context.Context, tenantID string, resolved *models.ResolvedEntitlement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = resolved
	c.sets++
	return nil
}

func (c *memEntitlementCache) Invalidate(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
	c.invalidations++
	return nil
}

// stubLocker records acquisitions and grants or denies them uniformly
type stubLocker struct {
	mu       sync.Mutex
	grant    bool
	acquired []string
	released []string
}

func (l *stubLocker) AcquireTenantLock(ctx context.Context, tenantID, purpose string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, purpose+":"+tenantID)
	return l.grant, nil
}

func (l *stubLocker) ReleaseTenantLock(ctx context.Context, tenantID, purpose string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, purpose+":"+tenantID)
	return nil
}

// stubSubscriptionRepo serves subscriptions from memory. listCandidates, when
// set, overrides the in-memory listing.
type stubSubscriptionRepo struct {
	mu             sync.Mutex
	subs           map[uuid.UUID]*models.Subscription
	byExternal     map[string]uuid.UUID
	listCandidates func(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error)
	listCalls      int
}

func newStubSubscriptionRepo() *stubSubscriptionRepo {
	return &stubSubscriptionRepo{
		subs:       make(map[uuid.UUID]*models.Subscription),
		byExternal: make(map[string]uuid.UUID),
	}
}

func (r *stubSubscriptionRepo) add(sub *models.Subscription) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	r.subs[sub.ID] = sub
	if sub.ExternalSubscriptionID != "" {
		r.byExternal[sub.ExternalSubscriptionID] = sub.ID
	}
}

func (r *stubSubscriptionRepo) ListCandidates(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error) {
	r.mu.Lock()
	r.listCalls++
	r.mu.Unlock()
	if r.listCandidates != nil {
		return r.listCandidates(ctx, tenantID)
	}
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.TenantID == tenantID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *stubSubscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sub := *r.subs[id]
	return &sub, nil
}

func (r *stubSubscriptionRepo) ListByStatuses(ctx context.Context, statuses []models.SubscriptionStatus) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range r.subs {
		for _, status := range statuses {
			if sub.Status == status {
				out = append(out, *sub)
				break
			}
		}
	}
	return out, nil
}

func (r *stubSubscriptionRepo) UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(*models.Subscription) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	staged := *sub
	if err := fn(&staged); err != nil {
		return err
	}
	*sub = staged
	return nil
}

type stubPlanRepo struct {
	plans  map[uuid.UUID]*models.Plan
	byName map[string]*models.Plan
}

func newStubPlanRepo() *stubPlanRepo {
	return &stubPlanRepo{
		plans:  make(map[uuid.UUID]*models.Plan),
		byName: make(map[string]*models.Plan),
	}
}

func (r *stubPlanRepo) add(plan *models.Plan) {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	r.plans[plan.ID] = plan
	r.byName[plan.Name] = plan
}

func (r *stubPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, ok := r.plans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return plan, nil
}

func (r *stubPlanRepo) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	plan, ok := r.byName[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return plan, nil
}

type stubOverrideRepo struct {
	active []models.TenantEntitlementOverride
}

func (r *stubOverrideRepo) ListActive(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]models.TenantEntitlementOverride, error) {
	return r.active, nil
}

func (r *stubOverrideRepo) Get(ctx context.Context, tenantID uuid.UUID, featureKey string) (*models.TenantEntitlementOverride, error) {
	return nil, repository.ErrNotFound
}

func (r *stubOverrideRepo) Upsert(ctx context.Context, override *models.TenantEntitlementOverride) error {
	return nil
}

func (r *stubOverrideRepo) Delete(ctx context.Context, tenantID uuid.UUID, featureKey string) (bool, error) {
	return false, nil
}

func (r *stubOverrideRepo) ListExpired(ctx context.Context, now time.Time) ([]models.TenantEntitlementOverride, error) {
	return nil, nil
}

func (r *stubOverrideRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	return nil
}

type stubBillingEventRepo struct {
	mu      sync.Mutex
	created []*models.BillingEvent
}

func (r *stubBillingEventRepo) ExistsByExternalEventID(ctx context.Context, externalEventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.created {
		if event.ExternalEventID == externalEventID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubBillingEventRepo) Create(ctx context.Context, event *models.BillingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, event)
	return nil
}

type stubCredentialRepo struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*models.ConnectorCredential
}

func newStubCredentialRepo() *stubCredentialRepo {
	return &stubCredentialRepo{creds: make(map[uuid.UUID]*models.ConnectorCredential)}
}

func (r *stubCredentialRepo) Create(ctx context.Context, cred *models.ConnectorCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	stored := *cred
	r.creds[cred.ID] = &stored
	return nil
}

func (r *stubCredentialRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok || cred.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	out := *cred
	return &out, nil
}

func (r *stubCredentialRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ConnectorCredential
	for _, cred := range r.creds {
		if cred.TenantID == tenantID {
			out = append(out, *cred)
		}
	}
	return out, nil
}

func (r *stubCredentialRepo) ListExpiring(ctx context.Context, before time.Time) ([]models.ConnectorCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ConnectorCredential
	for _, cred := range r.creds {
		if cred.Status == models.CredentialActive && cred.TokenExpiresAt != nil && cred.TokenExpiresAt.Before(before) {
			out = append(out, *cred)
		}
	}
	return out, nil
}

// UpdateWithLock mirrors the transactional contract: a returned error
// discards the staged changes.
func (r *stubCredentialRepo) UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(*models.ConnectorCredential) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return repository.ErrNotFound
	}
	staged := *cred
	if err := fn(&staged); err != nil {
		return err
	}
	*cred = staged
	return nil
}

func (r *stubCredentialRepo) get(id uuid.UUID) *models.ConnectorCredential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[id]
}

type stubConnectionRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*models.ConnectorConnection
}

func newStubConnectionRepo() *stubConnectionRepo {
	return &stubConnectionRepo{conns: make(map[uuid.UUID]*models.ConnectorConnection)}
}

func (r *stubConnectionRepo) add(conn *models.ConnectorConnection) {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	r.conns[conn.ID] = conn
}

func (r *stubConnectionRepo) Create(ctx context.Context, conn *models.ConnectorConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(conn)
	return nil
}

func (r *stubConnectionRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ConnectorConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok || conn.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	out := *conn
	return &out, nil
}

func (r *stubConnectionRepo) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*models.ConnectorConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.TenantID == tenantID && conn.ExternalConnectionID == externalID {
			out := *conn
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubConnectionRepo) FindActiveByShopDomain(ctx context.Context, normalizedDomain string) (*models.ConnectorConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.ShopDomain == normalizedDomain && conn.Status != models.ConnectionDeleted && conn.IsEnabled {
			out := *conn
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubConnectionRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ConnectorConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ConnectorConnection
	for _, conn := range r.conns {
		if conn.TenantID == tenantID && conn.Status != models.ConnectionDeleted {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *stubConnectionRepo) ListEnabled(ctx context.Context) ([]models.ConnectorConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ConnectorConnection
	for _, conn := range r.conns {
		if conn.IsEnabled && conn.Status != models.ConnectionDeleted {
			out = append(out, *conn)
		}
	}
	return out, nil
}

func (r *stubConnectionRepo) Update(ctx context.Context, conn *models.ConnectorConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conns[conn.ID]
	if !ok {
		return repository.ErrNotFound
	}
	*stored = *conn
	return nil
}

func (r *stubConnectionRepo) UpdateSyncState(ctx context.Context, tenantID, id uuid.UUID, at time.Time, status models.SyncRunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok || conn.TenantID != tenantID {
		return repository.ErrNotFound
	}
	conn.LastSyncAt = &at
	conn.LastSyncStatus = string(status)
	return nil
}

type stubSyncRunRepo struct {
	mu   sync.Mutex
	runs []*models.SyncRun
}

func (r *stubSyncRunRepo) Create(ctx context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}
	r.runs = append(r.runs, run)
	return nil
}

func (r *stubSyncRunRepo) Complete(ctx context.Context, runID uuid.UUID, status models.SyncRunStatus, rows int64, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.RunID == runID {
			now := time.Now().UTC()
			run.Status = status
			run.RowsSynced = rows
			run.ErrorMessage = errMsg
			run.CompletedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *stubSyncRunRepo) GetLatest(ctx context.Context, tenantID, connectorID uuid.UUID) (*models.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].TenantID == tenantID && r.runs[i].ConnectorID == connectorID {
			out := *r.runs[i]
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

type stubAvailabilityRepo struct {
	mu   sync.Mutex
	rows map[string]*models.DataAvailability
}

func newStubAvailabilityRepo() *stubAvailabilityRepo {
	return &stubAvailabilityRepo{rows: make(map[string]*models.DataAvailability)}
}

func availabilityKey(tenantID uuid.UUID, sourceType string) string {
	return tenantID.String() + ":" + sourceType
}

func (r *stubAvailabilityRepo) Get(ctx context.Context, tenantID uuid.UUID, sourceType string) (*models.DataAvailability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[availabilityKey(tenantID, sourceType)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (r *stubAvailabilityRepo) Upsert(ctx context.Context, availability *models.DataAvailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *availability
	r.rows[availabilityKey(availability.TenantID, availability.SourceType)] = &stored
	return nil
}

type stubTenantRepo struct {
	tenants map[uuid.UUID]*models.Tenant
}

func newStubTenantRepo() *stubTenantRepo {
	return &stubTenantRepo{tenants: make(map[uuid.UUID]*models.Tenant)}
}

func (r *stubTenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, ok := r.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tenant, nil
}

func (r *stubTenantRepo) GetByExternalOrgID(ctx context.Context, externalOrgID string) (*models.Tenant, error) {
	for _, tenant := range r.tenants {
		if tenant.ExternalOrgID == externalOrgID {
			return tenant, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubTenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *stubTenantRepo) Update(ctx context.Context, tenant *models.Tenant) error {
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *stubTenantRepo) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	return ids, nil
}
