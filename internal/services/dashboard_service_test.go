package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// stubDashboardRepo models enough of the transactional contract to exercise
// the limit, optimistic-lock and version-cap behavior.
type stubDashboardRepo struct {
	mu       sync.Mutex
	dashes   map[uuid.UUID]*models.CustomDashboard
	reports  map[uuid.UUID][]models.DashboardReport
	versions map[uuid.UUID][]*models.DashboardVersion
	shares   map[uuid.UUID][]models.DashboardShare
}

func newStubDashboardRepo() *stubDashboardRepo {
	return &stubDashboardRepo{
		dashes:   make(map[uuid.UUID]*models.CustomDashboard),
		reports:  make(map[uuid.UUID][]models.DashboardReport),
		versions: make(map[uuid.UUID][]*models.DashboardVersion),
		shares:   make(map[uuid.UUID][]models.DashboardShare),
	}
}

func (r *stubDashboardRepo) CreateWithLimit(ctx context.Context, dash *models.CustomDashboard, maxDashboards int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, existing := range r.dashes {
		if existing.TenantID != dash.TenantID || existing.Status == models.DashboardArchived {
			continue
		}
		if existing.Name == dash.Name {
			return repository.ErrNameConflict
		}
		count++
	}
	if maxDashboards > 0 && count >= maxDashboards {
		return repository.ErrLimitExceeded
	}
	if dash.ID == uuid.Nil {
		dash.ID = uuid.New()
	}
	dash.UpdatedAt = time.Now().UTC()
	stored := *dash
	r.dashes[dash.ID] = &stored
	return nil
}

func (r *stubDashboardRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.CustomDashboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dash, ok := r.dashes[id]
	if !ok || dash.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	out := *dash
	return &out, nil
}

func (r *stubDashboardRepo) CountNonArchived(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, dash := range r.dashes {
		if dash.TenantID == tenantID && dash.Status != models.DashboardArchived {
			count++
		}
	}
	return count, nil
}

func (r *stubDashboardRepo) UpdateOptimistic(ctx context.Context, dash *models.CustomDashboard, expectedUpdatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.dashes[dash.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return repository.ErrStaleUpdate
	}
	dash.UpdatedAt = time.Now().UTC()
	*stored = *dash
	return nil
}

func (r *stubDashboardRepo) Update(ctx context.Context, dash *models.CustomDashboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.dashes[dash.ID]
	if !ok {
		return repository.ErrNotFound
	}
	dash.UpdatedAt = time.Now().UTC()
	*stored = *dash
	return nil
}

func (r *stubDashboardRepo) ListReports(ctx context.Context, tenantID, dashboardID uuid.UUID) ([]models.DashboardReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[dashboardID], nil
}

func (r *stubDashboardRepo) ReplaceReports(ctx context.Context, tenantID, dashboardID uuid.UUID, reports []models.DashboardReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range reports {
		reports[i].ID = uuid.New()
	}
	r.reports[dashboardID] = reports
	return nil
}

func (r *stubDashboardRepo) CreateVersion(ctx context.Context, version *models.DashboardVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	stored := *version
	r.versions[version.DashboardID] = append(r.versions[version.DashboardID], &stored)
	return nil
}

func (r *stubDashboardRepo) GetVersion(ctx context.Context, tenantID, dashboardID uuid.UUID, versionNumber int) (*models.DashboardVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, version := range r.versions[dashboardID] {
		if version.TenantID == tenantID && version.VersionNumber == versionNumber {
			out := *version
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubDashboardRepo) CountVersions(ctx context.Context, dashboardID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.versions[dashboardID])), nil
}

func (r *stubDashboardRepo) PruneVersions(ctx context.Context, dashboardID uuid.UUID, cap int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.versions[dashboardID]
	if len(versions) <= cap {
		return 0, nil
	}
	pruned := len(versions) - cap
	r.versions[dashboardID] = versions[pruned:]
	return int64(pruned), nil
}

func (r *stubDashboardRepo) ListShares(ctx context.Context, tenantID, dashboardID uuid.UUID) ([]models.DashboardShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shares[dashboardID], nil
}

func (r *stubDashboardRepo) oldestVersionNumber(dashboardID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.versions[dashboardID]
	if len(versions) == 0 {
		return 0
	}
	return versions[0].VersionNumber
}

// newDashboardFixture wires a dashboard service against a pre-resolved
// entitlement so billing state and limits are controlled per test.
func newDashboardFixture(tenantID uuid.UUID, access models.AccessLevel, maxDashboards int) (*DashboardService, *stubDashboardRepo) {
	cache := newMemEntitlementCache()
	_ = cache.Set(context.Background(), tenantID.String(), &models.ResolvedEntitlement{
		PlanName:     "growth",
		BillingState: models.BillingStateActive,
		AccessLevel:  access,
		Limits:       models.PlanLimits{MaxDashboards: maxDashboards},
	})

	audit, _ := newTestAudit()
	entitlements := NewEntitlementService(newStubSubscriptionRepo(), newStubPlanRepo(), &stubOverrideRepo{}, cache, nil, audit, silentLogger(), config.EntitlementConfig{
		LockTimeoutSeconds: 5,
		FreePlanName:       "free",
	})

	repo := newStubDashboardRepo()
	return NewDashboardService(repo, entitlements, audit, silentLogger()), repo
}

func TestCreateDashboardEnforcesLimit(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	svc, _ := newDashboardFixture(tenantID, models.AccessFull, 2)
	ctx := context.Background()

	_, err := svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)
	_, err = svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Cohorts"})
	assert.NoError(t, err)

	_, err = svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Attribution"})
	assert.True(t, IsCode(err, CodeDashboardLimitExceeded))
}

func TestCreateDashboardNameConflict(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	svc, _ := newDashboardFixture(tenantID, models.AccessFull, 10)
	ctx := context.Background()

	_, err := svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)
	_, err = svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.True(t, IsCode(err, CodeDashboardNameConflict))
}

func TestCreateDashboardArchivingFreesNameAndSlot(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	svc, _ := newDashboardFixture(tenantID, models.AccessFull, 1)
	ctx := context.Background()

	dash, err := svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)
	assert.NoError(t, svc.Archive(ctx, tenantID, dash.ID, userID))

	_, err = svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)
}

func TestCreateDashboardDeniedWithoutWriteAccess(t *testing.T) {
	tenantID := uuid.New()
	svc, _ := newDashboardFixture(tenantID, models.AccessReadOnly, 10)

	_, err := svc.Create(context.Background(), tenantID, uuid.New(), CreateDashboardInput{Name: "Revenue"})
	assert.True(t, IsCode(err, CodePaymentRequired))
}

func TestUpdateDashboardOptimisticLock(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	svc, repo := newDashboardFixture(tenantID, models.AccessFull, 10)
	ctx := context.Background()

	dash, err := svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)

	current, err := repo.GetByID(ctx, tenantID, dash.ID)
	assert.NoError(t, err)

	updated, err := svc.Update(ctx, tenantID, dash.ID, userID, UpdateDashboardInput{
		Name:              "Revenue v2",
		ExpectedUpdatedAt: current.UpdatedAt,
		ChangeSummary:     "rename",
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, updated.VersionNumber)

	// A second writer still holding the old timestamp loses.
	_, err = svc.Update(ctx, tenantID, dash.ID, userID, UpdateDashboardInput{
		Name:              "Revenue v3",
		ExpectedUpdatedAt: current.UpdatedAt,
	})
	assert.True(t, IsCode(err, CodeOptimisticLockConflict))

	stored, err := repo.GetByID(ctx, tenantID, dash.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Revenue v2", stored.Name)

	count, err := repo.CountVersions(ctx, dash.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpdateDashboardRequiresWriteShare(t *testing.T) {
	tenantID := uuid.New()
	ownerID := uuid.New()
	readerID := uuid.New()
	editorID := uuid.New()
	svc, repo := newDashboardFixture(tenantID, models.AccessFull, 10)
	ctx := context.Background()

	dash, err := svc.Create(ctx, tenantID, ownerID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)
	repo.shares[dash.ID] = []models.DashboardShare{
		{DashboardID: dash.ID, TenantID: tenantID, UserID: readerID, AccessLevel: models.DashboardAccessRead},
		{DashboardID: dash.ID, TenantID: tenantID, UserID: editorID, AccessLevel: models.DashboardAccessEdit},
	}

	current, err := repo.GetByID(ctx, tenantID, dash.ID)
	assert.NoError(t, err)

	_, err = svc.Update(ctx, tenantID, dash.ID, readerID, UpdateDashboardInput{
		Name:              "Hijacked",
		ExpectedUpdatedAt: current.UpdatedAt,
	})
	assert.True(t, IsCode(err, CodeEntitlementDenied))

	// A stranger with no share cannot even read.
	_, err = svc.Get(ctx, tenantID, dash.ID, uuid.New())
	assert.True(t, IsCode(err, CodeEntitlementDenied))

	_, err = svc.Update(ctx, tenantID, dash.ID, editorID, UpdateDashboardInput{
		Name:              "Revenue v2",
		ExpectedUpdatedAt: current.UpdatedAt,
	})
	assert.NoError(t, err)
}

func TestDashboardVersionCapPrunesOldest(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	svc, repo := newDashboardFixture(tenantID, models.AccessFull, 10)
	ctx := context.Background()

	dash, err := svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)

	// Push well past the cap; each write snapshots one version.
	for i := 0; i < models.DashboardVersionCap+9; i++ {
		current, err := repo.GetByID(ctx, tenantID, dash.ID)
		assert.NoError(t, err)
		_, err = svc.Update(ctx, tenantID, dash.ID, userID, UpdateDashboardInput{
			ExpectedUpdatedAt: current.UpdatedAt,
			ChangeSummary:     "tweak",
		})
		assert.NoError(t, err)
	}

	count, err := repo.CountVersions(ctx, dash.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(models.DashboardVersionCap), count)
	// 60 versions were written; FIFO pruning keeps the newest fifty.
	assert.Equal(t, 11, repo.oldestVersionNumber(dash.ID))
}

func TestRestoreDashboardVersionBumpsVersion(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	svc, repo := newDashboardFixture(tenantID, models.AccessFull, 10)
	ctx := context.Background()

	dash, err := svc.Create(ctx, tenantID, userID, CreateDashboardInput{Name: "Revenue"})
	assert.NoError(t, err)

	current, err := repo.GetByID(ctx, tenantID, dash.ID)
	assert.NoError(t, err)
	_, err = svc.Update(ctx, tenantID, dash.ID, userID, UpdateDashboardInput{
		ExpectedUpdatedAt: current.UpdatedAt,
		Reports: []models.DashboardReport{
			{Position: 0, Title: "Net revenue"},
			{Position: 1, Title: "AOV"},
		},
		ChangeSummary: "add reports",
	})
	assert.NoError(t, err)

	restored, err := svc.Restore(ctx, tenantID, dash.ID, userID, 1)
	assert.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)

	// Version 1 was snapshotted at create time, before any reports existed.
	reports, err := repo.ListReports(ctx, tenantID, dash.ID)
	assert.NoError(t, err)
	assert.Empty(t, reports)
}
