package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/repository"
)

// IdentityEvent is one identity-provider webhook event after transport
// decoding. EventType follows the provider naming (user.created,
// organization.updated, organizationMembership.deleted, ...).
type IdentityEvent struct {
	EventType      string
	ExternalUserID string
	Email          string
	ExternalOrgID  string
	OrgName        string
	ProviderRole   string
	OccurredAt     time.Time
	CorrelationID  string
}

// IdentityService mirrors the hosted identity provider into local tenant,
// user and role rows. Sync is idempotent: replaying an event leaves state
// unchanged and emits no duplicate audits.
type IdentityService struct {
	tenants repository.TenantRepository
	users   repository.UserRepository
	roles   repository.RoleRepository
	audit   *AuditService
	logger  *logrus.Logger
}

// NewIdentityService creates a new identity service
func NewIdentityService(
	tenants repository.TenantRepository,
	users repository.UserRepository,
	roles repository.RoleRepository,
	audit *AuditService,
	logger *logrus.Logger,
) *IdentityService {
	return &IdentityService{
		tenants: tenants,
		users:   users,
		roles:   roles,
		audit:   audit,
		logger:  logger,
	}
}

// ProcessEvent dispatches one identity webhook event
func (s *IdentityService) ProcessEvent(ctx context.Context, event IdentityEvent) error {
	switch event.EventType {
	case "user.created", "user.updated":
		return s.syncUser(ctx, event, true)
	case "user.deleted":
		return s.syncUser(ctx, event, false)
	case "organization.created", "organization.updated":
		_, err := s.syncTenant(ctx, event)
		return err
	case "organization.deleted":
		return s.deactivateTenant(ctx, event)
	case "organizationMembership.created", "organizationMembership.updated":
		return s.syncMembership(ctx, event)
	case "organizationMembership.deleted":
		return s.revokeMembership(ctx, event)
	default:
		s.logger.WithField("event_type", event.EventType).Debug("Ignoring unhandled identity event")
		return nil
	}
}

func (s *IdentityService) syncUser(ctx context.Context, event IdentityEvent, active bool) error {
	user, err := s.users.GetByExternalUserID(ctx, event.ExternalUserID)
	if errors.Is(err, repository.ErrNotFound) {
		user = &models.User{
			ExternalUserID: event.ExternalUserID,
			Email:          event.Email,
			IsActive:       active,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	changed := user.IsActive != active || (event.Email != "" && user.Email != event.Email)
	if !changed {
		return nil
	}
	user.IsActive = active
	if event.Email != "" {
		user.Email = event.Email
	}
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (s *IdentityService) syncTenant(ctx context.Context, event IdentityEvent) (*models.Tenant, error) {
	tenant, err := s.tenants.GetByExternalOrgID(ctx, event.ExternalOrgID)
	if errors.Is(err, repository.ErrNotFound) {
		tenant = &models.Tenant{
			ExternalOrgID: event.ExternalOrgID,
			Name:          event.OrgName,
			BillingTier:   models.TierFree,
			Status:        models.TenantActive,
		}
		if err := s.tenants.Create(ctx, tenant); err != nil {
			return nil, fmt.Errorf("failed to create tenant: %w", err)
		}
		return tenant, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	if event.OrgName != "" && tenant.Name != event.OrgName {
		tenant.Name = event.OrgName
		if err := s.tenants.Update(ctx, tenant); err != nil {
			return nil, fmt.Errorf("failed to update tenant: %w", err)
		}
	}
	return tenant, nil
}

func (s *IdentityService) deactivateTenant(ctx context.Context, event IdentityEvent) error {
	tenant, err := s.tenants.GetByExternalOrgID(ctx, event.ExternalOrgID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant.Status == models.TenantDeactivated {
		return nil
	}
	tenant.Status = models.TenantDeactivated
	return s.tenants.Update(ctx, tenant)
}

func (s *IdentityService) syncMembership(ctx context.Context, event IdentityEvent) error {
	tenant, err := s.syncTenant(ctx, event)
	if err != nil {
		return err
	}

	user, err := s.users.GetByExternalUserID(ctx, event.ExternalUserID)
	if errors.Is(err, repository.ErrNotFound) {
		user = &models.User{
			ExternalUserID: event.ExternalUserID,
			Email:          event.Email,
			IsActive:       true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	role := &models.UserTenantRole{
		UserID:   user.ID,
		TenantID: tenant.ID,
		Role:     models.MapIdentityRole(event.ProviderRole),
		IsActive: true,
		Source:   models.RoleSourceWebhook,
	}
	reactivated, created, err := s.roles.Upsert(ctx, role)
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}

	// role_assigned fires exactly once per grant or reactivation; replays of
	// an already-active grant stay silent.
	if created || reactivated {
		s.audit.Record(ctx, AuditEntry{
			TenantID:      tenant.ID,
			UserID:        &user.ID,
			Action:        models.ActionRoleAssigned,
			ResourceType:  "user_tenant_role",
			ResourceID:    string(role.Role),
			CorrelationID: event.CorrelationID,
			Metadata: map[string]interface{}{
				"role":          role.Role,
				"provider_role": event.ProviderRole,
				"source":        role.Source,
				"reactivated":   reactivated,
			},
			Source:  models.AuditSourceWebhook,
			Outcome: models.OutcomeSuccess,
		})
	}
	return nil
}

func (s *IdentityService) revokeMembership(ctx context.Context, event IdentityEvent) error {
	tenant, err := s.tenants.GetByExternalOrgID(ctx, event.ExternalOrgID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}

	user, err := s.users.GetByExternalUserID(ctx, event.ExternalUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	active, err := s.roles.ListActive(ctx, user.ID, tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	if err := s.roles.DeactivateAll(ctx, user.ID, tenant.ID); err != nil {
		return fmt.Errorf("failed to deactivate roles: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:      tenant.ID,
		UserID:        &user.ID,
		Action:        models.ActionRoleRevoked,
		ResourceType:  "user_tenant_role",
		CorrelationID: event.CorrelationID,
		Metadata: map[string]interface{}{
			"revoked_roles": roleNames(active),
		},
		Source:  models.AuditSourceWebhook,
		Outcome: models.OutcomeSuccess,
	})
	return nil
}

// Bootstrap creates a user with a viewer grant on the requested tenant. The
// guard calls it when a request arrives before the identity webhook did.
func (s *IdentityService) Bootstrap(ctx context.Context, externalUserID string, tenantID uuid.UUID) (*models.User, error) {
	user := &models.User{
		ExternalUserID: externalUserID,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to bootstrap user: %w", err)
	}

	role := &models.UserTenantRole{
		UserID:   user.ID,
		TenantID: tenantID,
		Role:     models.RoleMerchantViewer,
		IsActive: true,
		Source:   models.RoleSourceLazySync,
	}
	if _, _, err := s.roles.Upsert(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to bootstrap role: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		TenantID:     tenantID,
		UserID:       &user.ID,
		Action:       models.ActionUserBootstrapped,
		ResourceType: "user",
		ResourceID:   externalUserID,
		Metadata: map[string]interface{}{
			"role":   models.RoleMerchantViewer,
			"source": models.RoleSourceLazySync,
		},
		Source:  models.AuditSourceSystem,
		Outcome: models.OutcomeSuccess,
	})
	return user, nil
}

func roleNames(roles []models.UserTenantRole) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r.Role))
	}
	return names
}
