package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org.Metadata == nil {
		org.Metadata = datatypes.JSONMap{}
	}
	if org.SubscriptionStatus == "" {
		org.SubscriptionStatus = domain.SubscriptionTrialing
	}
	// Nested under a caller's transaction this runs in a savepoint, so a
	// slug conflict leaves the outer transaction usable on postgres.
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Exec(
			`INSERT INTO organizations (id, name, slug, subscription_status, logo_url, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			org.ID,
			org.Name,
			org.Slug,
			org.SubscriptionStatus,
			org.LogoURL,
			org.Metadata,
			org.CreatedAt,
			org.UpdatedAt,
		).Error
	})
}

func (r *repository) GetOrganization(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", orgID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) UpdateOrganization(ctx context.Context, orgID snowflake.ID, patch domain.OrganizationPatch, now time.Time) error {
	updates := map[string]any{"updated_at": now}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.LogoURL != nil {
		if *patch.LogoURL == "" {
			updates["logo_url"] = nil
		} else {
			updates["logo_url"] = *patch.LogoURL
		}
	}
	return r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ?", orgID).
		Updates(updates).Error
}

func (r *repository) UpdateSubscriptionStatus(ctx context.Context, orgID snowflake.ID, status string, now time.Time) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations SET subscription_status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		orgID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func (r *repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM organizations WHERE slug = ?`,
		slug,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateMembership(ctx context.Context, member *domain.OrganizationMember) error {
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO organization_members (id, org_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ID,
		member.OrgID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrMembershipExists
	}
	return err
}

func (r *repository) FindMembership(ctx context.Context, userID, orgID snowflake.ID) (*domain.OrganizationMember, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) FirstMembership(ctx context.Context, userID snowflake.ID) (*domain.OrganizationMember, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) ListMemberships(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug, m.role, o.subscription_status, o.created_at
		 FROM organizations o
		 JOIN organization_members m ON m.org_id = o.id
		 WHERE m.user_id = ?
		 ORDER BY m.created_at ASC, m.id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListMembers(ctx context.Context, orgID snowflake.ID) ([]domain.MemberListItem, error) {
	var items []domain.MemberListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT m.user_id, u.email, u.display_name, m.role, m.created_at
		 FROM organization_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.org_id = ?
		 ORDER BY m.created_at ASC, m.id ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) GetProfile(ctx context.Context, userID snowflake.ID) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) EnsureProfile(ctx context.Context, userID snowflake.ID, now time.Time) (*domain.Profile, error) {
	profile := domain.Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&profile).Error
	if err != nil {
		return nil, err
	}
	return r.GetProfile(ctx, userID)
}

func (r *repository) UpsertActiveOrg(ctx context.Context, userID, orgID snowflake.ID, now time.Time) error {
	profile := domain.Profile{UserID: userID, ActiveOrgID: &orgID, CreatedAt: now, UpdatedAt: now}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"active_org_id": orgID,
				"updated_at":    now,
			}),
		}).
		Create(&profile).Error
}

func (r *repository) SetActiveOrgIfNull(ctx context.Context, userID, orgID snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE profiles SET active_org_id = ?, updated_at = ?
		 WHERE user_id = ? AND active_org_id IS NULL`,
		orgID,
		now,
		userID,
	).Error
}

func (r *repository) InsertProvisioningClaim(ctx context.Context, claim *domain.ProvisioningClaim) error {
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO provisioning_claims (user_id, org_id, created_at) VALUES (?, ?, ?)`,
		claim.UserID,
		claim.OrgID,
		claim.CreatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrClaimExists
	}
	return err
}

func (r *repository) GetProvisioningClaim(ctx context.Context, userID snowflake.ID) (*domain.ProvisioningClaim, error) {
	var claim domain.ProvisioningClaim
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
