package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/models"
)

// MemberRepository resolves member identities for enrichment. Feed and
// thread loads batch all distinct ids into one lookup.
type MemberRepository interface {
	Get(ctx context.Context, id string) (models.Member, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Member, error)
	FindByName(ctx context.Context, name string) (models.Member, error)
}

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository constructs a member repository backed by GORM.
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Get(ctx context.Context, id string) (models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).First(&member, "id = ?", id).Error; err != nil {
		return models.Member{}, err
	}
	return member, nil
}

func (r *memberRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var members []models.Member
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (r *memberRepository) FindByName(ctx context.Context, name string) (models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&member).Error; err != nil {
		return models.Member{}, err
	}
	return member, nil
}

// OrganizationRepository resolves companies and associations.
type OrganizationRepository interface {
	Get(ctx context.Context, id uint) (models.Organization, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.Organization, error)
	FindByName(ctx context.Context, name string) (models.Organization, error)
}

type organizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository constructs an organization repository backed by GORM.
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) Get(ctx context.Context, id uint) (models.Organization, error) {
	var organization models.Organization
	if err := r.db.WithContext(ctx).First(&organization, id).Error; err != nil {
		return models.Organization{}, err
	}
	return organization, nil
}

func (r *organizationRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.Organization, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var organizations []models.Organization
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&organizations).Error; err != nil {
		return nil, err
	}
	return organizations, nil
}

func (r *organizationRepository) FindByName(ctx context.Context, name string) (models.Organization, error) {
	var organization models.Organization
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&organization).Error; err != nil {
		return models.Organization{}, err
	}
	return organization, nil
}
