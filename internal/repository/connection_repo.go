package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/models"
)

// ConnectionRepository persists member-to-member connection requests.
type ConnectionRepository interface {
	Create(ctx context.Context, request *models.ConnectionRequest) error
	Get(ctx context.Context, id uint) (models.ConnectionRequest, error)
	UpdateStatus(ctx context.Context, id uint, toMemberID, status string) (models.ConnectionRequest, error)
	ListForMember(ctx context.Context, memberID string, limit int) ([]models.ConnectionRequest, error)
}

type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository constructs a connection repository backed by GORM.
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, request *models.ConnectionRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *connectionRepository) Get(ctx context.Context, id uint) (models.ConnectionRequest, error) {
	var request models.ConnectionRequest
	if err := r.db.WithContext(ctx).First(&request, id).Error; err != nil {
		return models.ConnectionRequest{}, err
	}
	return request, nil
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id uint, toMemberID, status string) (models.ConnectionRequest, error) {
	var request models.ConnectionRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, id).Error; err != nil {
			return err
		}
		if request.ToMemberID != toMemberID {
			return gorm.ErrRecordNotFound
		}

		request.Status = status
		return tx.Save(&request).Error
	})
	if err != nil {
		return models.ConnectionRequest{}, err
	}
	return request, nil
}

func (r *connectionRepository) ListForMember(ctx context.Context, memberID string, limit int) ([]models.ConnectionRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var requests []models.ConnectionRequest
	err := r.db.WithContext(ctx).
		Where("to_member_id = ? OR from_member_id = ?", memberID, memberID).
		Order("created_at DESC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}
