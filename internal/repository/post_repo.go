package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/models"
)

// ErrNotPostAuthor indicates a mutation attempted on another member's post or comment.
var ErrNotPostAuthor = errors.New("post does not belong to author")

// FeedFilter scopes a feed query. An empty Contexts slice matches every
// context; the member feed passes member/association/"" and an organization
// feed pins a single organization.
type FeedFilter struct {
	Contexts       []string
	OrganizationID *uint
	Limit          int
}

// PostRepository persists posts, likes, comments and mentions. All counter
// mutations run in the same transaction as the child-row write and use
// clamped SQL expressions, so denormalized aggregates never go negative and
// never race a concurrent read-modify-write.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post, mentions []models.Mention) error
	Get(ctx context.Context, id uint) (models.Post, error)
	ListFeed(ctx context.Context, filter FeedFilter) ([]models.Post, error)
	SoftDelete(ctx context.Context, id uint, authorID string) error

	Like(ctx context.Context, postID uint, memberID string) (bool, error)
	Unlike(ctx context.Context, postID uint, memberID string) (bool, error)
	ListLikedPostIDs(ctx context.Context, memberID string, postIDs []uint) ([]uint, error)

	Repost(ctx context.Context, repost *models.Post) error
	IncrementShares(ctx context.Context, postID uint) error

	AddComment(ctx context.Context, comment *models.PostComment) error
	DeleteComment(ctx context.Context, commentID uint, authorID string) error
	ListComments(ctx context.Context, postID uint, limit, offset int) ([]models.PostComment, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository constructs a post repository backed by GORM.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post, mentions []models.Mention) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}

		if len(mentions) == 0 {
			return nil
		}
		for i := range mentions {
			mentions[i].PostID = post.ID
		}
		return tx.Create(&mentions).Error
	})
}

func (r *postRepository) Get(ctx context.Context, id uint) (models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return models.Post{}, err
	}
	return post, nil
}

func (r *postRepository) ListFeed(ctx context.Context, filter FeedFilter) ([]models.Post, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("deleted = ?", false)
	if len(filter.Contexts) > 0 {
		query = query.Where("post_context IN ?", filter.Contexts)
	}
	if filter.OrganizationID != nil {
		query = query.Where("organization_id = ?", *filter.OrganizationID)
	}

	var posts []models.Post
	if err := query.Order("created_at DESC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) SoftDelete(ctx context.Context, id uint, authorID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, id).Error; err != nil {
			return err
		}
		if post.AuthorID != authorID {
			return ErrNotPostAuthor
		}
		if post.Deleted {
			return nil
		}

		now := time.Now().UTC()
		return tx.Model(&post).Updates(map[string]interface{}{
			"deleted":    true,
			"deleted_at": now,
		}).Error
	})
}

// Like inserts the join row and increments likes_count in one transaction.
// Returns false without writing when the member already liked the post.
func (r *postRepository) Like(ctx context.Context, postID uint, memberID string) (bool, error) {
	liked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.PostLike{}).
			Where("post_id = ? AND member_id = ?", postID, memberID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		if err := tx.Create(&models.PostLike{PostID: postID, MemberID: memberID}).Error; err != nil {
			return err
		}

		liked = true
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			Update("likes_count", gorm.Expr("likes_count + 1")).Error
	})
	return liked, err
}

// Unlike removes the join row and decrements likes_count, clamped at zero.
// Unliking a post that was never liked is a no-op.
func (r *postRepository) Unlike(ctx context.Context, postID uint, memberID string) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("post_id = ? AND member_id = ?", postID, memberID).
			Delete(&models.PostLike{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		removed = true
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			Update("likes_count", gorm.Expr("CASE WHEN likes_count > 0 THEN likes_count - 1 ELSE 0 END")).Error
	})
	return removed, err
}

func (r *postRepository) ListLikedPostIDs(ctx context.Context, memberID string, postIDs []uint) ([]uint, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.PostLike{}).
		Where("member_id = ? AND post_id IN ?", memberID, postIDs).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Repost inserts the derived post and increments the original's
// reposts_count in the same transaction.
func (r *postRepository) Repost(ctx context.Context, repost *models.Post) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(repost).Error; err != nil {
			return err
		}

		return tx.Model(&models.Post{}).Where("id = ?", *repost.OriginalPostID).
			Update("reposts_count", gorm.Expr("reposts_count + 1")).Error
	})
}

func (r *postRepository) IncrementShares(ctx context.Context, postID uint) error {
	return r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).
		Update("shares_count", gorm.Expr("shares_count + 1")).Error
}

func (r *postRepository) AddComment(ctx context.Context, comment *models.PostComment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}

		return tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			Update("comments_count", gorm.Expr("comments_count + 1")).Error
	})
}

func (r *postRepository) DeleteComment(ctx context.Context, commentID uint, authorID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.PostComment
		if err := tx.First(&comment, commentID).Error; err != nil {
			return err
		}
		if comment.AuthorID != authorID {
			return ErrNotPostAuthor
		}

		if err := tx.Delete(&comment).Error; err != nil {
			return err
		}

		return tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			Update("comments_count", gorm.Expr("CASE WHEN comments_count > 0 THEN comments_count - 1 ELSE 0 END")).Error
	})
}

func (r *postRepository) ListComments(ctx context.Context, postID uint, limit, offset int) ([]models.PostComment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var comments []models.PostComment
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}
