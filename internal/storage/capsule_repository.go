package storage

import (
	"context"

	"gorm.io/gorm"

	"capsule-go/internal/models"
)

// CapsuleProfile holds the mutable presentation fields of a capsule.
// Nil fields are left untouched.
type CapsuleProfile struct {
	Name        *string
	Description *string
	AvatarURL   *string
	BannerURL   *string
}

// CapsuleRepository 定义了胶囊数据操作的接口。
type CapsuleRepository interface {
	CreateCapsule(ctx context.Context, capsule *models.Capsule) error
	GetCapsuleByID(ctx context.Context, id string) (*models.Capsule, error)
	GetCapsuleBySlug(ctx context.Context, slug string) (*models.Capsule, error)
	UpdateMembershipPolicy(ctx context.Context, id string, policy models.MembershipPolicy) error
	UpdateProfile(ctx context.Context, id string, profile CapsuleProfile) error
	ListCapsulesByOwner(ctx context.Context, ownerID string) ([]*models.Capsule, error)
}

// gormCapsuleRepository 使用 GORM 实现 CapsuleRepository。
type gormCapsuleRepository struct {
	db *gorm.DB
}

// NewGormCapsuleRepository 创建一个新的基于 GORM 的 CapsuleRepository。
func NewGormCapsuleRepository(db *gorm.DB) CapsuleRepository {
	return &gormCapsuleRepository{db: db}
}

// CreateCapsule 创建一个新的胶囊。A taken slug yields ErrDuplicate.
func (r *gormCapsuleRepository) CreateCapsule(ctx context.Context, capsule *models.Capsule) error {
	return translate(r.db.WithContext(ctx).Create(capsule).Error)
}

// GetCapsuleByID 通过ID检索胶囊。
func (r *gormCapsuleRepository) GetCapsuleByID(ctx context.Context, id string) (*models.Capsule, error) {
	var capsule models.Capsule
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&capsule).Error; err != nil {
		return nil, translate(err)
	}
	return &capsule, nil
}

// GetCapsuleBySlug 通过 slug 检索胶囊。
func (r *gormCapsuleRepository) GetCapsuleBySlug(ctx context.Context, slug string) (*models.Capsule, error) {
	var capsule models.Capsule
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).Take(&capsule).Error; err != nil {
		return nil, translate(err)
	}
	return &capsule, nil
}

// UpdateMembershipPolicy rewrites the policy column only.
func (r *gormCapsuleRepository) UpdateMembershipPolicy(ctx context.Context, id string, policy models.MembershipPolicy) error {
	res := r.db.WithContext(ctx).Model(&models.Capsule{}).Where("id = ?", id).Update("membership_policy", policy)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile 更新胶囊展示信息。owner_id is never written here.
func (r *gormCapsuleRepository) UpdateProfile(ctx context.Context, id string, profile CapsuleProfile) error {
	updates := map[string]any{}
	if profile.Name != nil {
		updates["name"] = *profile.Name
	}
	if profile.Description != nil {
		updates["description"] = *profile.Description
	}
	if profile.AvatarURL != nil {
		updates["avatar_url"] = *profile.AvatarURL
	}
	if profile.BannerURL != nil {
		updates["banner_url"] = *profile.BannerURL
	}
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Capsule{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCapsulesByOwner 获取用户创建的所有胶囊。
func (r *gormCapsuleRepository) ListCapsulesByOwner(ctx context.Context, ownerID string) ([]*models.Capsule, error) {
	var capsules []*models.Capsule
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&capsules).Error
	return capsules, translate(err)
}
