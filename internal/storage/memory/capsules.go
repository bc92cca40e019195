package memory

import (
	"context"

	"capsule-go/internal/models"
	"capsule-go/internal/storage"
)

type capsuleRepository struct {
	s *Store
}

func (r *capsuleRepository) CreateCapsule(_ context.Context, capsule *models.Capsule) error {
	defer r.s.lock(false)()
	if r.s.capsules.first(func(c *models.Capsule) bool { return c.Slug == capsule.Slug }) != nil {
		return storage.ErrDuplicate
	}
	stored := r.s.capsules.insert(copyRow(capsule), r.s.timestamp())
	*capsule = *stored
	return nil
}

func (r *capsuleRepository) GetCapsuleByID(_ context.Context, id string) (*models.Capsule, error) {
	return r.get(func(c *models.Capsule) bool { return c.ID == id })
}

func (r *capsuleRepository) GetCapsuleBySlug(_ context.Context, slug string) (*models.Capsule, error) {
	return r.get(func(c *models.Capsule) bool { return c.Slug == slug })
}

func (r *capsuleRepository) get(match func(*models.Capsule) bool) (*models.Capsule, error) {
	defer r.s.lock(false)()
	c := r.s.capsules.first(match)
	if c == nil {
		return nil, storage.ErrNotFound
	}
	return copyRow(c), nil
}

func (r *capsuleRepository) UpdateMembershipPolicy(_ context.Context, id string, policy models.MembershipPolicy) error {
	return r.update(id, func(c *models.Capsule) { c.MembershipPolicy = policy })
}

func (r *capsuleRepository) UpdateProfile(_ context.Context, id string, profile storage.CapsuleProfile) error {
	return r.update(id, func(c *models.Capsule) {
		if profile.Name != nil {
			c.Name = *profile.Name
		}
		if profile.Description != nil {
			c.Description = *profile.Description
		}
		if profile.AvatarURL != nil {
			c.AvatarURL = *profile.AvatarURL
		}
		if profile.BannerURL != nil {
			c.BannerURL = *profile.BannerURL
		}
	})
}

func (r *capsuleRepository) update(id string, apply func(*models.Capsule)) error {
	defer r.s.lock(false)()
	c := r.s.capsules.first(func(c *models.Capsule) bool { return c.ID == id })
	if c == nil {
		return storage.ErrNotFound
	}
	apply(c)
	c.UpdatedAt = r.s.timestamp()
	return nil
}

func (r *capsuleRepository) ListCapsulesByOwner(_ context.Context, ownerID string) ([]*models.Capsule, error) {
	defer r.s.lock(false)()
	return r.s.capsules.find(func(c *models.Capsule) bool { return c.OwnerID == ownerID }), nil
}
