package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"capsule-go/internal/models"
)

// MembershipRepository defines membership, follower and member-request data operations.
type MembershipRepository interface {
	// Transaction runs fn against a repository bound to a single database transaction.
	Transaction(ctx context.Context, fn func(repo MembershipRepository) error) error

	GetMember(ctx context.Context, capsuleID, userID string) (*models.CapsuleMember, error)
	ListMembers(ctx context.Context, capsuleID string) ([]*models.CapsuleMember, error)
	RestoreOrInsertMember(ctx context.Context, capsuleID, userID string, role models.StorageRole) (*models.CapsuleMember, EdgeOutcome, error)
	UpdateMemberRole(ctx context.Context, capsuleID, userID string, role models.StorageRole) error
	DeleteMember(ctx context.Context, capsuleID, userID string) (bool, error)

	GetFollower(ctx context.Context, capsuleID, userID string) (*models.CapsuleFollower, error)
	ListFollowers(ctx context.Context, capsuleID string) ([]*models.CapsuleFollower, error)
	RestoreOrInsertFollower(ctx context.Context, capsuleID, userID string) (*models.CapsuleFollower, EdgeOutcome, error)
	DeleteFollower(ctx context.Context, capsuleID, userID string) (bool, error)

	// UpsertPendingRequest creates the pending row for (capsule, requester) or refreshes the existing one.
	// It returns ErrStaleState when the pending row has the other origin.
	UpsertPendingRequest(ctx context.Context, req *models.CapsuleMemberRequest) (*models.CapsuleMemberRequest, error)
	GetRequest(ctx context.Context, id string) (*models.CapsuleMemberRequest, error)
	FindPendingRequest(ctx context.Context, capsuleID, requesterID string) (*models.CapsuleMemberRequest, error)
	ListPendingRequests(ctx context.Context, capsuleID string) ([]*models.CapsuleMemberRequest, error)
	// ResolveRequest moves a pending request to a terminal status; ErrStaleState if it was no longer pending.
	ResolveRequest(ctx context.Context, id string, status models.RequestStatus, at time.Time) error
}

type gormMembershipRepository struct {
	db *gorm.DB
}

// NewGormMembershipRepository creates a new GORM-backed MembershipRepository.
func NewGormMembershipRepository(db *gorm.DB) MembershipRepository {
	return &gormMembershipRepository{db: db}
}

func (r *gormMembershipRepository) Transaction(ctx context.Context, fn func(repo MembershipRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormMembershipRepository(tx))
	})
}

// GetMember 获取胶囊中的特定成员信息。
func (r *gormMembershipRepository) GetMember(ctx context.Context, capsuleID, userID string) (*models.CapsuleMember, error) {
	var member models.CapsuleMember
	err := r.db.WithContext(ctx).Where("capsule_id = ? AND user_id = ?", capsuleID, userID).Take(&member).Error
	if err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

// ListMembers 获取胶囊的所有成员列表。
func (r *gormMembershipRepository) ListMembers(ctx context.Context, capsuleID string) ([]*models.CapsuleMember, error) {
	var members []*models.CapsuleMember
	err := r.db.WithContext(ctx).Where("capsule_id = ?", capsuleID).Order("created_at ASC").Find(&members).Error
	return members, translate(err)
}

// RestoreOrInsertMember adds a member, reviving a previous membership row when there is one.
// A revived row takes the new role; an already active row is left as is.
func (r *gormMembershipRepository) RestoreOrInsertMember(ctx context.Context, capsuleID, userID string, role models.StorageRole) (*models.CapsuleMember, EdgeOutcome, error) {
	return restoreOrInsert[models.CapsuleMember](ctx, r.db,
		edgeKey{"capsule_id": capsuleID, "user_id": userID},
		func() *models.CapsuleMember {
			return &models.CapsuleMember{CapsuleID: capsuleID, UserID: userID, Role: role}
		},
		map[string]any{"role": role},
	)
}

// UpdateMemberRole 更新成员角色。
func (r *gormMembershipRepository) UpdateMemberRole(ctx context.Context, capsuleID, userID string, role models.StorageRole) error {
	res := r.db.WithContext(ctx).Model(&models.CapsuleMember{}).
		Where("capsule_id = ? AND user_id = ?", capsuleID, userID).
		Update("role", role)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMember 从胶囊中移除成员（软删除）。
func (r *gormMembershipRepository) DeleteMember(ctx context.Context, capsuleID, userID string) (bool, error) {
	n, err := softDelete(ctx, r.db, &models.CapsuleMember{}, "capsule_id = ? AND user_id = ?", capsuleID, userID)
	return n > 0, err
}

func (r *gormMembershipRepository) GetFollower(ctx context.Context, capsuleID, userID string) (*models.CapsuleFollower, error) {
	var follower models.CapsuleFollower
	err := r.db.WithContext(ctx).Where("capsule_id = ? AND user_id = ?", capsuleID, userID).Take(&follower).Error
	if err != nil {
		return nil, translate(err)
	}
	return &follower, nil
}

func (r *gormMembershipRepository) ListFollowers(ctx context.Context, capsuleID string) ([]*models.CapsuleFollower, error) {
	var followers []*models.CapsuleFollower
	err := r.db.WithContext(ctx).Where("capsule_id = ?", capsuleID).Order("created_at ASC").Find(&followers).Error
	return followers, translate(err)
}

func (r *gormMembershipRepository) RestoreOrInsertFollower(ctx context.Context, capsuleID, userID string) (*models.CapsuleFollower, EdgeOutcome, error) {
	return restoreOrInsert[models.CapsuleFollower](ctx, r.db,
		edgeKey{"capsule_id": capsuleID, "user_id": userID},
		func() *models.CapsuleFollower {
			return &models.CapsuleFollower{CapsuleID: capsuleID, UserID: userID}
		},
		nil,
	)
}

func (r *gormMembershipRepository) DeleteFollower(ctx context.Context, capsuleID, userID string) (bool, error) {
	n, err := softDelete(ctx, r.db, &models.CapsuleFollower{}, "capsule_id = ? AND user_id = ?", capsuleID, userID)
	return n > 0, err
}

// UpsertPendingRequest relies on the partial unique index over (capsule_id, requester_id) WHERE status = 'pending':
// a second request while one is pending rewrites that row instead of adding another.
// Only a row of the same origin is rewritten; an invite never turns into a join request or back.
func (r *gormMembershipRepository) UpsertPendingRequest(ctx context.Context, req *models.CapsuleMemberRequest) (*models.CapsuleMemberRequest, error) {
	req.Status = models.RequestPending
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "capsule_id"}, {Name: "requester_id"}},
		// literal predicate so postgres can match the partial index
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'pending'"}}},
		DoUpdates:   clause.AssignmentColumns([]string{"initiator_id", "role", "message", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "capsule_member_requests.origin = excluded.origin"}}},
	}).Create(req).Error
	if err != nil {
		return nil, translate(err)
	}
	// on conflict the generated id is not the stored one, so read back by natural key
	stored, err := r.FindPendingRequest(ctx, req.CapsuleID, req.RequesterID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, err
	}
	if stored.Origin != req.Origin {
		return nil, ErrStaleState
	}
	return stored, nil
}

func (r *gormMembershipRepository) GetRequest(ctx context.Context, id string) (*models.CapsuleMemberRequest, error) {
	var req models.CapsuleMemberRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&req).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *gormMembershipRepository) FindPendingRequest(ctx context.Context, capsuleID, requesterID string) (*models.CapsuleMemberRequest, error) {
	var req models.CapsuleMemberRequest
	err := r.db.WithContext(ctx).
		Where("capsule_id = ? AND requester_id = ? AND status = ?", capsuleID, requesterID, models.RequestPending).
		Take(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *gormMembershipRepository) ListPendingRequests(ctx context.Context, capsuleID string) ([]*models.CapsuleMemberRequest, error) {
	var reqs []*models.CapsuleMemberRequest
	err := r.db.WithContext(ctx).
		Where("capsule_id = ? AND status = ?", capsuleID, models.RequestPending).
		Order("created_at ASC").
		Find(&reqs).Error
	return reqs, translate(err)
}

// ResolveRequest only touches rows still pending, so two racing resolutions cannot both succeed.
func (r *gormMembershipRepository) ResolveRequest(ctx context.Context, id string, status models.RequestStatus, at time.Time) error {
	updates := map[string]any{"status": status}
	switch status {
	case models.RequestApproved:
		updates["approved_at"] = at
	case models.RequestDeclined:
		updates["declined_at"] = at
	case models.RequestCancelled:
		updates["cancelled_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&models.CapsuleMemberRequest{}).
		Where("id = ? AND status = ?", id, models.RequestPending).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
