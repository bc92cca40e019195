package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"capsule-go/internal/models"
)

// SocialGraphRepository defines friendship, friend request, follow and block data operations.
// Every edge table is soft-deletable and unique on its ordered user pair.
type SocialGraphRepository interface {
	// Transaction runs fn against a repository bound to a single database transaction.
	Transaction(ctx context.Context, fn func(repo SocialGraphRepository) error) error

	RestoreOrInsertFriendship(ctx context.Context, userID, friendUserID string) (*models.Friendship, EdgeOutcome, error)
	// DeleteFriendshipsBetween tombstones both directed friendship edges of the pair.
	DeleteFriendshipsBetween(ctx context.Context, a, b string) (int64, error)
	IsFriend(ctx context.Context, userID, friendUserID string) (bool, error)
	ListFriendIDs(ctx context.Context, userID string) ([]string, error)

	RestoreOrInsertFriendRequest(ctx context.Context, requesterID, recipientID, message string) (*models.FriendRequest, EdgeOutcome, error)
	FindPendingFriendRequest(ctx context.Context, requesterID, recipientID string) (*models.FriendRequest, error)
	// ResolveFriendRequest moves the pending request to status and tombstones it; ErrStaleState if none is pending.
	ResolveFriendRequest(ctx context.Context, requesterID, recipientID string, status models.FriendRequestStatus) error
	// CancelFriendRequestsBetween resolves pending requests in both directions as cancelled.
	CancelFriendRequestsBetween(ctx context.Context, a, b string) (int64, error)
	ListIncomingFriendRequests(ctx context.Context, recipientID string) ([]*models.FriendRequest, error)
	ListOutgoingFriendRequests(ctx context.Context, requesterID string) ([]*models.FriendRequest, error)

	RestoreOrInsertFollow(ctx context.Context, followerID, followeeID string) (*models.FollowEdge, EdgeOutcome, error)
	DeleteFollow(ctx context.Context, followerID, followeeID string) (bool, error)
	DeleteFollowsBetween(ctx context.Context, a, b string) (int64, error)
	ListFolloweeIDs(ctx context.Context, followerID string) ([]string, error)
	ListFollowerIDs(ctx context.Context, followeeID string) ([]string, error)

	RestoreOrInsertBlock(ctx context.Context, blockerID, blockedID, reason string) (*models.BlockEdge, EdgeOutcome, error)
	DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error)
	// IsBlockedEitherWay reports an active block in either direction.
	IsBlockedEitherWay(ctx context.Context, a, b string) (bool, error)
	ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error)
}

type gormSocialGraphRepository struct {
	db *gorm.DB
}

// NewGormSocialGraphRepository creates a new GORM-backed SocialGraphRepository.
func NewGormSocialGraphRepository(db *gorm.DB) SocialGraphRepository {
	return &gormSocialGraphRepository{db: db}
}

func (r *gormSocialGraphRepository) Transaction(ctx context.Context, fn func(repo SocialGraphRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormSocialGraphRepository(tx))
	})
}

func (r *gormSocialGraphRepository) RestoreOrInsertFriendship(ctx context.Context, userID, friendUserID string) (*models.Friendship, EdgeOutcome, error) {
	return restoreOrInsert[models.Friendship](ctx, r.db,
		edgeKey{"user_id": userID, "friend_user_id": friendUserID},
		func() *models.Friendship {
			return &models.Friendship{UserID: userID, FriendUserID: friendUserID}
		},
		nil,
	)
}

func (r *gormSocialGraphRepository) DeleteFriendshipsBetween(ctx context.Context, a, b string) (int64, error) {
	return softDelete(ctx, r.db, &models.Friendship{},
		"(user_id = ? AND friend_user_id = ?) OR (user_id = ? AND friend_user_id = ?)", a, b, b, a)
}

// IsFriend checks the directed edge userID -> friendUserID.
func (r *gormSocialGraphRepository) IsFriend(ctx context.Context, userID, friendUserID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id = ? AND friend_user_id = ?", userID, friendUserID).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// ListFriendIDs retrieves the ids of everyone userID has an active edge to.
func (r *gormSocialGraphRepository) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Pluck("friend_user_id", &ids).Error
	return ids, translate(err)
}

// RestoreOrInsertFriendRequest revives a resolved request as pending with the new message.
func (r *gormSocialGraphRepository) RestoreOrInsertFriendRequest(ctx context.Context, requesterID, recipientID, message string) (*models.FriendRequest, EdgeOutcome, error) {
	return restoreOrInsert[models.FriendRequest](ctx, r.db,
		edgeKey{"requester_id": requesterID, "recipient_id": recipientID},
		func() *models.FriendRequest {
			return &models.FriendRequest{
				RequesterID: requesterID,
				RecipientID: recipientID,
				Status:      models.FriendRequestPending,
				Message:     message,
			}
		},
		map[string]any{"status": models.FriendRequestPending, "message": message},
	)
}

func (r *gormSocialGraphRepository) FindPendingFriendRequest(ctx context.Context, requesterID, recipientID string) (*models.FriendRequest, error) {
	var req models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND recipient_id = ? AND status = ?", requesterID, recipientID, models.FriendRequestPending).
		Take(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *gormSocialGraphRepository) ResolveFriendRequest(ctx context.Context, requesterID, recipientID string, status models.FriendRequestStatus) error {
	res := r.db.WithContext(ctx).Model(&models.FriendRequest{}).
		Where("requester_id = ? AND recipient_id = ? AND status = ?", requesterID, recipientID, models.FriendRequestPending).
		Updates(map[string]any{"status": status, "deleted_at": time.Now()})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *gormSocialGraphRepository) CancelFriendRequestsBetween(ctx context.Context, a, b string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.FriendRequest{}).
		Where("status = ?", models.FriendRequestPending).
		Where("(requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?)", a, b, b, a).
		Updates(map[string]any{"status": models.FriendRequestCancelled, "deleted_at": time.Now()})
	return res.RowsAffected, translate(res.Error)
}

func (r *gormSocialGraphRepository) ListIncomingFriendRequests(ctx context.Context, recipientID string) ([]*models.FriendRequest, error) {
	var reqs []*models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, models.FriendRequestPending).
		Order("created_at ASC").
		Find(&reqs).Error
	return reqs, translate(err)
}

func (r *gormSocialGraphRepository) ListOutgoingFriendRequests(ctx context.Context, requesterID string) ([]*models.FriendRequest, error) {
	var reqs []*models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND status = ?", requesterID, models.FriendRequestPending).
		Order("created_at ASC").
		Find(&reqs).Error
	return reqs, translate(err)
}

func (r *gormSocialGraphRepository) RestoreOrInsertFollow(ctx context.Context, followerID, followeeID string) (*models.FollowEdge, EdgeOutcome, error) {
	return restoreOrInsert[models.FollowEdge](ctx, r.db,
		edgeKey{"follower_user_id": followerID, "followee_user_id": followeeID},
		func() *models.FollowEdge {
			return &models.FollowEdge{FollowerUserID: followerID, FolloweeUserID: followeeID}
		},
		nil,
	)
}

func (r *gormSocialGraphRepository) DeleteFollow(ctx context.Context, followerID, followeeID string) (bool, error) {
	n, err := softDelete(ctx, r.db, &models.FollowEdge{},
		"follower_user_id = ? AND followee_user_id = ?", followerID, followeeID)
	return n > 0, err
}

func (r *gormSocialGraphRepository) DeleteFollowsBetween(ctx context.Context, a, b string) (int64, error) {
	return softDelete(ctx, r.db, &models.FollowEdge{},
		"(follower_user_id = ? AND followee_user_id = ?) OR (follower_user_id = ? AND followee_user_id = ?)", a, b, b, a)
}

func (r *gormSocialGraphRepository) ListFolloweeIDs(ctx context.Context, followerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.FollowEdge{}).
		Where("follower_user_id = ?", followerID).
		Order("created_at ASC").
		Pluck("followee_user_id", &ids).Error
	return ids, translate(err)
}

func (r *gormSocialGraphRepository) ListFollowerIDs(ctx context.Context, followeeID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.FollowEdge{}).
		Where("followee_user_id = ?", followeeID).
		Order("created_at ASC").
		Pluck("follower_user_id", &ids).Error
	return ids, translate(err)
}

// RestoreOrInsertBlock revives a previous block with the new reason. An active block keeps its original reason.
func (r *gormSocialGraphRepository) RestoreOrInsertBlock(ctx context.Context, blockerID, blockedID, reason string) (*models.BlockEdge, EdgeOutcome, error) {
	return restoreOrInsert[models.BlockEdge](ctx, r.db,
		edgeKey{"blocker_user_id": blockerID, "blocked_user_id": blockedID},
		func() *models.BlockEdge {
			return &models.BlockEdge{BlockerUserID: blockerID, BlockedUserID: blockedID, Reason: reason}
		},
		map[string]any{"reason": reason},
	)
}

func (r *gormSocialGraphRepository) DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	n, err := softDelete(ctx, r.db, &models.BlockEdge{},
		"blocker_user_id = ? AND blocked_user_id = ?", blockerID, blockedID)
	return n > 0, err
}

func (r *gormSocialGraphRepository) IsBlockedEitherWay(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BlockEdge{}).
		Where("(blocker_user_id = ? AND blocked_user_id = ?) OR (blocker_user_id = ? AND blocked_user_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (r *gormSocialGraphRepository) ListBlockedIDs(ctx context.Context, blockerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.BlockEdge{}).
		Where("blocker_user_id = ?", blockerID).
		Order("created_at ASC").
		Pluck("blocked_user_id", &ids).Error
	return ids, translate(err)
}
