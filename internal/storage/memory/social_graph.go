package memory

import (
	"context"

	"capsule-go/internal/models"
	"capsule-go/internal/storage"
)

type socialGraphRepository struct {
	s  *Store
	tx bool
}

func (r *socialGraphRepository) Transaction(_ context.Context, fn func(repo storage.SocialGraphRepository) error) error {
	return r.s.transaction(func() error { return fn(&socialGraphRepository{s: r.s, tx: true}) })
}

func friendshipOf(userID, friendUserID string) func(*models.Friendship) bool {
	return func(f *models.Friendship) bool { return f.UserID == userID && f.FriendUserID == friendUserID }
}

func (r *socialGraphRepository) RestoreOrInsertFriendship(_ context.Context, userID, friendUserID string) (*models.Friendship, storage.EdgeOutcome, error) {
	defer r.s.lock(r.tx)()
	f, outcome := r.s.friendships.restoreOrInsert(friendshipOf(userID, friendUserID),
		func() *models.Friendship { return &models.Friendship{UserID: userID, FriendUserID: friendUserID} },
		nil,
		r.s.timestamp(),
	)
	return f, outcome, nil
}

func (r *socialGraphRepository) DeleteFriendshipsBetween(_ context.Context, a, b string) (int64, error) {
	defer r.s.lock(r.tx)()
	return r.s.friendships.softDelete(func(f *models.Friendship) bool {
		return pairEitherWay(f.UserID, f.FriendUserID, a, b)
	}, r.s.timestamp()), nil
}

func (r *socialGraphRepository) IsFriend(_ context.Context, userID, friendUserID string) (bool, error) {
	defer r.s.lock(r.tx)()
	return r.s.friendships.first(friendshipOf(userID, friendUserID)) != nil, nil
}

func (r *socialGraphRepository) ListFriendIDs(_ context.Context, userID string) ([]string, error) {
	defer r.s.lock(r.tx)()
	var ids []string
	for _, f := range r.s.friendships.find(func(f *models.Friendship) bool { return f.UserID == userID }) {
		ids = append(ids, f.FriendUserID)
	}
	return ids, nil
}

func friendRequestOf(requesterID, recipientID string) func(*models.FriendRequest) bool {
	return func(q *models.FriendRequest) bool { return q.RequesterID == requesterID && q.RecipientID == recipientID }
}

func (r *socialGraphRepository) RestoreOrInsertFriendRequest(_ context.Context, requesterID, recipientID, message string) (*models.FriendRequest, storage.EdgeOutcome, error) {
	defer r.s.lock(r.tx)()
	q, outcome := r.s.friendRequests.restoreOrInsert(friendRequestOf(requesterID, recipientID),
		func() *models.FriendRequest {
			return &models.FriendRequest{
				RequesterID: requesterID,
				RecipientID: recipientID,
				Status:      models.FriendRequestPending,
				Message:     message,
			}
		},
		func(q *models.FriendRequest) {
			q.Status = models.FriendRequestPending
			q.Message = message
		},
		r.s.timestamp(),
	)
	return q, outcome, nil
}

func (r *socialGraphRepository) FindPendingFriendRequest(_ context.Context, requesterID, recipientID string) (*models.FriendRequest, error) {
	defer r.s.lock(r.tx)()
	q := r.s.friendRequests.first(func(q *models.FriendRequest) bool {
		return friendRequestOf(requesterID, recipientID)(q) && q.Status == models.FriendRequestPending
	})
	if q == nil {
		return nil, storage.ErrNotFound
	}
	return copyRow(q), nil
}

func (r *socialGraphRepository) ResolveFriendRequest(_ context.Context, requesterID, recipientID string, status models.FriendRequestStatus) error {
	defer r.s.lock(r.tx)()
	n := r.resolveLocked(func(q *models.FriendRequest) bool {
		return friendRequestOf(requesterID, recipientID)(q)
	}, status)
	if n == 0 {
		return storage.ErrStaleState
	}
	return nil
}

func (r *socialGraphRepository) CancelFriendRequestsBetween(_ context.Context, a, b string) (int64, error) {
	defer r.s.lock(r.tx)()
	return r.resolveLocked(func(q *models.FriendRequest) bool {
		return pairEitherWay(q.RequesterID, q.RecipientID, a, b)
	}, models.FriendRequestCancelled), nil
}

// resolveLocked moves matching pending requests to status and tombstones them.
func (r *socialGraphRepository) resolveLocked(match func(*models.FriendRequest) bool, status models.FriendRequestStatus) int64 {
	at := r.s.timestamp()
	return r.s.friendRequests.softDelete(func(q *models.FriendRequest) bool {
		if q.Status != models.FriendRequestPending || !match(q) {
			return false
		}
		q.Status = status
		q.UpdatedAt = at
		return true
	}, at)
}

func (r *socialGraphRepository) ListIncomingFriendRequests(_ context.Context, recipientID string) ([]*models.FriendRequest, error) {
	defer r.s.lock(r.tx)()
	return r.s.friendRequests.find(func(q *models.FriendRequest) bool {
		return q.RecipientID == recipientID && q.Status == models.FriendRequestPending
	}), nil
}

func (r *socialGraphRepository) ListOutgoingFriendRequests(_ context.Context, requesterID string) ([]*models.FriendRequest, error) {
	defer r.s.lock(r.tx)()
	return r.s.friendRequests.find(func(q *models.FriendRequest) bool {
		return q.RequesterID == requesterID && q.Status == models.FriendRequestPending
	}), nil
}

func followOf(followerID, followeeID string) func(*models.FollowEdge) bool {
	return func(f *models.FollowEdge) bool { return f.FollowerUserID == followerID && f.FolloweeUserID == followeeID }
}

func (r *socialGraphRepository) RestoreOrInsertFollow(_ context.Context, followerID, followeeID string) (*models.FollowEdge, storage.EdgeOutcome, error) {
	defer r.s.lock(r.tx)()
	f, outcome := r.s.follows.restoreOrInsert(followOf(followerID, followeeID),
		func() *models.FollowEdge {
			return &models.FollowEdge{FollowerUserID: followerID, FolloweeUserID: followeeID}
		},
		nil,
		r.s.timestamp(),
	)
	return f, outcome, nil
}

func (r *socialGraphRepository) DeleteFollow(_ context.Context, followerID, followeeID string) (bool, error) {
	defer r.s.lock(r.tx)()
	return r.s.follows.softDelete(followOf(followerID, followeeID), r.s.timestamp()) > 0, nil
}

func (r *socialGraphRepository) DeleteFollowsBetween(_ context.Context, a, b string) (int64, error) {
	defer r.s.lock(r.tx)()
	return r.s.follows.softDelete(func(f *models.FollowEdge) bool {
		return pairEitherWay(f.FollowerUserID, f.FolloweeUserID, a, b)
	}, r.s.timestamp()), nil
}

func (r *socialGraphRepository) ListFolloweeIDs(_ context.Context, followerID string) ([]string, error) {
	defer r.s.lock(r.tx)()
	var ids []string
	for _, f := range r.s.follows.find(func(f *models.FollowEdge) bool { return f.FollowerUserID == followerID }) {
		ids = append(ids, f.FolloweeUserID)
	}
	return ids, nil
}

func (r *socialGraphRepository) ListFollowerIDs(_ context.Context, followeeID string) ([]string, error) {
	defer r.s.lock(r.tx)()
	var ids []string
	for _, f := range r.s.follows.find(func(f *models.FollowEdge) bool { return f.FolloweeUserID == followeeID }) {
		ids = append(ids, f.FollowerUserID)
	}
	return ids, nil
}

func blockOf(blockerID, blockedID string) func(*models.BlockEdge) bool {
	return func(b *models.BlockEdge) bool { return b.BlockerUserID == blockerID && b.BlockedUserID == blockedID }
}

func (r *socialGraphRepository) RestoreOrInsertBlock(_ context.Context, blockerID, blockedID, reason string) (*models.BlockEdge, storage.EdgeOutcome, error) {
	defer r.s.lock(r.tx)()
	b, outcome := r.s.blocks.restoreOrInsert(blockOf(blockerID, blockedID),
		func() *models.BlockEdge {
			return &models.BlockEdge{BlockerUserID: blockerID, BlockedUserID: blockedID, Reason: reason}
		},
		func(b *models.BlockEdge) { b.Reason = reason },
		r.s.timestamp(),
	)
	return b, outcome, nil
}

func (r *socialGraphRepository) DeleteBlock(_ context.Context, blockerID, blockedID string) (bool, error) {
	defer r.s.lock(r.tx)()
	return r.s.blocks.softDelete(blockOf(blockerID, blockedID), r.s.timestamp()) > 0, nil
}

func (r *socialGraphRepository) IsBlockedEitherWay(_ context.Context, a, b string) (bool, error) {
	defer r.s.lock(r.tx)()
	return r.s.blocks.first(func(e *models.BlockEdge) bool {
		return pairEitherWay(e.BlockerUserID, e.BlockedUserID, a, b)
	}) != nil, nil
}

func (r *socialGraphRepository) ListBlockedIDs(_ context.Context, blockerID string) ([]string, error) {
	defer r.s.lock(r.tx)()
	var ids []string
	for _, e := range r.s.blocks.find(func(e *models.BlockEdge) bool { return e.BlockerUserID == blockerID }) {
		ids = append(ids, e.BlockedUserID)
	}
	return ids, nil
}
