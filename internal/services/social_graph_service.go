package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"capsule-go/internal/apperr"
	"capsule-go/internal/logger"
	"capsule-go/internal/models"
	"capsule-go/internal/storage"
)

// SocialGraphService defines friend request, friendship, follow and block workflows.
// Operations address the counterpart user and return the actor's graph summary.
type SocialGraphService interface {
	GetSocialGraph(ctx context.Context, actorID string) (*SocialGraphSummary, error)

	SendFriendRequest(ctx context.Context, actorID, recipientID, message string) (*SocialGraphSummary, error)
	AcceptFriendRequest(ctx context.Context, actorID, requesterID string) (*SocialGraphSummary, error)
	DeclineFriendRequest(ctx context.Context, actorID, requesterID string) (*SocialGraphSummary, error)
	CancelFriendRequest(ctx context.Context, actorID, recipientID string) (*SocialGraphSummary, error)
	RemoveFriend(ctx context.Context, actorID, friendID string) (*SocialGraphSummary, error)

	FollowUser(ctx context.Context, actorID, targetID string) (*SocialGraphSummary, error)
	UnfollowUser(ctx context.Context, actorID, targetID string) (*SocialGraphSummary, error)
	BlockUser(ctx context.Context, actorID, targetID, reason string) (*SocialGraphSummary, error)
	UnblockUser(ctx context.Context, actorID, targetID string) (*SocialGraphSummary, error)
}

type socialGraphService struct {
	graph     storage.SocialGraphRepository
	publisher GraphEventPublisher
	now       func() time.Time
}

// NewSocialGraphService creates a new SocialGraphService. A nil publisher drops events.
func NewSocialGraphService(graph storage.SocialGraphRepository, publisher GraphEventPublisher) SocialGraphService {
	if publisher == nil {
		publisher = noopCollaborators{}
	}
	return &socialGraphService{graph: graph, publisher: publisher, now: time.Now}
}

func (s *socialGraphService) GetSocialGraph(ctx context.Context, actorRaw string) (*SocialGraphSummary, error) {
	actor, err := actorID(actorRaw)
	if err != nil {
		return nil, err
	}
	return s.summary(ctx, actor)
}

// SendFriendRequest 发送好友请求。
// A pending request in the opposite direction is accepted instead of creating a second one.
func (s *socialGraphService) SendFriendRequest(ctx context.Context, actorRaw, recipientRaw, message string) (*SocialGraphSummary, error) {
	actor, recipient, err := s.pair(actorRaw, recipientRaw, "recipient id")
	if err != nil {
		return nil, err
	}
	if actor == recipient {
		return nil, apperr.SelfTargetf("you cannot send a friend request to yourself")
	}
	msg, err := validateText(message, "message", maxMessageLength)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNotBlocked(ctx, actor, recipient); err != nil {
		return nil, err
	}
	friends, err := s.graph.IsFriend(ctx, actor, recipient)
	if err != nil {
		return nil, storeFailure("check friendship", err, zap.String("actor_id", actor))
	}
	if friends {
		return nil, apperr.Conflictf("you are already friends")
	}

	reverse, err := s.graph.FindPendingFriendRequest(ctx, recipient, actor)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, storeFailure("find reverse request", err, zap.String("actor_id", actor))
	}
	if reverse != nil {
		return s.accept(ctx, actor, recipient)
	}

	_, outcome, err := s.graph.RestoreOrInsertFriendRequest(ctx, actor, recipient, msg)
	if err != nil {
		return nil, storeFailure("send friend request", err, zap.String("actor_id", actor))
	}
	if outcome.Changed() {
		s.publish(ctx,
			s.event(GraphEventFriendRequestSent, actor, recipient),
			s.event(GraphEventFriendRequestReceived, recipient, actor),
		)
	}
	return s.summary(ctx, actor)
}

// AcceptFriendRequest 接受 requester 发来的好友请求。
func (s *socialGraphService) AcceptFriendRequest(ctx context.Context, actorRaw, requesterRaw string) (*SocialGraphSummary, error) {
	actor, requester, err := s.pair(actorRaw, requesterRaw, "requester id")
	if err != nil {
		return nil, err
	}
	if actor == requester {
		return nil, apperr.SelfTargetf("you cannot accept your own friend request")
	}
	if err := s.ensureNotBlocked(ctx, actor, requester); err != nil {
		return nil, err
	}
	return s.accept(ctx, actor, requester)
}

// accept resolves requester's pending request to actor and writes both friendship edges.
func (s *socialGraphService) accept(ctx context.Context, actor, requester string) (*SocialGraphSummary, error) {
	err := s.graph.Transaction(ctx, func(tx storage.SocialGraphRepository) error {
		if err := tx.ResolveFriendRequest(ctx, requester, actor, models.FriendRequestAccepted); err != nil {
			if errors.Is(err, storage.ErrStaleState) {
				return apperr.NotFoundf("no pending friend request from this user")
			}
			return storeFailure("accept friend request", err, zap.String("actor_id", actor))
		}
		if _, _, err := tx.RestoreOrInsertFriendship(ctx, actor, requester); err != nil {
			return storeFailure("insert friendship", err, zap.String("actor_id", actor))
		}
		if _, _, err := tx.RestoreOrInsertFriendship(ctx, requester, actor); err != nil {
			return storeFailure("insert friendship", err, zap.String("actor_id", actor))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// a block that committed meanwhile wins over the new friendship
	blocked, err := s.graph.IsBlockedEitherWay(ctx, actor, requester)
	if err != nil {
		return nil, storeFailure("recheck block", err, zap.String("actor_id", actor))
	}
	if blocked {
		if _, err := s.graph.DeleteFriendshipsBetween(ctx, actor, requester); err != nil {
			return nil, storeFailure("drop friendship after block", err, zap.String("actor_id", actor))
		}
		logger.Info("friendship dropped by concurrent block", zap.String("actor_id", actor), zap.String("counterpart_id", requester))
		return s.summary(ctx, actor)
	}

	s.publish(ctx,
		s.event(GraphEventFriendRequestAccepted, actor, requester),
		s.event(GraphEventFriendRequestAccepted, requester, actor),
	)
	return s.summary(ctx, actor)
}

func (s *socialGraphService) DeclineFriendRequest(ctx context.Context, actorRaw, requesterRaw string) (*SocialGraphSummary, error) {
	actor, requester, err := s.pair(actorRaw, requesterRaw, "requester id")
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, requester, actor, models.FriendRequestDeclined); err != nil {
		return nil, err
	}
	s.publish(ctx, s.event(GraphEventFriendRequestDeclined, requester, actor))
	return s.summary(ctx, actor)
}

// CancelFriendRequest withdraws the actor's own pending request to recipient.
func (s *socialGraphService) CancelFriendRequest(ctx context.Context, actorRaw, recipientRaw string) (*SocialGraphSummary, error) {
	actor, recipient, err := s.pair(actorRaw, recipientRaw, "recipient id")
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, actor, recipient, models.FriendRequestCancelled); err != nil {
		return nil, err
	}
	s.publish(ctx, s.event(GraphEventFriendRequestCancelled, recipient, actor))
	return s.summary(ctx, actor)
}

func (s *socialGraphService) resolve(ctx context.Context, requester, recipient string, status models.FriendRequestStatus) error {
	if requester == recipient {
		return apperr.SelfTargetf("a friend request always involves two users")
	}
	if err := s.graph.ResolveFriendRequest(ctx, requester, recipient, status); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return apperr.NotFoundf("no pending friend request between these users")
		}
		return storeFailure("resolve friend request", err, zap.String("requester_id", requester))
	}
	return nil
}

// RemoveFriend 删除好友，两个方向的关系都会被软删除。
func (s *socialGraphService) RemoveFriend(ctx context.Context, actorRaw, friendRaw string) (*SocialGraphSummary, error) {
	actor, friend, err := s.pair(actorRaw, friendRaw, "friend id")
	if err != nil {
		return nil, err
	}
	if actor == friend {
		return nil, apperr.SelfTargetf("you cannot unfriend yourself")
	}
	n, err := s.graph.DeleteFriendshipsBetween(ctx, actor, friend)
	if err != nil {
		return nil, storeFailure("remove friend", err, zap.String("actor_id", actor))
	}
	if n == 0 {
		return nil, apperr.NotFoundf("you are not friends with this user")
	}
	s.publish(ctx,
		s.event(GraphEventFriendshipRemoved, actor, friend),
		s.event(GraphEventFriendshipRemoved, friend, actor),
	)
	return s.summary(ctx, actor)
}

// FollowUser 关注用户。Following again is a no-op; an unfollowed edge is restored.
func (s *socialGraphService) FollowUser(ctx context.Context, actorRaw, targetRaw string) (*SocialGraphSummary, error) {
	actor, target, err := s.pair(actorRaw, targetRaw, "user id")
	if err != nil {
		return nil, err
	}
	if actor == target {
		return nil, apperr.SelfTargetf("you cannot follow yourself")
	}
	if err := s.ensureNotBlocked(ctx, actor, target); err != nil {
		return nil, err
	}
	_, outcome, err := s.graph.RestoreOrInsertFollow(ctx, actor, target)
	if err != nil {
		return nil, storeFailure("follow user", err, zap.String("actor_id", actor))
	}

	blocked, err := s.graph.IsBlockedEitherWay(ctx, actor, target)
	if err != nil {
		return nil, storeFailure("recheck block", err, zap.String("actor_id", actor))
	}
	if blocked {
		if _, err := s.graph.DeleteFollow(ctx, actor, target); err != nil {
			return nil, storeFailure("drop follow after block", err, zap.String("actor_id", actor))
		}
		return nil, apperr.Forbiddenf("you cannot follow this user")
	}

	if outcome.Changed() {
		s.publish(ctx, s.event(GraphEventFollowed, target, actor))
	}
	return s.summary(ctx, actor)
}

// UnfollowUser is a no-op when the actor does not follow target.
func (s *socialGraphService) UnfollowUser(ctx context.Context, actorRaw, targetRaw string) (*SocialGraphSummary, error) {
	actor, target, err := s.pair(actorRaw, targetRaw, "user id")
	if err != nil {
		return nil, err
	}
	if actor == target {
		return nil, apperr.SelfTargetf("you cannot unfollow yourself")
	}
	removed, err := s.graph.DeleteFollow(ctx, actor, target)
	if err != nil {
		return nil, storeFailure("unfollow user", err, zap.String("actor_id", actor))
	}
	if removed {
		s.publish(ctx, s.event(GraphEventUnfollowed, target, actor))
	}
	return s.summary(ctx, actor)
}

// BlockUser 拉黑用户。The block removes friendships, follows and pending friend requests in both directions.
func (s *socialGraphService) BlockUser(ctx context.Context, actorRaw, targetRaw, reason string) (*SocialGraphSummary, error) {
	actor, target, err := s.pair(actorRaw, targetRaw, "user id")
	if err != nil {
		return nil, err
	}
	if actor == target {
		return nil, apperr.SelfTargetf("you cannot block yourself")
	}
	why, err := validateText(reason, "reason", maxReasonLength)
	if err != nil {
		return nil, err
	}

	var unfriended int64
	err = s.graph.Transaction(ctx, func(tx storage.SocialGraphRepository) error {
		if _, _, err := tx.RestoreOrInsertBlock(ctx, actor, target, why); err != nil {
			return storeFailure("block user", err, zap.String("actor_id", actor))
		}
		n, err := tx.DeleteFriendshipsBetween(ctx, actor, target)
		if err != nil {
			return storeFailure("drop friendships", err, zap.String("actor_id", actor))
		}
		unfriended = n
		if _, err := tx.DeleteFollowsBetween(ctx, actor, target); err != nil {
			return storeFailure("drop follows", err, zap.String("actor_id", actor))
		}
		if _, err := tx.CancelFriendRequestsBetween(ctx, actor, target); err != nil {
			return storeFailure("cancel friend requests", err, zap.String("actor_id", actor))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := []GraphEvent{s.event(GraphEventBlocked, actor, target)}
	if unfriended > 0 {
		events = append(events, s.event(GraphEventFriendshipRemoved, target, actor))
	}
	s.publish(ctx, events...)
	return s.summary(ctx, actor)
}

// UnblockUser lifts the block only; earlier friendships and follows stay deleted.
func (s *socialGraphService) UnblockUser(ctx context.Context, actorRaw, targetRaw string) (*SocialGraphSummary, error) {
	actor, target, err := s.pair(actorRaw, targetRaw, "user id")
	if err != nil {
		return nil, err
	}
	if actor == target {
		return nil, apperr.SelfTargetf("you cannot unblock yourself")
	}
	removed, err := s.graph.DeleteBlock(ctx, actor, target)
	if err != nil {
		return nil, storeFailure("unblock user", err, zap.String("actor_id", actor))
	}
	if removed {
		s.publish(ctx, s.event(GraphEventUnblocked, actor, target))
	}
	return s.summary(ctx, actor)
}

func (s *socialGraphService) pair(actorRaw, otherRaw, what string) (string, string, error) {
	actor, err := actorID(actorRaw)
	if err != nil {
		return "", "", err
	}
	other, err := targetID(otherRaw, what)
	if err != nil {
		return "", "", err
	}
	return actor, other, nil
}

func (s *socialGraphService) ensureNotBlocked(ctx context.Context, a, b string) error {
	blocked, err := s.graph.IsBlockedEitherWay(ctx, a, b)
	if err != nil {
		return storeFailure("check block", err, zap.String("actor_id", a))
	}
	if blocked {
		return apperr.Forbiddenf("you cannot interact with this user")
	}
	return nil
}

func (s *socialGraphService) event(t GraphEventType, userID, counterpartID string) GraphEvent {
	return GraphEvent{Type: t, UserID: userID, CounterpartID: counterpartID, OccurredAt: s.now()}
}

func (s *socialGraphService) publish(ctx context.Context, events ...GraphEvent) {
	s.publisher.PublishGraphEvents(ctx, events)
}

// summary 汇总用户的社交关系。
func (s *socialGraphService) summary(ctx context.Context, userID string) (*SocialGraphSummary, error) {
	friends, err := s.graph.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, storeFailure("list friends", err, zap.String("actor_id", userID))
	}
	incoming, err := s.graph.ListIncomingFriendRequests(ctx, userID)
	if err != nil {
		return nil, storeFailure("list incoming requests", err, zap.String("actor_id", userID))
	}
	outgoing, err := s.graph.ListOutgoingFriendRequests(ctx, userID)
	if err != nil {
		return nil, storeFailure("list outgoing requests", err, zap.String("actor_id", userID))
	}
	following, err := s.graph.ListFolloweeIDs(ctx, userID)
	if err != nil {
		return nil, storeFailure("list following", err, zap.String("actor_id", userID))
	}
	followers, err := s.graph.ListFollowerIDs(ctx, userID)
	if err != nil {
		return nil, storeFailure("list followers", err, zap.String("actor_id", userID))
	}
	blocked, err := s.graph.ListBlockedIDs(ctx, userID)
	if err != nil {
		return nil, storeFailure("list blocked", err, zap.String("actor_id", userID))
	}
	return &SocialGraphSummary{
		UserID:    userID,
		Friends:   nonNil(friends),
		Incoming:  mapRows(incoming, toFriendRequestView),
		Outgoing:  mapRows(outgoing, toFriendRequestView),
		Following: nonNil(following),
		Followers: nonNil(followers),
		Blocked:   nonNil(blocked),
	}, nil
}
