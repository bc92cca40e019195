package services

import (
	"context"
	"time"

	"capsule-go/internal/models"
)

// InviteNotification is handed to the notifier after an invite is written.
type InviteNotification struct {
	RequestID   string      `json:"requestId"`
	CapsuleID   string      `json:"capsuleId"`
	CapsuleName string      `json:"capsuleName"`
	InviteeID   string      `json:"inviteeId"`
	InviterID   string      `json:"inviterId"`
	Role        models.Role `json:"role"`
	Message     string      `json:"message,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// GraphEventType 社交关系事件类型
type GraphEventType string

const (
	GraphEventFriendRequestSent      GraphEventType = "friend_request.sent"
	GraphEventFriendRequestReceived  GraphEventType = "friend_request.received"
	GraphEventFriendRequestAccepted  GraphEventType = "friend_request.accepted"
	GraphEventFriendRequestDeclined  GraphEventType = "friend_request.declined"
	GraphEventFriendRequestCancelled GraphEventType = "friend_request.cancelled"
	GraphEventFriendshipRemoved      GraphEventType = "friendship.removed"
	GraphEventFollowed               GraphEventType = "follow.created"
	GraphEventUnfollowed             GraphEventType = "follow.removed"
	GraphEventBlocked                GraphEventType = "block.created"
	GraphEventUnblocked              GraphEventType = "block.removed"
)

// GraphEvent is addressed to UserID and describes a change involving CounterpartID.
type GraphEvent struct {
	Type          GraphEventType `json:"type"`
	UserID        string         `json:"userId"`
	CounterpartID string         `json:"counterpartId"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// The collaborator calls are fire-and-forget: implementations must not block the caller
// and have no way to report failure back to it.

// InviteNotifier delivers capsule invites to the invitee.
type InviteNotifier interface {
	NotifyInvite(ctx context.Context, invite InviteNotification)
}

// GraphEventPublisher fans social graph events out to realtime subscribers.
type GraphEventPublisher interface {
	PublishGraphEvents(ctx context.Context, events []GraphEvent)
}

// KnowledgeRefresher schedules a rebuild of a capsule's derived knowledge after its membership changed.
type KnowledgeRefresher interface {
	EnqueueKnowledgeRefresh(ctx context.Context, capsuleID, name string)
}

type noopCollaborators struct{}

func (noopCollaborators) NotifyInvite(context.Context, InviteNotification) {}
func (noopCollaborators) PublishGraphEvents(context.Context, []GraphEvent) {}
func (noopCollaborators) EnqueueKnowledgeRefresh(context.Context, string, string) {}
