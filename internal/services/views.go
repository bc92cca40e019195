package services

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"capsule-go/internal/logger"
	"capsule-go/internal/models"
	"capsule-go/internal/permission"
)

// CapsuleView 胶囊对外信息
type CapsuleView struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Slug             string                  `json:"slug"`
	OwnerID          string                  `json:"ownerId"`
	Description      string                  `json:"description,omitempty"`
	AvatarURL        string                  `json:"avatarUrl,omitempty"`
	BannerURL        string                  `json:"bannerUrl,omitempty"`
	MembershipPolicy models.MembershipPolicy `json:"membershipPolicy"`
	CreatedAt        time.Time               `json:"createdAt"`
}

// MemberView is a member with their external role.
type MemberView struct {
	UserID   string      `json:"userId"`
	Role     models.Role `json:"role"`
	IsOwner  bool        `json:"isOwner"`
	JoinedAt time.Time   `json:"joinedAt,omitempty"`
}

type FollowerView struct {
	UserID     string    `json:"userId"`
	FollowedAt time.Time `json:"followedAt"`
}

// RequestView is a join request or an invite.
type RequestView struct {
	ID          string               `json:"id"`
	CapsuleID   string               `json:"capsuleId"`
	RequesterID string               `json:"requesterId"`
	InitiatorID string               `json:"initiatorId"`
	Status      models.RequestStatus `json:"status"`
	Origin      models.RequestOrigin `json:"origin"`
	Role        models.Role          `json:"role"`
	Message     string               `json:"message,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	ApprovedAt  *time.Time           `json:"approvedAt,omitempty"`
	DeclinedAt  *time.Time           `json:"declinedAt,omitempty"`
	CancelledAt *time.Time           `json:"cancelledAt,omitempty"`
}

// ViewerState is the viewer's standing in one capsule.
// Role is empty for non-members; IsFollower is always false for members.
type ViewerState struct {
	UserID         string                 `json:"userId,omitempty"`
	Role           models.Role            `json:"role,omitempty"`
	IsOwner        bool                   `json:"isOwner"`
	IsMember       bool                   `json:"isMember"`
	IsFollower     bool                   `json:"isFollower"`
	Permissions    permission.Permissions `json:"permissions"`
	PendingRequest *RequestView           `json:"pendingRequest,omitempty"`
}

// MembershipState is the aggregate returned by every membership operation.
// Requests is only filled for viewers allowed to invite or approve.
type MembershipState struct {
	Capsule   CapsuleView    `json:"capsule"`
	Viewer    ViewerState    `json:"viewer"`
	Members   []MemberView   `json:"members"`
	Followers []FollowerView `json:"followers"`
	Requests  []RequestView  `json:"requests,omitempty"`
}

// FriendRequestView 好友请求视图
type FriendRequestView struct {
	ID          string                     `json:"id"`
	RequesterID string                     `json:"requesterId"`
	RecipientID string                     `json:"recipientId"`
	Status      models.FriendRequestStatus `json:"status"`
	Message     string                     `json:"message,omitempty"`
	CreatedAt   time.Time                  `json:"createdAt"`
}

// SocialGraphSummary is the aggregate returned by every social graph operation.
type SocialGraphSummary struct {
	UserID    string              `json:"userId"`
	Friends   []string            `json:"friends"`
	Incoming  []FriendRequestView `json:"incomingRequests"`
	Outgoing  []FriendRequestView `json:"outgoingRequests"`
	Following []string            `json:"following"`
	Followers []string            `json:"followers"`
	Blocked   []string            `json:"blocked"`
}

// The to*View functions turn rows into views. A row missing a required identifier or carrying
// an unknown enum value is dropped (ok == false) and logged rather than passed through.

func toCapsuleView(c *models.Capsule) (CapsuleView, bool) {
	if c == nil || blank(c.ID) || blank(c.OwnerID) {
		return CapsuleView{}, false
	}
	policy, err := models.ParseMembershipPolicy(string(c.MembershipPolicy))
	if err != nil {
		logger.Warn("discarding capsule row with unknown policy", zap.String("capsule_id", c.ID), zap.Error(err))
		return CapsuleView{}, false
	}
	return CapsuleView{
		ID:               c.ID,
		Name:             strings.TrimSpace(c.Name),
		Slug:             c.Slug,
		OwnerID:          c.OwnerID,
		Description:      strings.TrimSpace(c.Description),
		AvatarURL:        strings.TrimSpace(c.AvatarURL),
		BannerURL:        strings.TrimSpace(c.BannerURL),
		MembershipPolicy: policy,
		CreatedAt:        c.CreatedAt,
	}, true
}

// toMemberView resolves the external role. The owner is always founder whatever is stored,
// and an owner storage role on anyone else is rejected.
func toMemberView(m *models.CapsuleMember, ownerID string) (MemberView, bool) {
	if m == nil || blank(m.UserID) {
		return MemberView{}, false
	}
	if m.UserID == ownerID {
		return MemberView{UserID: m.UserID, Role: models.RoleFounder, IsOwner: true, JoinedAt: m.CreatedAt}, true
	}
	role, err := models.ParseStorageRole(string(m.Role))
	if err != nil || role == models.StorageRoleOwner {
		logger.Warn("discarding member row with invalid role",
			zap.String("capsule_id", m.CapsuleID),
			zap.String("user_id", m.UserID),
			zap.String("role", string(m.Role)))
		return MemberView{}, false
	}
	return MemberView{UserID: m.UserID, Role: role.External(), JoinedAt: m.CreatedAt}, true
}

func toFollowerView(f *models.CapsuleFollower) (FollowerView, bool) {
	if f == nil || blank(f.UserID) {
		return FollowerView{}, false
	}
	return FollowerView{UserID: f.UserID, FollowedAt: f.CreatedAt}, true
}

func toRequestView(q *models.CapsuleMemberRequest) (RequestView, bool) {
	if q == nil || blank(q.ID) || blank(q.RequesterID) || blank(q.CapsuleID) {
		return RequestView{}, false
	}
	switch q.Origin {
	case models.OriginViewerRequest, models.OriginOwnerInvite:
	default:
		return RequestView{}, false
	}
	role := models.RoleMember
	if r, err := models.ParseStorageRole(string(q.Role)); err == nil && r != models.StorageRoleOwner {
		role = r.External()
	}
	return RequestView{
		ID:          q.ID,
		CapsuleID:   q.CapsuleID,
		RequesterID: q.RequesterID,
		InitiatorID: q.InitiatorID,
		Status:      q.Status,
		Origin:      q.Origin,
		Role:        role,
		Message:     strings.TrimSpace(q.Message),
		CreatedAt:   q.CreatedAt,
		ApprovedAt:  q.ApprovedAt,
		DeclinedAt:  q.DeclinedAt,
		CancelledAt: q.CancelledAt,
	}, true
}

func toFriendRequestView(q *models.FriendRequest) (FriendRequestView, bool) {
	if q == nil || blank(q.RequesterID) || blank(q.RecipientID) {
		return FriendRequestView{}, false
	}
	return FriendRequestView{
		ID:          q.ID,
		RequesterID: q.RequesterID,
		RecipientID: q.RecipientID,
		Status:      q.Status,
		Message:     strings.TrimSpace(q.Message),
		CreatedAt:   q.CreatedAt,
	}, true
}

// mapRows keeps the rows that map successfully.
func mapRows[R any, V any](rows []R, fn func(R) (V, bool)) []V {
	out := make([]V, 0, len(rows))
	for _, r := range rows {
		if v, ok := fn(r); ok {
			out = append(out, v)
		}
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
