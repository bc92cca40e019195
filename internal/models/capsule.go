package models

import "time"

// Capsule 代表一个群组工作空间。OwnerID 创建后不可变。
type Capsule struct {
	BaseModel
	Name             string           `gorm:"type:varchar(100);not null" json:"name"`
	Slug             string           `gorm:"type:varchar(100);not null;uniqueIndex" json:"slug"`
	Description      string           `gorm:"type:text" json:"description,omitempty"`
	OwnerID          string           `gorm:"type:varchar(36);not null;index" json:"ownerId"`
	MembershipPolicy MembershipPolicy `gorm:"type:varchar(32);not null;default:'request_approval'" json:"membershipPolicy"`
	AvatarURL        string           `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	BannerURL        string           `gorm:"type:varchar(255)" json:"bannerUrl,omitempty"`
}

// TableName 指定 Capsule 模型的表名。
func (Capsule) TableName() string {
	return "capsules"
}

// CapsuleMember 将用户链接到胶囊并定义其存储角色。
// The capsule owner's row, when present, must carry StorageRoleOwner.
type CapsuleMember struct {
	BaseModel
	CapsuleID string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_capsule_member_pair" json:"capsuleId"`
	UserID    string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_capsule_member_pair;index" json:"userId"`
	Role      StorageRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
}

// TableName 指定 CapsuleMember 模型的表名。
func (CapsuleMember) TableName() string {
	return "capsule_members"
}

// CapsuleFollower records a user following a capsule without being a member.
type CapsuleFollower struct {
	BaseModel
	CapsuleID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_capsule_follower_pair" json:"capsuleId"`
	UserID    string `gorm:"type:varchar(36);not null;uniqueIndex:idx_capsule_follower_pair;index" json:"userId"`
}

func (CapsuleFollower) TableName() string {
	return "capsule_followers"
}

// RequestStatus is the state of a membership request or invite. Anything but pending is terminal.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
)

// RequestOrigin tells which side started the flow.
type RequestOrigin string

const (
	OriginViewerRequest RequestOrigin = "viewer_request"
	OriginOwnerInvite   RequestOrigin = "owner_invite"
)

// CapsuleMemberRequest is a join request (viewer_request) or an invite (owner_invite).
// At most one pending row exists per (capsule, requester); the partial unique index backs the upsert.
type CapsuleMemberRequest struct {
	BaseModel
	CapsuleID   string        `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_capsule_pending_request,where:status = 'pending'" json:"capsuleId"`
	RequesterID string        `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_capsule_pending_request,where:status = 'pending'" json:"requesterId"`
	Status      RequestStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Origin      RequestOrigin `gorm:"type:varchar(20);not null" json:"origin"`
	InitiatorID string        `gorm:"type:varchar(36);not null" json:"initiatorId"`
	Role        StorageRole   `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	Message     string        `gorm:"type:text" json:"message,omitempty"`
	ApprovedAt  *time.Time    `json:"approvedAt,omitempty"`
	DeclinedAt  *time.Time    `json:"declinedAt,omitempty"`
	CancelledAt *time.Time    `json:"cancelledAt,omitempty"`
}

func (CapsuleMemberRequest) TableName() string {
	return "capsule_member_requests"
}
