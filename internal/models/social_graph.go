package models

// Friendship is one directed friendship edge.
// A symmetric friendship is two rows, one per direction.
type Friendship struct {
	BaseModel
	UserID       string `gorm:"type:varchar(36);not null;uniqueIndex:idx_friendship_edge" json:"userId"`
	FriendUserID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_friendship_edge;index" json:"friendUserId"`
}

func (Friendship) TableName() string {
	return "friendships"
}

// FriendRequestStatus 定义好友请求的状态
type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestAccepted  FriendRequestStatus = "accepted"
	FriendRequestDeclined  FriendRequestStatus = "declined"
	FriendRequestCancelled FriendRequestStatus = "cancelled"
)

// FriendRequest 代表一个好友请求记录。
// One row per ordered pair: leaving pending tombstones the row and a new request restores it.
type FriendRequest struct {
	BaseModel
	RequesterID string              `gorm:"type:varchar(36);not null;uniqueIndex:idx_friend_request_pair" json:"requesterId"`
	RecipientID string              `gorm:"type:varchar(36);not null;uniqueIndex:idx_friend_request_pair;index" json:"recipientId"`
	Status      FriendRequestStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Message     string              `gorm:"type:text" json:"message,omitempty"`
}

func (FriendRequest) TableName() string {
	return "friend_requests"
}

// FollowEdge 关注关系（A 关注 B）
type FollowEdge struct {
	BaseModel
	FollowerUserID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_follow_pair" json:"followerUserId"`
	FolloweeUserID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_follow_pair;index" json:"followeeUserId"`
}

func (FollowEdge) TableName() string {
	return "follows"
}

// BlockEdge 拉黑关系。An active block implies no active friendship or follow edge between the pair.
type BlockEdge struct {
	BaseModel
	BlockerUserID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_block_pair" json:"blockerUserId"`
	BlockedUserID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_block_pair;index" json:"blockedUserId"`
	Reason        string `gorm:"type:varchar(255)" json:"reason,omitempty"`
}

func (BlockEdge) TableName() string {
	return "blocks"
}
