package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"capsule-go/internal/apperr"
	"capsule-go/internal/logger"
	"capsule-go/internal/models"
	"capsule-go/internal/permission"
	"capsule-go/internal/storage"
)

// MembershipService defines capsule membership, follow, request and invite workflows.
// Every operation returns the capsule's state as seen by the acting user.
type MembershipService interface {
	GetMembership(ctx context.Context, viewerID, capsuleID string) (*MembershipState, error)
	GetMembershipBySlug(ctx context.Context, viewerID, slug string) (*MembershipState, error)
	ListOwnedCapsules(ctx context.Context, ownerID string) ([]CapsuleView, error)
	CreateCapsule(ctx context.Context, actorID string, in CreateCapsuleInput) (*MembershipState, error)
	UpdateCapsuleProfile(ctx context.Context, actorID, capsuleID string, in CapsuleProfileInput) (*MembershipState, error)

	RequestMembership(ctx context.Context, actorID, capsuleID, message string) (*MembershipState, error)
	FollowCapsule(ctx context.Context, actorID, capsuleID string) (*MembershipState, error)
	UnfollowCapsule(ctx context.Context, actorID, capsuleID string) (*MembershipState, error)
	LeaveCapsule(ctx context.Context, actorID, capsuleID string) (*MembershipState, error)

	InviteMember(ctx context.Context, actorID, capsuleID, inviteeID, message string) (*MembershipState, error)
	AcceptInvite(ctx context.Context, actorID, requestID string) (*MembershipState, error)
	DeclineInvite(ctx context.Context, actorID, requestID string) (*MembershipState, error)
	ApproveRequest(ctx context.Context, actorID, requestID string) (*MembershipState, error)
	DeclineRequest(ctx context.Context, actorID, requestID string) (*MembershipState, error)
	CancelRequest(ctx context.Context, actorID, requestID string) (*MembershipState, error)

	RemoveMember(ctx context.Context, actorID, capsuleID, memberID string) (*MembershipState, error)
	SetMemberRole(ctx context.Context, actorID, capsuleID, memberID, role string) (*MembershipState, error)
	SetMembershipPolicy(ctx context.Context, actorID, capsuleID, policy string) (*MembershipState, error)
}

// CreateCapsuleInput 创建胶囊参数。An empty slug is derived from the name; an empty policy means request_approval.
type CreateCapsuleInput struct {
	Name        string
	Slug        string
	Description string
	Policy      string
}

// CapsuleProfileInput carries profile changes; nil fields stay as they are.
type CapsuleProfileInput struct {
	Name        *string
	Description *string
	AvatarURL   *string
	BannerURL   *string
}

type membershipService struct {
	capsules    storage.CapsuleRepository
	memberships storage.MembershipRepository
	notifier    InviteNotifier
	refresher   KnowledgeRefresher
	now         func() time.Time
}

// NewMembershipService creates a new MembershipService. Nil collaborators are replaced by no-ops.
func NewMembershipService(
	capsules storage.CapsuleRepository,
	memberships storage.MembershipRepository,
	notifier InviteNotifier,
	refresher KnowledgeRefresher,
) MembershipService {
	if notifier == nil {
		notifier = noopCollaborators{}
	}
	if refresher == nil {
		refresher = noopCollaborators{}
	}
	return &membershipService{
		capsules:    capsules,
		memberships: memberships,
		notifier:    notifier,
		refresher:   refresher,
		now:         time.Now,
	}
}

// GetMembership 获取胶囊状态。An empty viewer is anonymous and holds no capabilities.
func (s *membershipService) GetMembership(ctx context.Context, viewerID, capsuleID string) (*MembershipState, error) {
	viewer, err := optionalActor(viewerID)
	if err != nil {
		return nil, err
	}
	capsule, err := s.loadCapsule(ctx, capsuleID)
	if err != nil {
		return nil, err
	}
	return s.state(ctx, capsule, viewer)
}

// GetMembershipBySlug resolves the capsule by slug, then behaves like GetMembership.
func (s *membershipService) GetMembershipBySlug(ctx context.Context, viewerID, slug string) (*MembershipState, error) {
	viewer, err := optionalActor(viewerID)
	if err != nil {
		return nil, err
	}
	normalized := normalizeSlug(slug)
	if err := validateSlug(normalized); err != nil {
		return nil, err
	}
	capsule, err := s.capsules.GetCapsuleBySlug(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFoundf("capsule not found")
		}
		return nil, storeFailure("get capsule by slug", err, zap.String("slug", normalized))
	}
	return s.state(ctx, capsule, viewer)
}

// ListOwnedCapsules 列出用户创建的胶囊，按创建时间排序。
func (s *membershipService) ListOwnedCapsules(ctx context.Context, ownerRaw string) ([]CapsuleView, error) {
	owner, err := targetID(ownerRaw, "owner id")
	if err != nil {
		return nil, err
	}
	rows, err := s.capsules.ListCapsulesByOwner(ctx, owner)
	if err != nil {
		return nil, storeFailure("list owned capsules", err, zap.String("owner_id", owner))
	}
	return mapRows(rows, toCapsuleView), nil
}

func (s *membershipService) CreateCapsule(ctx context.Context, actorRaw string, in CreateCapsuleInput) (*MembershipState, error) {
	actor, err := actorID(actorRaw)
	if err != nil {
		return nil, err
	}
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	slug := normalizeSlug(in.Slug)
	if strings.TrimSpace(in.Slug) == "" {
		slug = normalizeSlug(name)
	}
	if err := validateSlug(slug); err != nil {
		return nil, err
	}
	description, err := validateText(in.Description, "description", maxMessageLength)
	if err != nil {
		return nil, err
	}
	policy, err := models.ParseMembershipPolicy(in.Policy)
	if err != nil {
		return nil, apperr.Invalidf("unknown membership policy")
	}

	capsule := &models.Capsule{
		Name:             name,
		Slug:             slug,
		Description:      description,
		OwnerID:          actor,
		MembershipPolicy: policy,
	}
	if err := s.capsules.CreateCapsule(ctx, capsule); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflictf("the slug %q is already taken", slug)
		}
		return nil, storeFailure("create capsule", err, zap.String("actor_id", actor))
	}
	if _, _, err := s.memberships.RestoreOrInsertMember(ctx, capsule.ID, actor, models.StorageRoleOwner); err != nil {
		return nil, storeFailure("create owner membership", err, zap.String("capsule_id", capsule.ID))
	}
	logger.Info("capsule created", zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	return s.state(ctx, capsule, actor)
}

// UpdateCapsuleProfile 更新胶囊资料，需要 Customize 权限。
func (s *membershipService) UpdateCapsuleProfile(ctx context.Context, actorRaw, capsuleID string, in CapsuleProfileInput) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(sub, permission.Customize); err != nil {
		return nil, err
	}

	var profile storage.CapsuleProfile
	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		profile.Name = &name
	}
	if in.Description != nil {
		description, err := validateText(*in.Description, "description", maxMessageLength)
		if err != nil {
			return nil, err
		}
		profile.Description = &description
	}
	if profile.AvatarURL, err = validateMediaURL(in.AvatarURL, "avatar url"); err != nil {
		return nil, err
	}
	if profile.BannerURL, err = validateMediaURL(in.BannerURL, "banner url"); err != nil {
		return nil, err
	}

	if err := s.capsules.UpdateProfile(ctx, capsule.ID, profile); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFoundf("capsule not found")
		}
		return nil, storeFailure("update capsule profile", err, zap.String("capsule_id", capsule.ID))
	}
	return s.reload(ctx, capsule.ID, actor)
}

// RequestMembership 申请加入胶囊。Open capsules admit immediately without a request row.
// A racing invite for the same user turns the upsert into a conflict instead of rewriting the invite.
func (s *membershipService) RequestMembership(ctx context.Context, actorRaw, capsuleID, message string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	msg, err := validateText(message, "message", maxMessageLength)
	if err != nil {
		return nil, err
	}
	if sub.IsMember {
		return nil, apperr.Conflictf("you are already a member of this capsule")
	}
	if capsule.MembershipPolicy == models.PolicyInviteOnly {
		return nil, apperr.Forbiddenf("this capsule only admits members by invitation")
	}

	pending, err := s.findPending(ctx, s.memberships, capsule.ID, actor)
	if err != nil {
		return nil, err
	}
	if pending != nil && pending.Origin == models.OriginOwnerInvite {
		return nil, apperr.Conflictf("you already have a pending invite to this capsule")
	}

	if capsule.MembershipPolicy == models.PolicyOpen {
		if err := s.join(ctx, capsule.ID, actor, pending, models.StorageRoleMember); err != nil {
			return nil, err
		}
		s.refresher.EnqueueKnowledgeRefresh(ctx, capsule.ID, capsule.Name)
		return s.state(ctx, capsule, actor)
	}

	_, err = s.memberships.UpsertPendingRequest(ctx, &models.CapsuleMemberRequest{
		CapsuleID:   capsule.ID,
		RequesterID: actor,
		Origin:      models.OriginViewerRequest,
		InitiatorID: actor,
		Role:        models.StorageRoleMember,
		Message:     msg,
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return nil, apperr.Conflictf("you already have a pending invite to this capsule")
		}
		return nil, storeFailure("upsert membership request", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}
	return s.state(ctx, capsule, actor)
}

// FollowCapsule is a no-op for members: membership supersedes following.
func (s *membershipService) FollowCapsule(ctx context.Context, actorRaw, capsuleID string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	if !sub.IsMember {
		if _, _, err := s.memberships.RestoreOrInsertFollower(ctx, capsule.ID, actor); err != nil {
			return nil, storeFailure("follow capsule", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
		}
	}
	return s.state(ctx, capsule, actor)
}

func (s *membershipService) UnfollowCapsule(ctx context.Context, actorRaw, capsuleID string) (*MembershipState, error) {
	actor, capsule, _, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberships.DeleteFollower(ctx, capsule.ID, actor); err != nil {
		return nil, storeFailure("unfollow capsule", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}
	return s.state(ctx, capsule, actor)
}

// LeaveCapsule 退出胶囊。The founder cannot leave their own capsule.
func (s *membershipService) LeaveCapsule(ctx context.Context, actorRaw, capsuleID string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	if sub.IsOwner {
		return nil, apperr.Conflictf("the capsule founder cannot leave the capsule")
	}
	if !sub.IsMember {
		return nil, apperr.NotFoundf("you are not a member of this capsule")
	}
	removed, err := s.memberships.DeleteMember(ctx, capsule.ID, actor)
	if err != nil {
		return nil, storeFailure("leave capsule", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}
	if removed {
		s.refresher.EnqueueKnowledgeRefresh(ctx, capsule.ID, capsule.Name)
	}
	return s.state(ctx, capsule, actor)
}

// InviteMember 邀请用户加入胶囊，需要 leader 及以上。
func (s *membershipService) InviteMember(ctx context.Context, actorRaw, capsuleID, inviteeRaw, message string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(sub, permission.InviteMembers); err != nil {
		return nil, err
	}
	invitee, err := targetID(inviteeRaw, "invitee id")
	if err != nil {
		return nil, err
	}
	if invitee == actor {
		return nil, apperr.SelfTargetf("you cannot invite yourself")
	}
	msg, err := validateText(message, "message", maxMessageLength)
	if err != nil {
		return nil, err
	}

	target, err := s.subject(ctx, s.memberships, capsule, invitee)
	if err != nil {
		return nil, err
	}
	if target.IsMember {
		return nil, apperr.Conflictf("this user is already a member of the capsule")
	}
	pending, err := s.findPending(ctx, s.memberships, capsule.ID, invitee)
	if err != nil {
		return nil, err
	}
	if pending != nil && pending.Origin == models.OriginViewerRequest {
		return nil, apperr.Conflictf("this user already asked to join; review their request instead")
	}

	invite, err := s.memberships.UpsertPendingRequest(ctx, &models.CapsuleMemberRequest{
		CapsuleID:   capsule.ID,
		RequesterID: invitee,
		Origin:      models.OriginOwnerInvite,
		InitiatorID: actor,
		Role:        models.StorageRoleMember,
		Message:     msg,
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return nil, apperr.Conflictf("this user already asked to join; review their request instead")
		}
		return nil, storeFailure("upsert invite", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}

	s.notifier.NotifyInvite(ctx, InviteNotification{
		RequestID:   invite.ID,
		CapsuleID:   capsule.ID,
		CapsuleName: capsule.Name,
		InviteeID:   invitee,
		InviterID:   actor,
		Role:        models.RoleMember,
		Message:     msg,
		CreatedAt:   invite.CreatedAt,
	})
	return s.state(ctx, capsule, actor)
}

// AcceptInvite 接受邀请。Only the invitee may accept, and only while the invite is pending.
func (s *membershipService) AcceptInvite(ctx context.Context, actorRaw, requestID string) (*MembershipState, error) {
	actor, req, capsule, err := s.loadRequest(ctx, actorRaw, requestID)
	if err != nil {
		return nil, err
	}
	if req.Origin != models.OriginOwnerInvite {
		return nil, apperr.NotFoundf("invite not found")
	}
	if req.RequesterID != actor {
		return nil, apperr.Forbiddenf("only the invited user can answer this invite")
	}
	if req.Status != models.RequestPending {
		return nil, apperr.Conflictf("this invite was already %s", req.Status)
	}
	if err := s.approveAndJoin(ctx, req, models.StorageRoleMember); err != nil {
		return nil, err
	}
	s.refresher.EnqueueKnowledgeRefresh(ctx, capsule.ID, capsule.Name)
	return s.state(ctx, capsule, actor)
}

func (s *membershipService) DeclineInvite(ctx context.Context, actorRaw, requestID string) (*MembershipState, error) {
	actor, req, capsule, err := s.loadRequest(ctx, actorRaw, requestID)
	if err != nil {
		return nil, err
	}
	if req.Origin != models.OriginOwnerInvite {
		return nil, apperr.NotFoundf("invite not found")
	}
	if req.RequesterID != actor {
		return nil, apperr.Forbiddenf("only the invited user can answer this invite")
	}
	if err := s.resolve(ctx, req, models.RequestDeclined); err != nil {
		return nil, err
	}
	return s.state(ctx, capsule, actor)
}

// ApproveRequest 审批通过加入申请，成员角色取自申请中的角色。
func (s *membershipService) ApproveRequest(ctx context.Context, actorRaw, requestID string) (*MembershipState, error) {
	actor, req, capsule, err := s.reviewable(ctx, actorRaw, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, apperr.Conflictf("this request was already %s", req.Status)
	}
	role, err := models.ParseStorageRole(string(req.Role))
	if err != nil || role == models.StorageRoleOwner {
		role = models.StorageRoleMember
	}
	if err := s.approveAndJoin(ctx, req, role); err != nil {
		return nil, err
	}
	s.refresher.EnqueueKnowledgeRefresh(ctx, capsule.ID, capsule.Name)
	return s.state(ctx, capsule, actor)
}

func (s *membershipService) DeclineRequest(ctx context.Context, actorRaw, requestID string) (*MembershipState, error) {
	actor, req, capsule, err := s.reviewable(ctx, actorRaw, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, req, models.RequestDeclined); err != nil {
		return nil, err
	}
	return s.state(ctx, capsule, actor)
}

// CancelRequest withdraws a pending request or invite.
// A join request is cancelled by its requester; an invite by its initiator or anyone allowed to invite.
func (s *membershipService) CancelRequest(ctx context.Context, actorRaw, requestID string) (*MembershipState, error) {
	actor, req, capsule, err := s.loadRequest(ctx, actorRaw, requestID)
	if err != nil {
		return nil, err
	}
	switch req.Origin {
	case models.OriginViewerRequest:
		if req.RequesterID != actor {
			return nil, apperr.Forbiddenf("only the requester can cancel this request")
		}
	default:
		if req.InitiatorID != actor {
			sub, err := s.subject(ctx, s.memberships, capsule, actor)
			if err != nil {
				return nil, err
			}
			if err := permission.Require(sub, permission.InviteMembers); err != nil {
				return nil, err
			}
		}
	}
	if err := s.resolve(ctx, req, models.RequestCancelled); err != nil {
		return nil, err
	}
	return s.state(ctx, capsule, actor)
}

// RemoveMember 移除成员。
func (s *membershipService) RemoveMember(ctx context.Context, actorRaw, capsuleID, memberRaw string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	member, err := targetID(memberRaw, "member id")
	if err != nil {
		return nil, err
	}
	if member == actor {
		return nil, apperr.SelfTargetf("use leave to remove yourself")
	}
	target, err := s.subject(ctx, s.memberships, capsule, member)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(sub, permission.RemoveMembers); err != nil {
		return nil, err
	}
	if !target.IsMember {
		return nil, apperr.NotFoundf("member not found")
	}
	if err := permission.CanRemoveMember(sub, target); err != nil {
		return nil, err
	}
	removed, err := s.memberships.DeleteMember(ctx, capsule.ID, member)
	if err != nil {
		return nil, storeFailure("remove member", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}
	if removed {
		s.refresher.EnqueueKnowledgeRefresh(ctx, capsule.ID, capsule.Name)
	}
	return s.state(ctx, capsule, actor)
}

// SetMemberRole 修改成员角色。role is an external role name.
func (s *membershipService) SetMemberRole(ctx context.Context, actorRaw, capsuleID, memberRaw, roleRaw string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	member, err := targetID(memberRaw, "member id")
	if err != nil {
		return nil, err
	}
	role, err := models.ParseRole(roleRaw)
	if err != nil {
		return nil, apperr.Invalidf("unknown role")
	}
	if member == actor {
		return nil, apperr.SelfTargetf("you cannot change your own role")
	}
	target, err := s.subject(ctx, s.memberships, capsule, member)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(sub, permission.ChangeRoles); err != nil {
		return nil, err
	}
	if !target.IsMember {
		return nil, apperr.NotFoundf("member not found")
	}
	if err := permission.CanSetRole(sub, target, role); err != nil {
		return nil, err
	}
	if err := s.memberships.UpdateMemberRole(ctx, capsule.ID, member, role.Storage()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFoundf("member not found")
		}
		return nil, storeFailure("set member role", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}
	s.refresher.EnqueueKnowledgeRefresh(ctx, capsule.ID, capsule.Name)
	return s.state(ctx, capsule, actor)
}

// SetMembershipPolicy 修改胶囊加入策略，需要 ChangeRoles 权限。
func (s *membershipService) SetMembershipPolicy(ctx context.Context, actorRaw, capsuleID, policyRaw string) (*MembershipState, error) {
	actor, capsule, sub, err := s.begin(ctx, actorRaw, capsuleID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(sub, permission.ChangeRoles); err != nil {
		return nil, err
	}
	if strings.TrimSpace(policyRaw) == "" {
		return nil, apperr.Invalidf("membership policy is required")
	}
	policy, err := models.ParseMembershipPolicy(policyRaw)
	if err != nil {
		return nil, apperr.Invalidf("unknown membership policy")
	}
	if err := s.capsules.UpdateMembershipPolicy(ctx, capsule.ID, policy); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFoundf("capsule not found")
		}
		return nil, storeFailure("set membership policy", err, zap.String("capsule_id", capsule.ID), zap.String("actor_id", actor))
	}
	return s.reload(ctx, capsule.ID, actor)
}

// begin validates the actor, loads the capsule and resolves the actor's standing in it.
func (s *membershipService) begin(ctx context.Context, actorRaw, capsuleID string) (string, *models.Capsule, permission.Subject, error) {
	actor, err := actorID(actorRaw)
	if err != nil {
		return "", nil, permission.Subject{}, err
	}
	capsule, err := s.loadCapsule(ctx, capsuleID)
	if err != nil {
		return "", nil, permission.Subject{}, err
	}
	sub, err := s.subject(ctx, s.memberships, capsule, actor)
	if err != nil {
		return "", nil, permission.Subject{}, err
	}
	return actor, capsule, sub, nil
}

func (s *membershipService) loadCapsule(ctx context.Context, raw string) (*models.Capsule, error) {
	id, err := targetID(raw, "capsule id")
	if err != nil {
		return nil, err
	}
	capsule, err := s.capsules.GetCapsuleByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFoundf("capsule not found")
		}
		return nil, storeFailure("load capsule", err, zap.String("capsule_id", id))
	}
	return capsule, nil
}

// loadRequest validates the actor and loads the request together with its capsule.
func (s *membershipService) loadRequest(ctx context.Context, actorRaw, requestRaw string) (string, *models.CapsuleMemberRequest, *models.Capsule, error) {
	actor, err := actorID(actorRaw)
	if err != nil {
		return "", nil, nil, err
	}
	id, err := targetID(requestRaw, "request id")
	if err != nil {
		return "", nil, nil, err
	}
	req, err := s.memberships.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, nil, apperr.NotFoundf("request not found")
		}
		return "", nil, nil, storeFailure("load request", err, zap.String("actor_id", actor))
	}
	capsule, err := s.capsules.GetCapsuleByID(ctx, req.CapsuleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, nil, apperr.NotFoundf("capsule not found")
		}
		return "", nil, nil, storeFailure("load capsule", err, zap.String("capsule_id", req.CapsuleID))
	}
	return actor, req, capsule, nil
}

// reviewable loads a join request for an actor allowed to review it.
func (s *membershipService) reviewable(ctx context.Context, actorRaw, requestID string) (string, *models.CapsuleMemberRequest, *models.Capsule, error) {
	actor, req, capsule, err := s.loadRequest(ctx, actorRaw, requestID)
	if err != nil {
		return "", nil, nil, err
	}
	sub, err := s.subject(ctx, s.memberships, capsule, actor)
	if err != nil {
		return "", nil, nil, err
	}
	if err := permission.Require(sub, permission.ApproveRequests); err != nil {
		return "", nil, nil, err
	}
	if req.Origin != models.OriginViewerRequest {
		return "", nil, nil, apperr.Conflictf("invites are answered by the invited user")
	}
	return actor, req, capsule, nil
}

// subject resolves a user's standing in the capsule. The owner is founder even without a member row.
func (s *membershipService) subject(ctx context.Context, repo storage.MembershipRepository, capsule *models.Capsule, userID string) (permission.Subject, error) {
	if userID == "" {
		return permission.Subject{}, nil
	}
	if userID == capsule.OwnerID {
		return permission.Owner(), nil
	}
	row, err := repo.GetMember(ctx, capsule.ID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return permission.Subject{}, nil
		}
		return permission.Subject{}, storeFailure("load member", err, zap.String("capsule_id", capsule.ID))
	}
	view, ok := toMemberView(row, capsule.OwnerID)
	if !ok {
		return permission.Subject{}, nil
	}
	return permission.Member(view.Role), nil
}

func (s *membershipService) findPending(ctx context.Context, repo storage.MembershipRepository, capsuleID, userID string) (*models.CapsuleMemberRequest, error) {
	req, err := repo.FindPendingRequest(ctx, capsuleID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, storeFailure("find pending request", err, zap.String("capsule_id", capsuleID))
	}
	return req, nil
}

// join admits userID in its own transaction. A join request still pending from before the capsule
// opened up is approved in the same transaction so it stops showing in the review queue.
func (s *membershipService) join(ctx context.Context, capsuleID, userID string, pending *models.CapsuleMemberRequest, role models.StorageRole) error {
	return s.memberships.Transaction(ctx, func(tx storage.MembershipRepository) error {
		if pending != nil {
			err := tx.ResolveRequest(ctx, pending.ID, models.RequestApproved, s.now())
			if err != nil && !errors.Is(err, storage.ErrStaleState) {
				return storeFailure("approve pending request", err, zap.String("capsule_id", capsuleID))
			}
		}
		return admit(ctx, tx, capsuleID, userID, role)
	})
}

// admit writes the membership row and drops the follower row it supersedes.
func admit(ctx context.Context, tx storage.MembershipRepository, capsuleID, userID string, role models.StorageRole) error {
	if _, _, err := tx.RestoreOrInsertMember(ctx, capsuleID, userID, role); err != nil {
		return storeFailure("insert member", err, zap.String("capsule_id", capsuleID))
	}
	if _, err := tx.DeleteFollower(ctx, capsuleID, userID); err != nil {
		return storeFailure("drop follower", err, zap.String("capsule_id", capsuleID))
	}
	return nil
}

// approveAndJoin marks req approved and admits its requester in one transaction.
// A concurrent resolution makes the conditional update miss and the whole call a conflict.
func (s *membershipService) approveAndJoin(ctx context.Context, req *models.CapsuleMemberRequest, role models.StorageRole) error {
	return s.memberships.Transaction(ctx, func(tx storage.MembershipRepository) error {
		if err := tx.ResolveRequest(ctx, req.ID, models.RequestApproved, s.now()); err != nil {
			if errors.Is(err, storage.ErrStaleState) {
				return apperr.Conflictf("this request is no longer pending")
			}
			return storeFailure("approve request", err, zap.String("capsule_id", req.CapsuleID))
		}
		return admit(ctx, tx, req.CapsuleID, req.RequesterID, role)
	})
}

func (s *membershipService) resolve(ctx context.Context, req *models.CapsuleMemberRequest, status models.RequestStatus) error {
	if req.Status != models.RequestPending {
		return apperr.Conflictf("this request was already %s", req.Status)
	}
	if err := s.memberships.ResolveRequest(ctx, req.ID, status, s.now()); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return apperr.Conflictf("this request is no longer pending")
		}
		return storeFailure("resolve request", err, zap.String("capsule_id", req.CapsuleID))
	}
	return nil
}

func (s *membershipService) reload(ctx context.Context, capsuleID, viewer string) (*MembershipState, error) {
	capsule, err := s.capsules.GetCapsuleByID(ctx, capsuleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFoundf("capsule not found")
		}
		return nil, storeFailure("reload capsule", err, zap.String("capsule_id", capsuleID))
	}
	return s.state(ctx, capsule, viewer)
}

// state builds the aggregate view of capsule for viewer.
func (s *membershipService) state(ctx context.Context, capsule *models.Capsule, viewer string) (*MembershipState, error) {
	cv, ok := toCapsuleView(capsule)
	if !ok {
		return nil, apperr.NotFoundf("capsule not found")
	}
	sub, err := s.subject(ctx, s.memberships, capsule, viewer)
	if err != nil {
		return nil, err
	}

	memberRows, err := s.memberships.ListMembers(ctx, capsule.ID)
	if err != nil {
		return nil, storeFailure("list members", err, zap.String("capsule_id", capsule.ID))
	}
	members := mapRows(memberRows, func(m *models.CapsuleMember) (MemberView, bool) {
		return toMemberView(m, capsule.OwnerID)
	})
	isMember := make(map[string]bool, len(members)+1)
	for _, m := range members {
		isMember[m.UserID] = true
	}
	if !isMember[capsule.OwnerID] {
		founder := MemberView{UserID: capsule.OwnerID, Role: models.RoleFounder, IsOwner: true, JoinedAt: capsule.CreatedAt}
		members = append([]MemberView{founder}, members...)
		isMember[capsule.OwnerID] = true
	}

	followerRows, err := s.memberships.ListFollowers(ctx, capsule.ID)
	if err != nil {
		return nil, storeFailure("list followers", err, zap.String("capsule_id", capsule.ID))
	}
	followers := make([]FollowerView, 0, len(followerRows))
	for _, f := range mapRows(followerRows, toFollowerView) {
		if !isMember[f.UserID] {
			followers = append(followers, f)
		}
	}

	state := &MembershipState{
		Capsule:   cv,
		Members:   members,
		Followers: followers,
		Viewer: ViewerState{
			UserID:      viewer,
			IsOwner:     sub.IsOwner,
			IsMember:    sub.IsMember,
			Permissions: permission.For(sub),
		},
	}
	if sub.IsMember {
		state.Viewer.Role = sub.Role
	} else if viewer != "" {
		_, err := s.memberships.GetFollower(ctx, capsule.ID, viewer)
		switch {
		case err == nil:
			state.Viewer.IsFollower = true
		case !errors.Is(err, storage.ErrNotFound):
			return nil, storeFailure("get follower", err, zap.String("capsule_id", capsule.ID))
		}
		pending, err := s.findPending(ctx, s.memberships, capsule.ID, viewer)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			if rv, ok := toRequestView(pending); ok {
				state.Viewer.PendingRequest = &rv
			}
		}
	}

	perms := state.Viewer.Permissions
	if perms.CanApproveRequests || perms.CanInviteMembers {
		rows, err := s.memberships.ListPendingRequests(ctx, capsule.ID)
		if err != nil {
			return nil, storeFailure("list pending requests", err, zap.String("capsule_id", capsule.ID))
		}
		state.Requests = mapRows(rows, toRequestView)
	}
	return state, nil
}

func validateMediaURL(raw *string, what string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return &v, nil
	}
	u, err := url.ParseRequestURI(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Invalidf("%s must be an absolute http(s) url", what)
	}
	return &v, nil
}

// storeFailure logs an unexpected store error and wraps it for the caller.
// Contention on a relationship row is reported as a retryable conflict.
func storeFailure(op string, err error, fields ...zap.Field) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, storage.ErrEdgeContention) {
		return apperr.Conflictf("the relationship is being changed concurrently, please retry").Wrap(err)
	}
	logger.Error("store operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return fmt.Errorf("%s: %w", op, err)
}
