package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsule-go/internal/apperr"
	"capsule-go/internal/models"
	"capsule-go/internal/permission"
	"capsule-go/internal/storage"
)

func TestGetMembership_OwnerIsFounderWithoutMemberRow(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner := user()

	capsule := &models.Capsule{Name: "Bare", Slug: "bare", OwnerID: owner, MembershipPolicy: models.PolicyOpen}
	require.NoError(t, f.store.Capsules().CreateCapsule(ctx, capsule))

	state, err := f.svc.GetMembership(ctx, strings.ToUpper(owner), capsule.ID)
	require.NoError(t, err)
	assert.True(t, state.Viewer.IsOwner)
	assert.True(t, state.Viewer.IsMember)
	assert.Equal(t, models.RoleFounder, state.Viewer.Role)
	assert.True(t, state.Viewer.Permissions.CanChangeRoles)

	role, ok := memberRole(state, owner)
	require.True(t, ok)
	assert.Equal(t, models.RoleFounder, role)
}

func TestGetMembership_Anonymous(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	capsuleID := f.capsule(t, user(), models.PolicyRequestApproval)

	state, err := f.svc.GetMembership(ctx, "", capsuleID)
	require.NoError(t, err)
	assert.False(t, state.Viewer.IsMember)
	assert.Empty(t, state.Viewer.Role)
	assert.Equal(t, permission.Permissions{}, state.Viewer.Permissions)
	assert.Nil(t, state.Requests)
}

func TestGetMembership_Errors(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()

	_, err := f.svc.GetMembership(ctx, "", "   ")
	requireCode(t, err, apperr.Invalid)

	_, err = f.svc.GetMembership(ctx, "", "not-a-uuid")
	requireCode(t, err, apperr.Invalid)

	_, err = f.svc.GetMembership(ctx, "", user())
	requireCode(t, err, apperr.NotFound)
}

func TestCreateCapsule(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner := user()

	state, err := f.svc.CreateCapsule(ctx, owner, CreateCapsuleInput{Name: "  Go Hackers! "})
	require.NoError(t, err)
	assert.Equal(t, "go-hackers", state.Capsule.Slug)
	assert.Equal(t, models.PolicyRequestApproval, state.Capsule.MembershipPolicy)
	assert.Equal(t, owner, state.Capsule.OwnerID)

	row, err := f.store.Memberships().GetMember(ctx, state.Capsule.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StorageRoleOwner, row.Role)

	_, err = f.svc.CreateCapsule(ctx, user(), CreateCapsuleInput{Name: "Other", Slug: "Go-Hackers"})
	requireCode(t, err, apperr.Conflict)

	_, err = f.svc.CreateCapsule(ctx, "", CreateCapsuleInput{Name: "x"})
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.CreateCapsule(ctx, owner, CreateCapsuleInput{Name: "ok", Slug: "ok-slug", Policy: "secret"})
	requireCode(t, err, apperr.Invalid)
}

func TestUpdateCapsuleProfile(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, leader := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyOpen)
	f.member(t, capsuleID, leader, models.StorageRoleModerator)

	name := "Renamed"
	avatar := "https://cdn.example.com/a.png"
	state, err := f.svc.UpdateCapsuleProfile(ctx, owner, capsuleID, CapsuleProfileInput{Name: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", state.Capsule.Name)
	assert.Equal(t, avatar, state.Capsule.AvatarURL)
	assert.Equal(t, owner, state.Capsule.OwnerID)

	_, err = f.svc.UpdateCapsuleProfile(ctx, leader, capsuleID, CapsuleProfileInput{Name: &name})
	requireCode(t, err, apperr.Forbidden)

	bad := "ftp://example.com/x"
	_, err = f.svc.UpdateCapsuleProfile(ctx, owner, capsuleID, CapsuleProfileInput{BannerURL: &bad})
	requireCode(t, err, apperr.Invalid)
}

func TestRequestMembership_OpenPolicyJoinsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, u := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyOpen)

	_, err := f.svc.FollowCapsule(ctx, u, capsuleID)
	require.NoError(t, err)

	state, err := f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)

	role, ok := memberRole(state, u)
	require.True(t, ok)
	assert.Equal(t, models.RoleMember, role)
	assert.True(t, state.Viewer.IsMember)
	assert.False(t, state.Viewer.IsFollower, "membership supersedes following")
	for _, fl := range state.Followers {
		assert.NotEqual(t, u, fl.UserID)
	}

	pending, err := f.store.Memberships().ListPendingRequests(ctx, capsuleID)
	require.NoError(t, err)
	assert.Empty(t, pending, "open capsules record no request row")
	assert.Equal(t, 1, f.rec.refreshCount())

	_, err = f.svc.RequestMembership(ctx, u, capsuleID, "")
	requireCode(t, err, apperr.Conflict)
}

func TestRequestMembership_InviteOnlyIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	capsuleID := f.capsule(t, user(), models.PolicyInviteOnly)
	u := user()

	_, err := f.svc.RequestMembership(ctx, u, capsuleID, "hi")
	requireCode(t, err, apperr.Forbidden)

	_, err = f.store.Memberships().FindPendingRequest(ctx, capsuleID, u)
	assert.Error(t, err, "no request row is created")
}

func TestRequestMembership_ApprovalFlow(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, admin, u := user(), user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)
	f.member(t, capsuleID, admin, models.StorageRoleAdmin)

	state, err := f.svc.RequestMembership(ctx, u, capsuleID, "first")
	require.NoError(t, err)
	require.NotNil(t, state.Viewer.PendingRequest)
	firstID := state.Viewer.PendingRequest.ID

	state, err = f.svc.RequestMembership(ctx, u, capsuleID, "second")
	require.NoError(t, err)
	assert.Equal(t, firstID, state.Viewer.PendingRequest.ID, "a repeated request refreshes the pending row")
	assert.Equal(t, "second", state.Viewer.PendingRequest.Message)
	assert.Nil(t, state.Requests, "plain viewers do not see the request queue")

	adminView, err := f.svc.GetMembership(ctx, admin, capsuleID)
	require.NoError(t, err)
	require.Len(t, adminView.Requests, 1)

	state, err = f.svc.ApproveRequest(ctx, admin, firstID)
	require.NoError(t, err)
	role, ok := memberRole(state, u)
	require.True(t, ok)
	assert.Equal(t, models.RoleMember, role)
	assert.Empty(t, state.Requests)
	assert.Equal(t, 1, f.rec.refreshCount())

	_, err = f.svc.ApproveRequest(ctx, admin, firstID)
	requireCode(t, err, apperr.Conflict)
}

func TestApproveRequest_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, leader, u := user(), user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)
	f.member(t, capsuleID, leader, models.StorageRoleModerator)

	state, err := f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)
	reqID := state.Viewer.PendingRequest.ID

	_, err = f.svc.ApproveRequest(ctx, leader, reqID)
	requireCode(t, err, apperr.Forbidden)

	state, err = f.svc.DeclineRequest(ctx, owner, reqID)
	require.NoError(t, err)
	_, ok := memberRole(state, u)
	assert.False(t, ok)

	_, err = f.svc.DeclineRequest(ctx, owner, reqID)
	requireCode(t, err, apperr.Conflict)

	_, err = f.svc.ApproveRequest(ctx, owner, user())
	requireCode(t, err, apperr.NotFound)
}

func TestInviteMember_RankGate(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, leader, plain := user(), user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyInviteOnly)
	f.member(t, capsuleID, leader, models.StorageRoleModerator)
	f.member(t, capsuleID, plain, models.StorageRoleMember)

	invitee := user()
	state, err := f.svc.InviteMember(ctx, leader, capsuleID, invitee, "join us")
	require.NoError(t, err)
	require.Len(t, state.Requests, 1)
	assert.Equal(t, models.OriginOwnerInvite, state.Requests[0].Origin)
	require.Len(t, f.rec.invites, 1)
	assert.Equal(t, invitee, f.rec.invites[0].InviteeID)

	_, err = f.svc.InviteMember(ctx, plain, capsuleID, user(), "")
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.InviteMember(ctx, leader, capsuleID, plain, "")
	requireCode(t, err, apperr.Conflict)

	_, err = f.svc.InviteMember(ctx, leader, capsuleID, owner, "")
	requireCode(t, err, apperr.Conflict)

	_, err = f.svc.InviteMember(ctx, leader, capsuleID, leader, "")
	requireCode(t, err, apperr.SelfTarget)

	_, err = f.svc.InviteMember(ctx, leader, capsuleID, "", "")
	requireCode(t, err, apperr.Invalid)
}

func TestInviteMember_ConflictsWithViewerRequest(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, u := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)

	_, err := f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)

	_, err = f.svc.InviteMember(ctx, owner, capsuleID, u, "")
	requireCode(t, err, apperr.Conflict)

	other := user()
	_, err = f.svc.InviteMember(ctx, owner, capsuleID, other, "")
	require.NoError(t, err)
	_, err = f.svc.RequestMembership(ctx, other, capsuleID, "")
	requireCode(t, err, apperr.Conflict)
}

// staleReads hides pending requests from lookups, the way a concurrent writer's row is invisible
// to a read that ran before it committed.
type staleReads struct {
	storage.MembershipRepository
}

func (staleReads) FindPendingRequest(context.Context, string, string) (*models.CapsuleMemberRequest, error) {
	return nil, storage.ErrNotFound
}

func TestPendingOriginRace_IsConflict(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, u := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)
	racing := NewMembershipService(f.store.Capsules(), staleReads{f.store.Memberships()}, f.rec, f.rec)

	_, err := f.svc.RequestMembership(ctx, u, capsuleID, "let me in")
	require.NoError(t, err)
	_, err = racing.InviteMember(ctx, owner, capsuleID, u, "join us")
	requireCode(t, err, apperr.Conflict)
	assert.Empty(t, f.rec.invites)

	pending, err := f.store.Memberships().FindPendingRequest(ctx, capsuleID, u)
	require.NoError(t, err)
	assert.Equal(t, models.OriginViewerRequest, pending.Origin)
	assert.Equal(t, "let me in", pending.Message)

	other := user()
	_, err = f.svc.InviteMember(ctx, owner, capsuleID, other, "join us")
	require.NoError(t, err)
	_, err = racing.RequestMembership(ctx, other, capsuleID, "me too")
	requireCode(t, err, apperr.Conflict)

	pending, err = f.store.Memberships().FindPendingRequest(ctx, capsuleID, other)
	require.NoError(t, err)
	assert.Equal(t, models.OriginOwnerInvite, pending.Origin)
	assert.Equal(t, owner, pending.InitiatorID)
}

func TestRequestMembership_OpenPolicyApprovesPendingRequest(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, u := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)

	state, err := f.svc.RequestMembership(ctx, u, capsuleID, "waiting")
	require.NoError(t, err)
	reqID := state.Viewer.PendingRequest.ID

	_, err = f.svc.SetMembershipPolicy(ctx, owner, capsuleID, "open")
	require.NoError(t, err)

	state, err = f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)
	assert.True(t, state.Viewer.IsMember)
	assert.Nil(t, state.Viewer.PendingRequest)

	ownerView, err := f.svc.GetMembership(ctx, owner, capsuleID)
	require.NoError(t, err)
	assert.Empty(t, ownerView.Requests)

	row, err := f.store.Memberships().GetRequest(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, row.Status)
	assert.NotNil(t, row.ApprovedAt)

	_, err = f.svc.ApproveRequest(ctx, owner, reqID)
	requireCode(t, err, apperr.Conflict)
}

func TestAcceptInvite_Twice(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, invitee := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyInviteOnly)

	state, err := f.svc.InviteMember(ctx, owner, capsuleID, invitee, "")
	require.NoError(t, err)
	inviteID := state.Requests[0].ID

	_, err = f.svc.AcceptInvite(ctx, user(), inviteID)
	requireCode(t, err, apperr.Forbidden)

	state, err = f.svc.AcceptInvite(ctx, invitee, inviteID)
	require.NoError(t, err)
	assert.True(t, state.Viewer.IsMember)
	assert.Equal(t, models.RoleMember, state.Viewer.Role)
	assert.Equal(t, 1, f.rec.refreshCount())

	_, err = f.svc.AcceptInvite(ctx, invitee, inviteID)
	requireCode(t, err, apperr.Conflict)
	assert.Equal(t, 1, f.rec.refreshCount())

	req, err := f.store.Memberships().GetRequest(ctx, inviteID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, req.Status)
	assert.NotNil(t, req.ApprovedAt)
}

func TestDeclineInvite(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, invitee := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyInviteOnly)

	state, err := f.svc.InviteMember(ctx, owner, capsuleID, invitee, "")
	require.NoError(t, err)
	inviteID := state.Requests[0].ID

	_, err = f.svc.ApproveRequest(ctx, owner, inviteID)
	requireCode(t, err, apperr.Conflict)

	state, err = f.svc.DeclineInvite(ctx, invitee, inviteID)
	require.NoError(t, err)
	assert.False(t, state.Viewer.IsMember)
	assert.Nil(t, state.Viewer.PendingRequest)

	_, err = f.svc.AcceptInvite(ctx, invitee, inviteID)
	requireCode(t, err, apperr.Conflict)
}

func TestCancelRequest(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, leader, u := user(), user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)
	f.member(t, capsuleID, leader, models.StorageRoleModerator)

	state, err := f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)
	reqID := state.Viewer.PendingRequest.ID

	_, err = f.svc.CancelRequest(ctx, owner, reqID)
	requireCode(t, err, apperr.Forbidden)

	state, err = f.svc.CancelRequest(ctx, u, reqID)
	require.NoError(t, err)
	assert.Nil(t, state.Viewer.PendingRequest)

	// invites may be withdrawn by any member allowed to invite
	invited, err := f.svc.InviteMember(ctx, owner, capsuleID, user(), "")
	require.NoError(t, err)
	state, err = f.svc.CancelRequest(ctx, leader, invited.Requests[0].ID)
	require.NoError(t, err)
	assert.Empty(t, state.Requests)
}

func TestSetMemberRole(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, admin, peer, u := user(), user(), user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyOpen)
	f.member(t, capsuleID, admin, models.StorageRoleAdmin)
	f.member(t, capsuleID, peer, models.StorageRoleAdmin)
	f.member(t, capsuleID, u, models.StorageRoleMember)

	_, err := f.svc.SetMemberRole(ctx, admin, capsuleID, owner, "member")
	requireCode(t, err, apperr.Conflict)
	state, err := f.svc.GetMembership(ctx, owner, capsuleID)
	require.NoError(t, err)
	role, _ := memberRole(state, owner)
	assert.Equal(t, models.RoleFounder, role, "the founder's role is unchanged")

	state, err = f.svc.SetMemberRole(ctx, admin, capsuleID, u, "leader")
	require.NoError(t, err)
	role, _ = memberRole(state, u)
	assert.Equal(t, models.RoleLeader, role)
	assert.Equal(t, 1, f.rec.refreshCount())

	_, err = f.svc.SetMemberRole(ctx, admin, capsuleID, u, "admin")
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.SetMemberRole(ctx, admin, capsuleID, peer, "member")
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.SetMemberRole(ctx, owner, capsuleID, u, "founder")
	requireCode(t, err, apperr.Invalid)

	_, err = f.svc.SetMemberRole(ctx, owner, capsuleID, u, "moderator")
	requireCode(t, err, apperr.Invalid)

	_, err = f.svc.SetMemberRole(ctx, owner, capsuleID, user(), "member")
	requireCode(t, err, apperr.NotFound)

	state, err = f.svc.SetMemberRole(ctx, owner, capsuleID, u, "admin")
	require.NoError(t, err)
	role, _ = memberRole(state, u)
	assert.Equal(t, models.RoleAdmin, role)

	row, err := f.store.Memberships().GetMember(ctx, capsuleID, u)
	require.NoError(t, err)
	assert.Equal(t, models.StorageRoleAdmin, row.Role)
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, admin, peer, u := user(), user(), user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyOpen)
	f.member(t, capsuleID, admin, models.StorageRoleAdmin)
	f.member(t, capsuleID, peer, models.StorageRoleAdmin)
	f.member(t, capsuleID, u, models.StorageRoleMember)

	_, err := f.svc.RemoveMember(ctx, admin, capsuleID, owner)
	requireCode(t, err, apperr.Conflict)

	_, err = f.svc.RemoveMember(ctx, admin, capsuleID, peer)
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.RemoveMember(ctx, u, capsuleID, admin)
	requireCode(t, err, apperr.Forbidden)

	state, err := f.svc.RemoveMember(ctx, admin, capsuleID, u)
	require.NoError(t, err)
	_, ok := memberRole(state, u)
	assert.False(t, ok)
	assert.Equal(t, 1, f.rec.refreshCount())

	_, err = f.svc.RemoveMember(ctx, owner, capsuleID, u)
	requireCode(t, err, apperr.NotFound)

	state, err = f.svc.RemoveMember(ctx, owner, capsuleID, peer)
	require.NoError(t, err)
	_, ok = memberRole(state, peer)
	assert.False(t, ok)
}

func TestLeaveAndRejoin(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, u := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyOpen)

	_, err := f.svc.LeaveCapsule(ctx, owner, capsuleID)
	requireCode(t, err, apperr.Conflict)

	_, err = f.svc.LeaveCapsule(ctx, u, capsuleID)
	requireCode(t, err, apperr.NotFound)

	_, err = f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)
	first, err := f.store.Memberships().GetMember(ctx, capsuleID, u)
	require.NoError(t, err)

	state, err := f.svc.LeaveCapsule(ctx, u, capsuleID)
	require.NoError(t, err)
	assert.False(t, state.Viewer.IsMember)

	_, err = f.svc.RequestMembership(ctx, u, capsuleID, "")
	require.NoError(t, err)
	again, err := f.store.Memberships().GetMember(ctx, capsuleID, u)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "rejoining restores the earlier membership row")
}

func TestFollowCapsule(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, u := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyInviteOnly)

	state, err := f.svc.FollowCapsule(ctx, u, capsuleID)
	require.NoError(t, err)
	assert.True(t, state.Viewer.IsFollower)
	require.Len(t, state.Followers, 1)

	state, err = f.svc.FollowCapsule(ctx, u, capsuleID)
	require.NoError(t, err)
	assert.Len(t, state.Followers, 1)

	state, err = f.svc.FollowCapsule(ctx, owner, capsuleID)
	require.NoError(t, err)
	assert.False(t, state.Viewer.IsFollower)
	assert.Len(t, state.Followers, 1)

	state, err = f.svc.UnfollowCapsule(ctx, u, capsuleID)
	require.NoError(t, err)
	assert.False(t, state.Viewer.IsFollower)
	assert.Empty(t, state.Followers)

	_, err = f.svc.UnfollowCapsule(ctx, u, capsuleID)
	require.NoError(t, err)
}

func TestSetMembershipPolicy(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, leader := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyRequestApproval)
	f.member(t, capsuleID, leader, models.StorageRoleModerator)

	_, err := f.svc.SetMembershipPolicy(ctx, leader, capsuleID, "open")
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.SetMembershipPolicy(ctx, owner, capsuleID, "")
	requireCode(t, err, apperr.Invalid)

	_, err = f.svc.SetMembershipPolicy(ctx, owner, capsuleID, "everyone")
	requireCode(t, err, apperr.Invalid)

	state, err := f.svc.SetMembershipPolicy(ctx, owner, capsuleID, "invite_only")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyInviteOnly, state.Capsule.MembershipPolicy)
}

func TestGuestRowIsExposedAsMember(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, guest := user(), user()
	capsuleID := f.capsule(t, owner, models.PolicyOpen)
	f.member(t, capsuleID, guest, models.StorageRoleGuest)

	state, err := f.svc.GetMembership(ctx, guest, capsuleID)
	require.NoError(t, err)
	assert.True(t, state.Viewer.IsMember)
	assert.Equal(t, models.RoleMember, state.Viewer.Role)
	assert.False(t, state.Viewer.Permissions.CanInviteMembers)
}

func TestGetMembershipBySlug(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner, viewer := user(), user()

	created, err := f.svc.CreateCapsule(ctx, owner, CreateCapsuleInput{Name: "Night Owls"})
	require.NoError(t, err)
	_, err = f.svc.FollowCapsule(ctx, viewer, created.Capsule.ID)
	require.NoError(t, err)

	state, err := f.svc.GetMembershipBySlug(ctx, viewer, " Night-Owls ")
	require.NoError(t, err)
	assert.Equal(t, created.Capsule.ID, state.Capsule.ID)
	assert.True(t, state.Viewer.IsFollower)
	assert.False(t, state.Viewer.IsMember)

	anonymous, err := f.svc.GetMembershipBySlug(ctx, "", "night-owls")
	require.NoError(t, err)
	assert.False(t, anonymous.Viewer.IsFollower)

	_, err = f.svc.GetMembershipBySlug(ctx, viewer, "no-such-capsule")
	requireCode(t, err, apperr.NotFound)

	_, err = f.svc.GetMembershipBySlug(ctx, viewer, "x")
	requireCode(t, err, apperr.Invalid)

	_, err = f.svc.GetMembershipBySlug(ctx, "not-a-uuid", "night-owls")
	requireCode(t, err, apperr.Invalid)
}

func TestListOwnedCapsules(t *testing.T) {
	ctx := context.Background()
	f := newMembershipFixture()
	owner := user()

	first := f.capsule(t, owner, models.PolicyOpen)
	second := f.capsule(t, owner, models.PolicyInviteOnly)
	f.capsule(t, user(), models.PolicyOpen)

	owned, err := f.svc.ListOwnedCapsules(ctx, owner)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.ElementsMatch(t, []string{first, second}, []string{owned[0].ID, owned[1].ID})

	none, err := f.svc.ListOwnedCapsules(ctx, user())
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ListOwnedCapsules(ctx, "")
	requireCode(t, err, apperr.Invalid)
}
