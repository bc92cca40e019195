// Package permission maps (actor role, target role, action) to an allow/deny decision.
// Everything here is pure: no I/O, no clocks, no globals beyond fixed tables.
package permission

import (
	"capsule-go/internal/apperr"
	"capsule-go/internal/models"
)

// Capability is a capsule-level ability gated by role rank.
type Capability string

const (
	InviteMembers   Capability = "invite_members"
	ApproveRequests Capability = "approve_requests"
	ChangeRoles     Capability = "change_roles"
	RemoveMembers   Capability = "remove_members"
	Customize       Capability = "customize"
	ManageLadders   Capability = "manage_ladders"
	ModerateContent Capability = "moderate_content"
)

const (
	rankNone   = -1
	rankMember = 0
	rankLeader = 1
	rankAdmin  = 2
	rankOwner  = 3
)

var rankOf = map[models.Role]int{
	models.RoleFounder: rankOwner,
	models.RoleAdmin:   rankAdmin,
	models.RoleLeader:  rankLeader,
	models.RoleMember:  rankMember,
}

var minRank = map[Capability]int{
	InviteMembers:   rankLeader,
	ApproveRequests: rankAdmin,
	ChangeRoles:     rankAdmin,
	RemoveMembers:   rankAdmin,
	Customize:       rankAdmin,
	ManageLadders:   rankAdmin,
	ModerateContent: rankAdmin,
}

// Subject is a participant as seen by the engine. A zero Subject is a non-member.
type Subject struct {
	Role     models.Role
	IsOwner  bool
	IsMember bool
}

// Owner is the capsule owner; their effective role is always founder.
func Owner() Subject {
	return Subject{Role: models.RoleFounder, IsOwner: true, IsMember: true}
}

// Member builds a subject for a non-owner member row.
func Member(role models.Role) Subject {
	return Subject{Role: role, IsMember: true}
}

// Rank returns the subject's rank; non-members rank below member.
func (s Subject) Rank() int {
	if s.IsOwner {
		return rankOwner
	}
	if !s.IsMember {
		return rankNone
	}
	r, ok := rankOf[s.Role]
	if !ok {
		return rankNone
	}
	return r
}

// Rank of an external role.
func Rank(role models.Role) int {
	if r, ok := rankOf[role]; ok {
		return r
	}
	return rankNone
}

// Has reports whether the subject holds the capability.
func Has(s Subject, c Capability) bool {
	need, ok := minRank[c]
	return ok && s.Rank() >= need
}

// Permissions is the viewer-facing capability matrix.
type Permissions struct {
	CanInviteMembers   bool `json:"canInviteMembers"`
	CanApproveRequests bool `json:"canApproveRequests"`
	CanChangeRoles     bool `json:"canChangeRoles"`
	CanRemoveMembers   bool `json:"canRemoveMembers"`
	CanCustomize       bool `json:"canCustomize"`
	CanManageLadders   bool `json:"canManageLadders"`
	CanModerateContent bool `json:"canModerateContent"`
}

// For computes the full matrix for a subject.
func For(s Subject) Permissions {
	return Permissions{
		CanInviteMembers:   Has(s, InviteMembers),
		CanApproveRequests: Has(s, ApproveRequests),
		CanChangeRoles:     Has(s, ChangeRoles),
		CanRemoveMembers:   Has(s, RemoveMembers),
		CanCustomize:       Has(s, Customize),
		CanManageLadders:   Has(s, ManageLadders),
		CanModerateContent: Has(s, ModerateContent),
	}
}

// Require returns forbidden unless the subject holds the capability.
func Require(s Subject, c Capability) error {
	if !Has(s, c) {
		return apperr.Forbiddenf("you do not have permission to %s", describe[c])
	}
	return nil
}

var describe = map[Capability]string{
	InviteMembers:   "invite members",
	ApproveRequests: "review membership requests",
	ChangeRoles:     "change member roles",
	RemoveMembers:   "remove members",
	Customize:       "customize this capsule",
	ManageLadders:   "manage ladders",
	ModerateContent: "moderate content",
}

// CanRemoveMember checks actor against target for a removal.
// The owner is never removable; otherwise the actor needs RemoveMembers and must outrank the target.
func CanRemoveMember(actor, target Subject) error {
	if err := Require(actor, RemoveMembers); err != nil {
		return err
	}
	if target.IsOwner {
		return apperr.Conflictf("the capsule founder cannot be removed")
	}
	if !actor.IsOwner && target.Rank() >= actor.Rank() {
		return apperr.Forbiddenf("you can only remove members ranked below you")
	}
	return nil
}

// CanSetRole checks a role change of target to newRole by actor.
// founder is never assignable; non-owners may only assign and modify ranks strictly below their own.
func CanSetRole(actor, target Subject, newRole models.Role) error {
	if err := Require(actor, ChangeRoles); err != nil {
		return err
	}
	if newRole == models.RoleFounder {
		return apperr.Invalidf("the founder role cannot be assigned")
	}
	if target.IsOwner {
		return apperr.Conflictf("the capsule founder's role cannot be changed")
	}
	if actor.IsOwner {
		return nil
	}
	if target.Rank() >= actor.Rank() {
		return apperr.Forbiddenf("you can only change the role of members ranked below you")
	}
	if Rank(newRole) >= actor.Rank() {
		return apperr.Forbiddenf("you cannot assign a role at or above your own")
	}
	return nil
}
