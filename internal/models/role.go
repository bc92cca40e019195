package models

import (
	"fmt"
	"strings"
)

// StorageRole is the role persisted in capsule_members.role.
type StorageRole string

const (
	StorageRoleOwner     StorageRole = "owner"
	StorageRoleAdmin     StorageRole = "admin"
	StorageRoleModerator StorageRole = "moderator"
	StorageRoleMember    StorageRole = "member"
	StorageRoleGuest     StorageRole = "guest"
)

// Role is the externally exposed membership role.
type Role string

const (
	RoleFounder Role = "founder"
	RoleAdmin   Role = "admin"
	RoleLeader  Role = "leader"
	RoleMember  Role = "member"
)

// storageToRole 存储角色 -> 对外角色。guest 没有对外角色，以 member 身份展示。
var storageToRole = map[StorageRole]Role{
	StorageRoleOwner:     RoleFounder,
	StorageRoleAdmin:     RoleAdmin,
	StorageRoleModerator: RoleLeader,
	StorageRoleMember:    RoleMember,
	StorageRoleGuest:     RoleMember,
}

// roleToStorage 对外角色 -> 存储角色。
var roleToStorage = map[Role]StorageRole{
	RoleFounder: StorageRoleOwner,
	RoleAdmin:   StorageRoleAdmin,
	RoleLeader:  StorageRoleModerator,
	RoleMember:  StorageRoleMember,
}

// ParseStorageRole validates a raw column value.
func ParseStorageRole(s string) (StorageRole, error) {
	r := StorageRole(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := storageToRole[r]; !ok {
		return "", fmt.Errorf("unknown storage role %q", s)
	}
	return r, nil
}

// ParseRole validates an externally supplied role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleToStorage[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// External maps a storage role to its external twin.
func (r StorageRole) External() Role {
	return storageToRole[r]
}

// Storage maps an external role to the value persisted for it.
func (r Role) Storage() StorageRole {
	return roleToStorage[r]
}

// MembershipPolicy governs how non-members may join a capsule.
type MembershipPolicy string

const (
	PolicyOpen            MembershipPolicy = "open"
	PolicyInviteOnly      MembershipPolicy = "invite_only"
	PolicyRequestApproval MembershipPolicy = "request_approval"
)

// ParseMembershipPolicy validates a policy name. An empty value selects the default, request_approval.
func ParseMembershipPolicy(s string) (MembershipPolicy, error) {
	switch p := MembershipPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyRequestApproval, nil
	case PolicyOpen, PolicyInviteOnly, PolicyRequestApproval:
		return p, nil
	default:
		return "", fmt.Errorf("unknown membership policy %q", s)
	}
}
