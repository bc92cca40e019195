package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"capsule-go/internal/apperr"
	"capsule-go/internal/models"
	"capsule-go/internal/storage/memory"
)

// recorder captures collaborator calls instead of delivering them.
type recorder struct {
	mu        sync.Mutex
	invites   []InviteNotification
	events    []GraphEvent
	refreshes []string
}

func (r *recorder) NotifyInvite(_ context.Context, invite InviteNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invites = append(r.invites, invite)
}

func (r *recorder) PublishGraphEvents(_ context.Context, events []GraphEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) EnqueueKnowledgeRefresh(_ context.Context, capsuleID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, capsuleID)
}

func (r *recorder) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refreshes)
}

func (r *recorder) eventTypes() []GraphEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GraphEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type membershipFixture struct {
	store *memory.Store
	svc   MembershipService
	rec   *recorder
}

func newMembershipFixture() *membershipFixture {
	store := memory.NewStore()
	rec := &recorder{}
	return &membershipFixture{
		store: store,
		svc:   NewMembershipService(store.Capsules(), store.Memberships(), rec, rec),
		rec:   rec,
	}
}

// capsule creates a capsule owned by owner with the given policy.
func (f *membershipFixture) capsule(t *testing.T, owner string, policy models.MembershipPolicy) string {
	t.Helper()
	state, err := f.svc.CreateCapsule(context.Background(), owner, CreateCapsuleInput{
		Name:   "Capsule " + user()[:8],
		Policy: string(policy),
	})
	require.NoError(t, err)
	return state.Capsule.ID
}

// member inserts a membership row directly.
func (f *membershipFixture) member(t *testing.T, capsuleID, userID string, role models.StorageRole) {
	t.Helper()
	_, _, err := f.store.Memberships().RestoreOrInsertMember(context.Background(), capsuleID, userID, role)
	require.NoError(t, err)
}

func user() string { return uuid.NewString() }

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperr.CodeOf(err), "unexpected error: %v", err)
}

func memberRole(state *MembershipState, userID string) (models.Role, bool) {
	for _, m := range state.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}
