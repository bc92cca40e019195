package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsule-go/internal/apperr"
	"capsule-go/internal/storage"
	"capsule-go/internal/storage/memory"
)

type graphFixture struct {
	repo storage.SocialGraphRepository
	svc  SocialGraphService
	rec  *recorder
}

func newGraphFixture() *graphFixture {
	repo := memory.NewStore().SocialGraph()
	rec := &recorder{}
	return &graphFixture{repo: repo, svc: NewSocialGraphService(repo, rec), rec: rec}
}

func (f *graphFixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SendFriendRequest(ctx, a, b, "")
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, b, a)
	require.NoError(t, err)
}

func TestSendFriendRequest(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	summary, err := f.svc.SendFriendRequest(ctx, a, b, "hello")
	require.NoError(t, err)
	require.Len(t, summary.Outgoing, 1)
	assert.Equal(t, b, summary.Outgoing[0].RecipientID)
	assert.Equal(t, []GraphEventType{GraphEventFriendRequestSent, GraphEventFriendRequestReceived}, f.rec.eventTypes())

	// resending while pending changes nothing
	_, err = f.svc.SendFriendRequest(ctx, a, b, "hello again")
	require.NoError(t, err)
	assert.Len(t, f.rec.eventTypes(), 2)

	incoming, err := f.svc.GetSocialGraph(ctx, b)
	require.NoError(t, err)
	require.Len(t, incoming.Incoming, 1)
	assert.Equal(t, a, incoming.Incoming[0].RequesterID)

	_, err = f.svc.SendFriendRequest(ctx, a, a, "")
	requireCode(t, err, apperr.SelfTarget)

	_, err = f.svc.SendFriendRequest(ctx, "", b, "")
	requireCode(t, err, apperr.Forbidden)

	_, err = f.svc.SendFriendRequest(ctx, a, "bogus", "")
	requireCode(t, err, apperr.Invalid)
}

func TestSendFriendRequest_ReversePendingAutoAccepts(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	_, err := f.svc.SendFriendRequest(ctx, a, b, "")
	require.NoError(t, err)

	summary, err := f.svc.SendFriendRequest(ctx, b, a, "")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, summary.Friends)
	assert.Empty(t, summary.Incoming)
	assert.Empty(t, summary.Outgoing)

	other, err := f.svc.GetSocialGraph(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, other.Friends)
	assert.Empty(t, other.Outgoing)

	_, err = f.svc.SendFriendRequest(ctx, a, b, "")
	requireCode(t, err, apperr.Conflict)
}

func TestAcceptFriendRequest_Twice(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	_, err := f.svc.SendFriendRequest(ctx, a, b, "")
	require.NoError(t, err)

	summary, err := f.svc.AcceptFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, summary.Friends)

	_, err = f.svc.AcceptFriendRequest(ctx, b, a)
	requireCode(t, err, apperr.NotFound)

	// only the recipient can accept
	c := user()
	_, err = f.svc.SendFriendRequest(ctx, c, b, "")
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, c, b)
	requireCode(t, err, apperr.NotFound)
}

func TestDeclineAndCancelFriendRequest(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	_, err := f.svc.SendFriendRequest(ctx, a, b, "")
	require.NoError(t, err)
	summary, err := f.svc.DeclineFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Empty(t, summary.Incoming)

	_, err = f.svc.DeclineFriendRequest(ctx, b, a)
	requireCode(t, err, apperr.NotFound)

	// a declined request can be sent again
	_, err = f.svc.SendFriendRequest(ctx, a, b, "")
	require.NoError(t, err)
	summary, err = f.svc.CancelFriendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Empty(t, summary.Outgoing)

	_, err = f.svc.CancelFriendRequest(ctx, a, b)
	requireCode(t, err, apperr.NotFound)
}

func TestRemoveFriend(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()
	f.befriend(t, a, b)

	summary, err := f.svc.RemoveFriend(ctx, b, a)
	require.NoError(t, err)
	assert.Empty(t, summary.Friends)

	other, err := f.svc.GetSocialGraph(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, other.Friends)

	_, err = f.svc.RemoveFriend(ctx, b, a)
	requireCode(t, err, apperr.NotFound)
}

func TestFollowUnfollowFollow_SingleRow(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	_, err := f.svc.FollowUser(ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.UnfollowUser(ctx, a, b)
	require.NoError(t, err)
	summary, err := f.svc.FollowUser(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, summary.Following)

	// following again is a no-op and publishes nothing
	before := len(f.rec.eventTypes())
	_, err = f.svc.FollowUser(ctx, a, b)
	require.NoError(t, err)
	assert.Len(t, f.rec.eventTypes(), before)

	followers, err := f.repo.ListFollowerIDs(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, followers)

	_, err = f.svc.UnfollowUser(ctx, a, user())
	require.NoError(t, err, "unfollowing an absent edge is a no-op")

	_, err = f.svc.FollowUser(ctx, a, a)
	requireCode(t, err, apperr.SelfTarget)
}

func TestBlockUser_RemovesEdgesBothWays(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()
	f.befriend(t, a, b)
	_, err := f.svc.FollowUser(ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.FollowUser(ctx, b, a)
	require.NoError(t, err)

	summary, err := f.svc.BlockUser(ctx, a, b, "spam")
	require.NoError(t, err)
	assert.NotContains(t, summary.Friends, b)
	assert.Empty(t, summary.Following)
	assert.Empty(t, summary.Followers)
	assert.Equal(t, []string{b}, summary.Blocked)

	other, err := f.svc.GetSocialGraph(ctx, b)
	require.NoError(t, err)
	assert.NotContains(t, other.Friends, a)
	assert.Empty(t, other.Following)

	_, err = f.svc.SendFriendRequest(ctx, b, a, "")
	requireCode(t, err, apperr.Forbidden)
	_, err = f.svc.FollowUser(ctx, b, a)
	requireCode(t, err, apperr.Forbidden)

	// blocking again keeps a single active edge
	_, err = f.svc.BlockUser(ctx, a, b, "again")
	require.NoError(t, err)
	blocked, err := f.repo.ListBlockedIDs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, blocked)
}

func TestBlockUser_CancelsPendingRequests(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	_, err := f.svc.SendFriendRequest(ctx, b, a, "")
	require.NoError(t, err)

	summary, err := f.svc.BlockUser(ctx, a, b, "")
	require.NoError(t, err)
	assert.Empty(t, summary.Incoming)

	_, err = f.svc.AcceptFriendRequest(ctx, a, b)
	requireCode(t, err, apperr.Forbidden)
}

func TestUnblockUser_DoesNotRestoreRelationships(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()
	f.befriend(t, a, b)

	_, err := f.svc.BlockUser(ctx, a, b, "")
	require.NoError(t, err)
	summary, err := f.svc.UnblockUser(ctx, a, b)
	require.NoError(t, err)
	assert.Empty(t, summary.Blocked)
	assert.Empty(t, summary.Friends)

	_, err = f.svc.UnblockUser(ctx, a, b)
	require.NoError(t, err, "unblocking an absent edge is a no-op")

	// the pair can become friends again, reusing the old rows
	f.befriend(t, a, b)
	summary, err = f.svc.GetSocialGraph(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, summary.Friends)
}

// lateBlock commits a block between the service's write and its block re-check:
// the second IsBlockedEitherWay call first writes blocker -> blocked through the inner repository.
type lateBlock struct {
	storage.SocialGraphRepository
	blocker, blocked string
	calls            int
}

func (r *lateBlock) IsBlockedEitherWay(ctx context.Context, a, b string) (bool, error) {
	r.calls++
	if r.calls == 2 {
		if _, _, err := r.SocialGraphRepository.RestoreOrInsertBlock(ctx, r.blocker, r.blocked, ""); err != nil {
			return false, err
		}
	}
	return r.SocialGraphRepository.IsBlockedEitherWay(ctx, a, b)
}

func TestAcceptFriendRequest_LateBlockWins(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()
	_, err := f.svc.SendFriendRequest(ctx, a, b, "")
	require.NoError(t, err)
	before := len(f.rec.eventTypes())

	racing := NewSocialGraphService(&lateBlock{SocialGraphRepository: f.repo, blocker: a, blocked: b}, f.rec)
	summary, err := racing.AcceptFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Empty(t, summary.Friends)

	for _, u := range []string{a, b} {
		friends, err := f.repo.ListFriendIDs(ctx, u)
		require.NoError(t, err)
		assert.Empty(t, friends)
	}
	assert.Len(t, f.rec.eventTypes(), before, "no accepted events for a dropped friendship")
}

func TestFollowUser_LateBlockWins(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	racing := NewSocialGraphService(&lateBlock{SocialGraphRepository: f.repo, blocker: b, blocked: a}, f.rec)
	_, err := racing.FollowUser(ctx, a, b)
	requireCode(t, err, apperr.Forbidden)

	following, err := f.repo.ListFolloweeIDs(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, following)
	assert.Empty(t, f.rec.eventTypes())
}

func TestFollowUser_ConcurrentKeepsOneEdge(t *testing.T) {
	ctx := context.Background()
	f := newGraphFixture()
	a, b := user(), user()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.FollowUser(ctx, a, b)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	following, err := f.repo.ListFolloweeIDs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, following)
	assert.Equal(t, []GraphEventType{GraphEventFollowed}, f.rec.eventTypes())
}
