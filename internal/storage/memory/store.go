// Package memory keeps every repository in process memory.
// It honours the same contracts as the gorm repositories: soft deletes, restore-or-insert on natural keys,
// a single pending member request per (capsule, requester) and conditional state transitions.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"capsule-go/internal/models"
	"capsule-go/internal/storage"
)

// Store holds all tables. Capsules, Memberships and SocialGraph hand out repositories over it.
//
// txMu is held for the whole of a transaction. Repositories outside a transaction take it per call,
// so a write never lands in between a transaction's snapshot and its rollback.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	now  func() time.Time
	tick time.Duration

	capsules       table[models.Capsule]
	members        table[models.CapsuleMember]
	followers      table[models.CapsuleFollower]
	requests       table[models.CapsuleMemberRequest]
	friendships    table[models.Friendship]
	friendRequests table[models.FriendRequest]
	follows        table[models.FollowEdge]
	blocks         table[models.BlockEdge]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:            time.Now,
		capsules:       table[models.Capsule]{base: func(r *models.Capsule) *models.BaseModel { return &r.BaseModel }},
		members:        table[models.CapsuleMember]{base: func(r *models.CapsuleMember) *models.BaseModel { return &r.BaseModel }},
		followers:      table[models.CapsuleFollower]{base: func(r *models.CapsuleFollower) *models.BaseModel { return &r.BaseModel }},
		requests:       table[models.CapsuleMemberRequest]{base: func(r *models.CapsuleMemberRequest) *models.BaseModel { return &r.BaseModel }},
		friendships:    table[models.Friendship]{base: func(r *models.Friendship) *models.BaseModel { return &r.BaseModel }},
		friendRequests: table[models.FriendRequest]{base: func(r *models.FriendRequest) *models.BaseModel { return &r.BaseModel }},
		follows:        table[models.FollowEdge]{base: func(r *models.FollowEdge) *models.BaseModel { return &r.BaseModel }},
		blocks:         table[models.BlockEdge]{base: func(r *models.BlockEdge) *models.BaseModel { return &r.BaseModel }},
	}
}

// Capsules returns a CapsuleRepository backed by s.
func (s *Store) Capsules() storage.CapsuleRepository { return &capsuleRepository{s: s} }

// Memberships returns a MembershipRepository backed by s.
func (s *Store) Memberships() storage.MembershipRepository { return &membershipRepository{s: s} }

// SocialGraph returns a SocialGraphRepository backed by s.
func (s *Store) SocialGraph() storage.SocialGraphRepository { return &socialGraphRepository{s: s} }

// timestamp returns a strictly increasing clock so created_at ordering matches insertion order.
func (s *Store) timestamp() time.Time {
	s.tick += time.Microsecond
	return s.now().Add(s.tick)
}

// lock acquires the store for one repository call. Calls made through a transaction's
// repository already run under txMu and only take mu.
func (s *Store) lock(inTx bool) func() {
	if !inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !inTx {
			s.txMu.Unlock()
		}
	}
}

// snapshot copies every table; restore puts a snapshot back.
type snapshot struct {
	capsules       table[models.Capsule]
	members        table[models.CapsuleMember]
	followers      table[models.CapsuleFollower]
	requests       table[models.CapsuleMemberRequest]
	friendships    table[models.Friendship]
	friendRequests table[models.FriendRequest]
	follows        table[models.FollowEdge]
	blocks         table[models.BlockEdge]
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		capsules:       s.capsules.clone(),
		members:        s.members.clone(),
		followers:      s.followers.clone(),
		requests:       s.requests.clone(),
		friendships:    s.friendships.clone(),
		friendRequests: s.friendRequests.clone(),
		follows:        s.follows.clone(),
		blocks:         s.blocks.clone(),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capsules = snap.capsules
	s.members = snap.members
	s.followers = snap.followers
	s.requests = snap.requests
	s.friendships = snap.friendships
	s.friendRequests = snap.friendRequests
	s.follows = snap.follows
	s.blocks = snap.blocks
}

// transaction serialises fn against every other repository call and rolls every table back when it fails.
// fn must only use the repository it is handed; the store's other repositories block until it returns.
func (s *Store) transaction(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	if err := fn(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// table is an append-only slice of rows in insertion order.
type table[T any] struct {
	rows []*T
	base func(*T) *models.BaseModel
}

func (t table[T]) clone() table[T] {
	out := table[T]{base: t.base, rows: make([]*T, 0, len(t.rows))}
	for _, r := range t.rows {
		c := *r
		out.rows = append(out.rows, &c)
	}
	return out
}

func copyRow[T any](r *T) *T {
	c := *r
	return &c
}

func (t *table[T]) active(r *T) bool {
	return !t.base(r).DeletedAt.Valid
}

// find returns copies of the active rows matching match, oldest first.
func (t *table[T]) find(match func(*T) bool) []*T {
	var out []*T
	for _, r := range t.rows {
		if t.active(r) && match(r) {
			out = append(out, copyRow(r))
		}
	}
	return out
}

// first returns the stored active row matching match, or nil.
func (t *table[T]) first(match func(*T) bool) *T {
	for _, r := range t.rows {
		if t.active(r) && match(r) {
			return r
		}
	}
	return nil
}

// latest returns the newest stored row matching match, tombstones included.
func (t *table[T]) latest(match func(*T) bool) *T {
	for i := len(t.rows) - 1; i >= 0; i-- {
		if match(t.rows[i]) {
			return t.rows[i]
		}
	}
	return nil
}

func (t *table[T]) insert(r *T, at time.Time) *T {
	b := t.base(r)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = at
	b.UpdatedAt = at
	t.rows = append(t.rows, r)
	return copyRow(r)
}

// restoreOrInsert mirrors storage's find-latest / restore-or-insert routine.
func (t *table[T]) restoreOrInsert(match func(*T) bool, fresh func() *T, revive func(*T), at time.Time) (*T, storage.EdgeOutcome) {
	existing := t.latest(match)
	switch {
	case existing != nil && t.active(existing):
		return copyRow(existing), storage.EdgeUnchanged
	case existing != nil:
		b := t.base(existing)
		b.DeletedAt = gorm.DeletedAt{}
		b.UpdatedAt = at
		if revive != nil {
			revive(existing)
		}
		return copyRow(existing), storage.EdgeRestored
	default:
		return t.insert(fresh(), at), storage.EdgeInserted
	}
}

// softDelete tombstones the active rows matching match.
func (t *table[T]) softDelete(match func(*T) bool, at time.Time) int64 {
	var n int64
	for _, r := range t.rows {
		if t.active(r) && match(r) {
			t.base(r).DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
			n++
		}
	}
	return n
}

func pairEitherWay(x, y, a, b string) bool {
	return (x == a && y == b) || (x == b && y == a)
}
