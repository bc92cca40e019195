package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"capsule-go/internal/models"
	"capsule-go/internal/storage"
)

type membershipRepository struct {
	s  *Store
	tx bool
}

func (r *membershipRepository) Transaction(_ context.Context, fn func(repo storage.MembershipRepository) error) error {
	return r.s.transaction(func() error { return fn(&membershipRepository{s: r.s, tx: true}) })
}

func memberOf(capsuleID, userID string) func(*models.CapsuleMember) bool {
	return func(m *models.CapsuleMember) bool { return m.CapsuleID == capsuleID && m.UserID == userID }
}

func followerOf(capsuleID, userID string) func(*models.CapsuleFollower) bool {
	return func(f *models.CapsuleFollower) bool { return f.CapsuleID == capsuleID && f.UserID == userID }
}

func (r *membershipRepository) GetMember(_ context.Context, capsuleID, userID string) (*models.CapsuleMember, error) {
	defer r.s.lock(r.tx)()
	m := r.s.members.first(memberOf(capsuleID, userID))
	if m == nil {
		return nil, storage.ErrNotFound
	}
	return copyRow(m), nil
}

func (r *membershipRepository) ListMembers(_ context.Context, capsuleID string) ([]*models.CapsuleMember, error) {
	defer r.s.lock(r.tx)()
	return r.s.members.find(func(m *models.CapsuleMember) bool { return m.CapsuleID == capsuleID }), nil
}

func (r *membershipRepository) RestoreOrInsertMember(_ context.Context, capsuleID, userID string, role models.StorageRole) (*models.CapsuleMember, storage.EdgeOutcome, error) {
	defer r.s.lock(r.tx)()
	m, outcome := r.s.members.restoreOrInsert(memberOf(capsuleID, userID),
		func() *models.CapsuleMember {
			return &models.CapsuleMember{CapsuleID: capsuleID, UserID: userID, Role: role}
		},
		func(m *models.CapsuleMember) { m.Role = role },
		r.s.timestamp(),
	)
	return m, outcome, nil
}

func (r *membershipRepository) UpdateMemberRole(_ context.Context, capsuleID, userID string, role models.StorageRole) error {
	defer r.s.lock(r.tx)()
	m := r.s.members.first(memberOf(capsuleID, userID))
	if m == nil {
		return storage.ErrNotFound
	}
	m.Role = role
	m.UpdatedAt = r.s.timestamp()
	return nil
}

func (r *membershipRepository) DeleteMember(_ context.Context, capsuleID, userID string) (bool, error) {
	defer r.s.lock(r.tx)()
	return r.s.members.softDelete(memberOf(capsuleID, userID), r.s.timestamp()) > 0, nil
}

func (r *membershipRepository) GetFollower(_ context.Context, capsuleID, userID string) (*models.CapsuleFollower, error) {
	defer r.s.lock(r.tx)()
	f := r.s.followers.first(followerOf(capsuleID, userID))
	if f == nil {
		return nil, storage.ErrNotFound
	}
	return copyRow(f), nil
}

func (r *membershipRepository) ListFollowers(_ context.Context, capsuleID string) ([]*models.CapsuleFollower, error) {
	defer r.s.lock(r.tx)()
	return r.s.followers.find(func(f *models.CapsuleFollower) bool { return f.CapsuleID == capsuleID }), nil
}

func (r *membershipRepository) RestoreOrInsertFollower(_ context.Context, capsuleID, userID string) (*models.CapsuleFollower, storage.EdgeOutcome, error) {
	defer r.s.lock(r.tx)()
	f, outcome := r.s.followers.restoreOrInsert(followerOf(capsuleID, userID),
		func() *models.CapsuleFollower {
			return &models.CapsuleFollower{CapsuleID: capsuleID, UserID: userID}
		},
		nil,
		r.s.timestamp(),
	)
	return f, outcome, nil
}

func (r *membershipRepository) DeleteFollower(_ context.Context, capsuleID, userID string) (bool, error) {
	defer r.s.lock(r.tx)()
	return r.s.followers.softDelete(followerOf(capsuleID, userID), r.s.timestamp()) > 0, nil
}

func pendingFor(capsuleID, requesterID string) func(*models.CapsuleMemberRequest) bool {
	return func(q *models.CapsuleMemberRequest) bool {
		return q.CapsuleID == capsuleID && q.RequesterID == requesterID && q.Status == models.RequestPending
	}
}

func (r *membershipRepository) UpsertPendingRequest(_ context.Context, req *models.CapsuleMemberRequest) (*models.CapsuleMemberRequest, error) {
	defer r.s.lock(r.tx)()
	at := r.s.timestamp()
	if existing := r.s.requests.first(pendingFor(req.CapsuleID, req.RequesterID)); existing != nil {
		if existing.Origin != req.Origin {
			return nil, storage.ErrStaleState
		}
		existing.InitiatorID = req.InitiatorID
		existing.Role = req.Role
		existing.Message = req.Message
		existing.UpdatedAt = at
		return copyRow(existing), nil
	}
	row := copyRow(req)
	row.ID = uuid.NewString()
	row.Status = models.RequestPending
	return r.s.requests.insert(row, at), nil
}

func (r *membershipRepository) GetRequest(_ context.Context, id string) (*models.CapsuleMemberRequest, error) {
	defer r.s.lock(r.tx)()
	q := r.s.requests.first(func(q *models.CapsuleMemberRequest) bool { return q.ID == id })
	if q == nil {
		return nil, storage.ErrNotFound
	}
	return copyRow(q), nil
}

func (r *membershipRepository) FindPendingRequest(_ context.Context, capsuleID, requesterID string) (*models.CapsuleMemberRequest, error) {
	defer r.s.lock(r.tx)()
	q := r.s.requests.first(pendingFor(capsuleID, requesterID))
	if q == nil {
		return nil, storage.ErrNotFound
	}
	return copyRow(q), nil
}

func (r *membershipRepository) ListPendingRequests(_ context.Context, capsuleID string) ([]*models.CapsuleMemberRequest, error) {
	defer r.s.lock(r.tx)()
	return r.s.requests.find(func(q *models.CapsuleMemberRequest) bool {
		return q.CapsuleID == capsuleID && q.Status == models.RequestPending
	}), nil
}

func (r *membershipRepository) ResolveRequest(_ context.Context, id string, status models.RequestStatus, at time.Time) error {
	defer r.s.lock(r.tx)()
	q := r.s.requests.first(func(q *models.CapsuleMemberRequest) bool {
		return q.ID == id && q.Status == models.RequestPending
	})
	if q == nil {
		return storage.ErrStaleState
	}
	q.Status = status
	q.UpdatedAt = at
	switch status {
	case models.RequestApproved:
		q.ApprovedAt = &at
	case models.RequestDeclined:
		q.DeclinedAt = &at
	case models.RequestCancelled:
		q.CancelledAt = &at
	}
	return nil
}
