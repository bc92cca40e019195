package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no active row matches.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrStaleState is returned when a conditional transition found the row no longer in the expected state.
	ErrStaleState = errors.New("storage: row not in expected state")
	// ErrEdgeContention is returned when restore-or-insert kept losing races on the same natural key.
	ErrEdgeContention = errors.New("storage: relationship row contended")
)

// EdgeOutcome tells what restore-or-insert did.
type EdgeOutcome int

const (
	EdgeUnchanged EdgeOutcome = iota // an active row already existed
	EdgeRestored                     // a tombstone was revived
	EdgeInserted                     // no row existed
)

func (o EdgeOutcome) String() string {
	switch o {
	case EdgeRestored:
		return "restored"
	case EdgeInserted:
		return "inserted"
	default:
		return "unchanged"
	}
}

// Changed reports whether the call wrote anything.
func (o EdgeOutcome) Changed() bool {
	return o != EdgeUnchanged
}

type tombstoned interface {
	IsDeleted() bool
}

// edgeKey is the natural key of a relationship table, as column -> value.
type edgeKey map[string]any

// restoreOrInsert is the single find-latest / restore-or-insert routine shared by every relationship table.
//
// It reads the most recent row for key regardless of deleted_at. An active row is returned as is; a tombstone
// is revived in place (deleted_at cleared, revive columns written); only when no row exists is fresh() inserted.
// The insert uses ON CONFLICT DO NOTHING so a concurrent writer that wins the unique key makes this call fall
// back to the winner's row instead of failing.
func restoreOrInsert[T any, PT interface {
	*T
	tombstoned
}](ctx context.Context, db *gorm.DB, key edgeKey, fresh func() PT, revive map[string]any) (PT, EdgeOutcome, error) {
	for attempt := 0; attempt < 3; attempt++ {
		existing, err := findLatest[T, PT](ctx, db, key)
		switch {
		case err == nil && !existing.IsDeleted():
			return existing, EdgeUnchanged, nil
		case err == nil:
			updates := map[string]any{"deleted_at": nil}
			for col, val := range revive {
				updates[col] = val
			}
			res := db.WithContext(ctx).Unscoped().Model(existing).
				Where("deleted_at IS NOT NULL").
				Updates(updates)
			if res.Error != nil {
				return nil, EdgeUnchanged, translate(res.Error)
			}
			if res.RowsAffected == 0 {
				// revived concurrently; re-read and report it as already active
				continue
			}
			restored, err := findLatest[T, PT](ctx, db, key)
			if err != nil {
				return nil, EdgeUnchanged, err
			}
			return restored, EdgeRestored, nil
		case errors.Is(err, ErrNotFound):
			row := fresh()
			res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
			if res.Error != nil {
				return nil, EdgeUnchanged, translate(res.Error)
			}
			if res.RowsAffected > 0 {
				return row, EdgeInserted, nil
			}
			// lost the insert race; the next pass sees the winner's row
		default:
			return nil, EdgeUnchanged, err
		}
	}
	return nil, EdgeUnchanged, ErrEdgeContention
}

// findLatest returns the newest row for key, tombstones included.
func findLatest[T any, PT interface {
	*T
	tombstoned
}](ctx context.Context, db *gorm.DB, key edgeKey) (PT, error) {
	var row T
	err := db.WithContext(ctx).Unscoped().
		Where(map[string]any(key)).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return PT(&row), nil
}

// softDelete tombstones the active rows matching key and reports how many changed.
func softDelete(ctx context.Context, db *gorm.DB, model any, query any, args ...any) (int64, error) {
	res := db.WithContext(ctx).Where(query, args...).Delete(model)
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}

// translate maps gorm errors onto the storage sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
