package planner

import (
	"cmp"
	"context"
	"slices"

	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
)

// Orderer owns the manual sort sequence of each (owner, list) pair.
type Orderer struct {
	store domain.TaskStore
}

func NewOrderer(store domain.TaskStore) *Orderer { return &Orderer{store: store} }

// topSortOrder returns a position ahead of every task filed in list. It must
// run inside the transaction that writes the position.
func topSortOrder(ctx context.Context, tx domain.Tx, list domain.SystemList) (int, error) {
	lowest, ok, err := tx.MinSortOrder(ctx, list)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return lowest - 1, nil
}

// InsertAtTop returns the position a task placed now would take at the top of
// list. Callers that persist the value should use it within the same
// transaction, which CreateTask and Reopen do.
func (o *Orderer) InsertAtTop(ctx context.Context, ownerID string, list domain.SystemList) (int, error) {
	if !list.Valid() {
		return 0, &domain.ValidationError{Field: "list", Reason: "unknown system list " + string(list)}
	}
	var pos int
	err := o.store.Update(ctx, ownerID, func(tx domain.Tx) error {
		var err error
		pos, err = topSortOrder(ctx, tx, list)
		return err
	})
	return pos, err
}

// Reorder assigns sort order i to orderedIDs[i]. Open tasks of the list
// outside the batch keep their position unless it falls within 0..n-1, in
// which case they move just past the batch, keeping their relative order.
// Archived tasks outside the batch are never rewritten. Every id must belong
// to ownerID and be filed in list; otherwise nothing is written.
func (o *Orderer) Reorder(ctx context.Context, ownerID string, list domain.SystemList, orderedIDs []string) error {
	if err := checkBatch(list, orderedIDs); err != nil {
		return err
	}
	err := o.store.Update(ctx, ownerID, func(tx domain.Tx) error {
		members, err := tx.FindTasks(ctx, domain.TaskQuery{OwnerID: ownerID, List: list})
		if err != nil {
			return err
		}
		filed := make(map[string]bool, len(members))
		for _, t := range members {
			filed[t.ID] = true
		}
		for _, id := range orderedIDs {
			if filed[id] {
				continue
			}
			other, err := tx.GetTask(ctx, id)
			if err != nil {
				return err
			}
			if other == nil {
				return &domain.ValidationError{TaskID: id, Reason: "task not found", Err: domain.ErrNotFound}
			}
			return &domain.ValidationError{TaskID: id, Reason: "task is filed in " + string(other.List) + ", not " + string(list)}
		}

		for _, t := range resequence(members, orderedIDs) {
			if err := tx.SaveTask(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{"owner": ownerID, "list": list, "batch": len(orderedIDs)}).WithError(err).Debug("reorder rejected")
		return err
	}
	return nil
}

func checkBatch(list domain.SystemList, ids []string) error {
	if !list.Valid() {
		return &domain.ValidationError{Field: "list", Reason: "unknown system list " + string(list)}
	}
	if len(ids) == 0 {
		return &domain.ValidationError{Field: "taskIds", Reason: "batch is empty"}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return &domain.ValidationError{Field: "taskIds", Reason: "empty task id"}
		}
		if _, dup := seen[id]; dup {
			return &domain.ValidationError{TaskID: id, Reason: "duplicate task id"}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// resequence returns the members whose sort order changes. Batch members take
// their index. The remaining open members keep their value when it lies
// outside the batch range and above the previous open member; otherwise they
// take the next free value past both.
func resequence(members []domain.Task, orderedIDs []string) []domain.Task {
	pos := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		pos[id] = i
	}
	var changed, rest []domain.Task
	for _, t := range members {
		i, ok := pos[t.ID]
		switch {
		case ok && t.SortOrder != i:
			t.SortOrder = i
			changed = append(changed, t)
		case !ok && t.Active():
			rest = append(rest, t)
		}
	}
	slices.SortFunc(rest, func(a, b domain.Task) int {
		if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	n := len(orderedIDs)
	for i, t := range rest {
		want := t.SortOrder
		if i > 0 && want <= rest[i-1].SortOrder {
			want = rest[i-1].SortOrder + 1
		}
		if want >= 0 && want < n {
			want = n
		}
		if want != t.SortOrder {
			rest[i].SortOrder = want
			t.SortOrder = want
			changed = append(changed, t)
		}
	}
	return changed
}
