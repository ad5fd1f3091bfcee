package tables

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"prism-gtd/domain"
)

type headState struct {
	etag    string
	version int
	exists  bool
}

// tableTx stages writes for one partition. Reads go to the table and are
// overlaid with the staged writes; ETags observed by reads guard the commit.
type tableTx struct {
	store  *Store
	owner  string
	etags  map[string]string
	lists  map[string]domain.SystemList
	heads  map[domain.SystemList]headState
	staged map[string]domain.Task
	added  map[string]bool
	// lists whose head row must be bumped on commit
	touched map[domain.SystemList]bool
	order   []string
}

func newTx(s *Store, owner string) *tableTx {
	return &tableTx{
		store:   s,
		owner:   owner,
		etags:   map[string]string{},
		lists:   map[string]domain.SystemList{},
		heads:   map[domain.SystemList]headState{},
		staged:  map[string]domain.Task{},
		added:   map[string]bool{},
		touched: map[domain.SystemList]bool{},
	}
}

// head loads the list head once per transaction so its ETag reflects the
// state the transaction read from.
func (tx *tableTx) head(ctx context.Context, l domain.SystemList) error {
	if _, ok := tx.heads[l]; ok || !l.Valid() {
		return nil
	}
	resp, err := tx.store.taskTable.GetEntity(ctx, tx.owner, headRowKey(l), nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			tx.heads[l] = headState{}
			return nil
		}
		return err
	}
	var h listHead
	if err := json.Unmarshal(resp.Value, &h); err != nil {
		return err
	}
	tx.heads[l] = headState{etag: string(resp.ETag), version: h.Version, exists: true}
	return nil
}

func (tx *tableTx) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if t, ok := tx.staged[taskID]; ok {
		c := t.Clone()
		return &c, nil
	}
	t, etag, err := tx.store.getTask(ctx, tx.owner, taskID)
	if err != nil || t == nil {
		return nil, err
	}
	if err := tx.head(ctx, t.List); err != nil {
		return nil, err
	}
	tx.etags[t.ID] = etag
	tx.lists[t.ID] = t.List
	return t, nil
}

func (tx *tableTx) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	if q.List != "" {
		if err := tx.head(ctx, q.List); err != nil {
			return nil, err
		}
	}
	tasks, etags, err := tx.store.findTasks(ctx, tx.owner, q)
	if err != nil {
		return nil, err
	}
	q.OwnerID = tx.owner
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, over := tx.staged[t.ID]; over {
			continue
		}
		if _, ok := tx.etags[t.ID]; !ok {
			tx.etags[t.ID] = etags[t.ID]
			tx.lists[t.ID] = t.List
		}
		out = append(out, t)
	}
	for _, t := range tx.staged {
		if q.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (tx *tableTx) MinSortOrder(ctx context.Context, list domain.SystemList) (int, bool, error) {
	tasks, err := tx.FindTasks(ctx, domain.TaskQuery{List: list})
	if err != nil || len(tasks) == 0 {
		return 0, false, err
	}
	lowest := tasks[0].SortOrder
	for _, t := range tasks[1:] {
		lowest = min(lowest, t.SortOrder)
	}
	return lowest, true, nil
}

func (tx *tableTx) InsertTask(ctx context.Context, t domain.Task) error {
	if t.OwnerID != tx.owner {
		return fmt.Errorf("tables: task %s owned by %q inserted in partition %q", t.ID, t.OwnerID, tx.owner)
	}
	if _, ok := tx.staged[t.ID]; ok {
		return fmt.Errorf("tables: task %s already staged: %w", t.ID, domain.ErrConcurrencyConflict)
	}
	if err := tx.head(ctx, t.List); err != nil {
		return err
	}
	tx.stage(t)
	tx.added[t.ID] = true
	return nil
}

func (tx *tableTx) SaveTask(ctx context.Context, t domain.Task) error {
	if t.OwnerID != tx.owner {
		return domain.ErrNotFound
	}
	prevList, read := tx.lists[t.ID]
	if staged, ok := tx.staged[t.ID]; ok {
		prevList, read = staged.List, true
	}
	if !read {
		cur, err := tx.GetTask(ctx, t.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return domain.ErrNotFound
		}
		prevList = cur.List
	}
	if err := tx.head(ctx, t.List); err != nil {
		return err
	}
	// a move bumps both lists
	tx.touched[prevList] = true
	tx.stage(t)
	return nil
}

func (tx *tableTx) stage(t domain.Task) {
	if _, ok := tx.staged[t.ID]; !ok {
		tx.order = append(tx.order, t.ID)
	}
	tx.staged[t.ID] = t.Clone()
	tx.touched[t.List] = true
}

// actions builds the transaction: one write per staged task, then one
// conditional bump per touched list head.
func (tx *tableTx) actions() ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(tx.order)+len(tx.touched))
	for _, id := range tx.order {
		payload, err := json.Marshal(encodeTask(tx.staged[id]))
		if err != nil {
			return nil, err
		}
		if tx.added[id] {
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
			continue
		}
		act := aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload}
		if etag := tx.etags[id]; etag != "" {
			e := azcore.ETag(etag)
			act.IfMatch = &e
		}
		actions = append(actions, act)
	}

	lists := make([]domain.SystemList, 0, len(tx.touched))
	for l := range tx.touched {
		if l.Valid() {
			lists = append(lists, l)
		}
	}
	slices.Sort(lists)
	for _, l := range lists {
		h := tx.heads[l]
		payload, err := json.Marshal(listHead{
			entityKeys: entityKeys{PartitionKey: tx.owner, RowKey: headRowKey(l)},
			Kind:       kindList,
			Version:    h.version + 1,
		})
		if err != nil {
			return nil, err
		}
		if !h.exists {
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
			continue
		}
		e := azcore.ETag(h.etag)
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload, IfMatch: &e})
	}
	return actions, nil
}

func (tx *tableTx) commit(ctx context.Context) error {
	if len(tx.order) == 0 {
		return nil
	}
	actions, err := tx.actions()
	if err != nil {
		return err
	}
	if len(actions) > maxBatchActions {
		return &domain.ValidationError{Reason: fmt.Sprintf("%d entity writes in one transaction", len(actions)), Err: ErrBatchTooLarge}
	}
	if _, err := tx.store.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return conflictErr(err)
	}
	return nil
}
