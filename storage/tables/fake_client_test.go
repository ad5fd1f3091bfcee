package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

type fakeRow struct {
	etag int
	body map[string]any
}

// fakeTable is an in-memory table honouring ETags and batch atomicity.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]fakeRow
	version int
	submits int
	scans   int

	// lastBatch is the number of actions in the last submitted transaction.
	lastBatch int

	// beforeSubmit runs ahead of every SubmitTransaction call, outside the lock.
	beforeSubmit func(call int)

	// beforeScan runs ahead of every ListEntities page, outside the lock.
	beforeScan func(call int)
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]fakeRow{}}
}

func rowID(pk, rk string) string { return pk + "\x00" + rk }

func notFound() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
}

func (f *fakeTable) GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(partitionKey, rowKey)]
	if !ok {
		return aztables.GetEntityResponse{}, notFound()
	}
	data, err := json.Marshal(row.body)
	if err != nil {
		return aztables.GetEntityResponse{}, err
	}
	return aztables.GetEntityResponse{ETag: azcore.ETag(fmt.Sprint(row.etag)), Value: data}, nil
}

// NewListEntitiesPager returns every row of the partition named in the
// filter, with odata.etag set the way the service reports it.
func (f *fakeTable) NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	var pk string
	if options != nil && options.Filter != nil {
		if _, rest, ok := strings.Cut(*options.Filter, "PartitionKey eq '"); ok {
			pk, _, _ = strings.Cut(rest, "'")
		}
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if err := ctx.Err(); err != nil {
				return aztables.ListEntitiesResponse{}, err
			}
			f.mu.Lock()
			f.scans++
			call := f.scans
			hook := f.beforeScan
			f.mu.Unlock()
			if hook != nil {
				hook(call)
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			keys := make([]string, 0, len(f.rows))
			for k := range f.rows {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var resp aztables.ListEntitiesResponse
			for _, k := range keys {
				row := f.rows[k]
				if pk != "" && row.body["PartitionKey"] != pk {
					continue
				}
				body := map[string]any{"odata.etag": fmt.Sprint(row.etag)}
				for name, v := range row.body {
					body[name] = v
				}
				data, err := json.Marshal(body)
				if err != nil {
					return aztables.ListEntitiesResponse{}, err
				}
				resp.Entities = append(resp.Entities, data)
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	f.submits++
	call := f.submits
	hook := f.beforeSubmit
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBatch = len(actions)
	next := make(map[string]fakeRow, len(f.rows))
	for k, v := range f.rows {
		next[k] = v
	}
	for _, act := range actions {
		var body map[string]any
		if err := json.Unmarshal(act.Entity, &body); err != nil {
			return aztables.TransactionResponse{}, err
		}
		delete(body, "odata.etag")
		id := rowID(fmt.Sprint(body["PartitionKey"]), fmt.Sprint(body["RowKey"]))
		cur, exists := next[id]
		switch act.ActionType {
		case aztables.TransactionTypeAdd:
			if exists {
				return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "EntityAlreadyExists"}
			}
		case aztables.TransactionTypeUpdateReplace:
			if !exists {
				return aztables.TransactionResponse{}, notFound()
			}
			if act.IfMatch != nil && string(*act.IfMatch) != fmt.Sprint(cur.etag) {
				return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: http.StatusPreconditionFailed, ErrorCode: "UpdateConditionNotSatisfied"}
			}
		default:
			return aztables.TransactionResponse{}, fmt.Errorf("unsupported action %s", act.ActionType)
		}
		f.version++
		next[id] = fakeRow{etag: f.version, body: body}
	}
	f.rows = next
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	var body map[string]any
	if err := json.Unmarshal(entity, &body); err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	f.rows[rowID(fmt.Sprint(body["PartitionKey"]), fmt.Sprint(body["RowKey"]))] = fakeRow{etag: f.version, body: body}
	return aztables.UpsertEntityResponse{}, nil
}

// touch rewrites a row in place, as a concurrent writer would.
func (f *fakeTable) touch(pk, rk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rowID(pk, rk)
	row, ok := f.rows[id]
	if !ok {
		return
	}
	f.version++
	row.etag = f.version
	f.rows[id] = row
}

func (f *fakeTable) has(pk, rk string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[rowID(pk, rk)]
	return ok
}
