// Package tables stores tasks in Azure Table Storage. Each owner is one
// partition, so an owner's writes commit together through an entity group
// transaction.
package tables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
)

const (
	// maxBatchActions is the service limit for one entity group transaction.
	maxBatchActions = 100

	defaultConflictRetries = 5
)

// ErrBatchTooLarge is returned when a transaction would write more entities
// than one entity group transaction accepts.
var ErrBatchTooLarge = errors.New("tables: transaction exceeds 100 entity writes")

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// Store provides access to the task and settings tables.
type Store struct {
	taskTable     tableClient
	settingsTable tableClient
	retries       int
}

// New creates a Store from the given connection string.
func New(connStr, tasksTable, settingsTable string) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Store{
		taskTable:     svc.NewClient(tasksTable),
		settingsTable: svc.NewClient(settingsTable),
		retries:       defaultConflictRetries,
	}, nil
}

func newWithClients(tasks, settings tableClient) *Store {
	return &Store{taskTable: tasks, settingsTable: settings, retries: defaultConflictRetries}
}

// GetTask retrieves a task entity if present.
func (s *Store) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	t, _, err := s.getTask(ctx, ownerID, taskID)
	return t, err
}

func (s *Store) getTask(ctx context.Context, ownerID, taskID string) (*domain.Task, string, error) {
	if taskID == "" || strings.HasPrefix(taskID, "~") {
		return nil, "", nil
	}
	resp, err := s.taskTable.GetEntity(ctx, ownerID, taskID, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	t, _, err := decodeTask(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return &t, string(resp.ETag), nil
}

// FindTasks scans the owner's partition with the query pushed down as a filter.
// Every commit bumps the head row of the lists it writes, so the scan is
// repeated when one of the scanned heads moved while the pages were read.
func (s *Store) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	if q.OwnerID == "" {
		return nil, errors.New("tables: query without owner")
	}
	lists := domain.SystemLists
	if q.List != "" {
		lists = []domain.SystemList{q.List}
	}
	for attempt := 0; ; attempt++ {
		before, err := s.headETags(ctx, q.OwnerID, lists)
		if err != nil {
			return nil, err
		}
		tasks, _, err := s.findTasks(ctx, q.OwnerID, q)
		if err != nil {
			return nil, err
		}
		after, err := s.headETags(ctx, q.OwnerID, lists)
		if err != nil {
			return nil, err
		}
		if maps.Equal(before, after) {
			return tasks, nil
		}
		if attempt >= s.retries {
			return nil, fmt.Errorf("tables: lists kept changing during scan: %w", domain.ErrConcurrencyConflict)
		}
		log.WithFields(log.Fields{"owner": q.OwnerID, "attempt": attempt + 1}).Debug("task scan overlapped a commit; rescanning")
	}
}

func (s *Store) headETags(ctx context.Context, ownerID string, lists []domain.SystemList) (map[domain.SystemList]azcore.ETag, error) {
	out := make(map[domain.SystemList]azcore.ETag, len(lists))
	for _, l := range lists {
		resp, err := s.taskTable.GetEntity(ctx, ownerID, headRowKey(l), nil)
		if isStatus(err, http.StatusNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[l] = resp.ETag
	}
	return out, nil
}

func (s *Store) findTasks(ctx context.Context, ownerID string, q domain.TaskQuery) ([]domain.Task, map[string]string, error) {
	filter := taskFilter(ownerID, q)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	etags := map[string]string{}
	q.OwnerID = ownerID
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range resp.Entities {
			t, etag, err := decodeTask(e)
			if err != nil {
				return nil, nil, err
			}
			if strings.HasPrefix(t.ID, "~") || !q.Matches(t) {
				continue
			}
			tasks = append(tasks, t)
			etags[t.ID] = etag
		}
	}
	return tasks, etags, nil
}

// Update runs fn and submits its writes as one entity group transaction. When
// another writer got there first the transaction is rebuilt from fresh reads.
func (s *Store) Update(ctx context.Context, ownerID string, fn func(tx domain.Tx) error) error {
	if ownerID == "" {
		return errors.New("tables: update without owner")
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s, ownerID)
		if err := fn(tx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := tx.commit(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= s.retries {
			return err
		}
		log.WithFields(log.Fields{"owner": ownerID, "attempt": attempt + 1}).Warn("task transaction conflicted; retrying")
	}
}

// GetSettings retrieves user settings, returning the zero value when absent.
func (s *Store) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	ent, err := s.settingsTable.GetEntity(ctx, ownerID, ownerID, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Settings{}, nil
		}
		return domain.Settings{}, err
	}
	return decodeSettings(ent.Value)
}

func (s *Store) SaveSettings(ctx context.Context, ownerID string, st domain.Settings) error {
	payload, err := json.Marshal(settingsEntity{
		entityKeys:          entityKeys{PartitionKey: ownerID, RowKey: ownerID},
		UpcomingHorizonDays: st.UpcomingHorizonDays,
		PageSize:            st.PageSize,
	})
	if err != nil {
		return err
	}
	_, err = s.settingsTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// conflictErr maps optimistic concurrency failures to the domain sentinel.
func conflictErr(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, respErr.ErrorCode)
		}
	}
	return err
}
