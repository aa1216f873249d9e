package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard-api/domain"
)

// maxKeyBytes is the size limit the table service puts on partition and row keys.
const maxKeyBytes = 1024

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Storage keeps tasks in an Azure table, one partition per owner.
type Storage struct {
	taskTable tableClient
	newID     func() string
	now       func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return newStorage(svc.NewClient(tasksTable)), nil
}

func newStorage(tc tableClient) *Storage {
	return &Storage{taskTable: tc, newID: uuid.NewString, now: nextTimestamp}
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
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
}

// InsertTask assigns an id and creation time and adds the task.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) (domain.StoredTask, error) {
	if !validKey(t.Owner) {
		return domain.StoredTask{}, errInvalidOwner
	}
	t.ID = s.newID()
	t.CreatedAt = s.now().UTC()
	ent, err := encodeTask(t)
	if err != nil {
		return domain.StoredTask{}, err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.StoredTask{}, err
	}
	resp, err := s.taskTable.AddEntity(ctx, payload, nil)
	if err != nil {
		return domain.StoredTask{}, classify(err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return domain.StoredTask{Task: t, ETag: string(resp.ETag)}, nil
}

// ListTasks retrieves all tasks of owner, optionally only those in status.
func (s *Storage) ListTasks(ctx context.Context, owner string, status domain.Status) ([]domain.Task, error) {
	if !validKey(owner) {
		return nil, errInvalidOwner
	}
	filter := listFilter(owner, status)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// GetTask reads a single task by its compound key.
func (s *Storage) GetTask(ctx context.Context, owner, id string) (domain.StoredTask, error) {
	if !validKey(owner) || !validKey(id) {
		return domain.StoredTask{}, domain.ErrTaskNotFound
	}
	resp, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		return domain.StoredTask{}, classify(err)
	}
	t, err := decodeTask(resp.Value)
	if err != nil {
		return domain.StoredTask{}, err
	}
	return domain.StoredTask{Task: t, ETag: string(resp.ETag)}, nil
}

// UpdateTask merges the present fields of upd if the stored version still
// matches etag.
func (s *Storage) UpdateTask(ctx context.Context, upd domain.TaskUpdate, etag string) (string, error) {
	if !validKey(upd.Owner) || !validKey(upd.ID) {
		return "", domain.ErrTaskNotFound
	}
	m, err := encodeMerge(upd)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	match := azcore.ETag(etag)
	if etag == "" {
		match = azcore.ETagAny
	}
	resp, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &match, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return "", classify(err)
	}
	return string(resp.ETag), nil
}

// SetOrder merges the order column. The wildcard match makes the write
// fail with not found instead of creating a row.
func (s *Storage) SetOrder(ctx context.Context, owner, id string, order int) error {
	if !validKey(owner) || !validKey(id) {
		return domain.ErrTaskNotFound
	}
	payload, err := json.Marshal(orderMerge(owner, id, order))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return classify(err)
}

// DeleteTask removes a task by its compound key.
func (s *Storage) DeleteTask(ctx context.Context, owner, id string) error {
	if !validKey(owner) || !validKey(id) {
		return domain.ErrTaskNotFound
	}
	_, err := s.taskTable.DeleteEntity(ctx, owner, id, nil)
	return classify(err)
}

var errInvalidOwner = errors.New("owner id cannot be used as a partition key")

// classify maps service responses onto the domain's error vocabulary.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return domain.ErrTaskNotFound
		case http.StatusPreconditionFailed:
			return domain.ErrConcurrencyConflict
		}
	}
	return err
}

func listFilter(owner string, status domain.Status) string {
	filter := "PartitionKey eq " + quote(owner)
	if status != "" {
		filter += " and Status eq " + quote(string(status))
	}
	return filter
}

// quote renders an OData string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// validKey rejects values the table service refuses as keys. Such ids
// cannot name a stored task.
func validKey(k string) bool {
	if k == "" || len(k) > maxKeyBytes {
		return false
	}
	for _, r := range k {
		switch {
		case r == '/', r == '\\', r == '#', r == '?':
			return false
		case r < 0x20, r >= 0x7f && r <= 0x9f:
			return false
		}
	}
	return true
}
