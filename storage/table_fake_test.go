package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

type row struct {
	etag   int
	fields map[string]any
}

// fakeTable mimics the subset of table service behaviour the store relies on:
// conditional merges, 404 on missing rows and paged listing by partition.
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string]*row
	version  int
	pageSize int
	filters  []string
	fail     error
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]*row{}, pageSize: 2}
}

func rowKey(pk, rk string) string { return pk + "\x00" + rk }

func respErr(status int, code string) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: code}
}

func (f *fakeTable) nextETag() azcore.ETag {
	f.version++
	return azcore.ETag("W/\"" + strconv.Itoa(f.version) + "\"")
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return aztables.AddEntityResponse{}, f.fail
	}
	var fields map[string]any
	if err := json.Unmarshal(entity, &fields); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	k := rowKey(fields["PartitionKey"].(string), fields["RowKey"].(string))
	if _, ok := f.rows[k]; ok {
		return aztables.AddEntityResponse{}, respErr(http.StatusConflict, "EntityAlreadyExists")
	}
	etag := f.nextETag()
	f.rows[k] = &row{etag: f.version, fields: fields}
	return aztables.AddEntityResponse{ETag: etag, Value: entity}, nil
}

func (f *fakeTable) GetEntity(ctx context.Context, partitionKey, rk string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[rowKey(partitionKey, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	data, _ := json.Marshal(r.fields)
	return aztables.GetEntityResponse{ETag: azcore.ETag("W/\"" + strconv.Itoa(r.etag) + "\""), Value: data}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return aztables.UpdateEntityResponse{}, f.fail
	}
	var fields map[string]any
	if err := json.Unmarshal(entity, &fields); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	r, ok := f.rows[rowKey(fields["PartitionKey"].(string), fields["RowKey"].(string))]
	if !ok {
		return aztables.UpdateEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	if options != nil && options.IfMatch != nil && *options.IfMatch != azcore.ETagAny {
		if string(*options.IfMatch) != "W/\""+strconv.Itoa(r.etag)+"\"" {
			return aztables.UpdateEntityResponse{}, respErr(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
		}
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	etag := f.nextETag()
	r.etag = f.version
	return aztables.UpdateEntityResponse{ETag: etag}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, partitionKey, rk string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowKey(partitionKey, rk)
	if _, ok := f.rows[k]; !ok {
		return aztables.DeleteEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	delete(f.rows, k)
	return aztables.DeleteEntityResponse{}, nil
}

// NewListEntitiesPager understands the two filter shapes the store emits.
func (f *fakeTable) NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	filter := ""
	if listOptions != nil && listOptions.Filter != nil {
		filter = *listOptions.Filter
	}
	f.filters = append(f.filters, filter)
	pk, status := parseFilter(filter)
	var matched [][]byte
	for _, r := range f.rows {
		if r.fields["PartitionKey"] != pk {
			continue
		}
		if status != "" && r.fields["Status"] != status {
			continue
		}
		data, _ := json.Marshal(r.fields)
		matched = append(matched, data)
	}
	pageSize, fail := f.pageSize, f.fail
	f.mu.Unlock()

	offset := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool {
			return offset < len(matched)
		},
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if fail != nil {
				return aztables.ListEntitiesResponse{}, fail
			}
			end := offset + pageSize
			if end > len(matched) {
				end = len(matched)
			}
			page := matched[offset:end]
			offset = end
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

func parseFilter(filter string) (pk, status string) {
	parts := strings.Split(filter, " and ")
	unquote := func(s string) string {
		s = s[strings.Index(s, "'")+1 : strings.LastIndex(s, "'")]
		return strings.ReplaceAll(s, "''", "'")
	}
	pk = unquote(parts[0])
	if len(parts) > 1 {
		status = unquote(parts[1])
	}
	return pk, status
}
