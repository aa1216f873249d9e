package storage

import (
	"encoding/json"
	"time"

	"taskboard-api/domain"
)

const (
	EdmInt32 = "Edm.Int32"
	EdmInt64 = "Edm.Int64"

	dueDateLayout = "2006-01-02"
)

// entityKeys addresses a single row: the owner is the partition and the
// task id the row key.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is the table representation of a task. Tags are stored as a
// JSON array in a string column since tables have no list type.
type taskEntity struct {
	entityKeys
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Priority      string `json:"Priority"`
	Status        string `json:"Status"`
	DueDate       string `json:"DueDate"`
	Tags          string `json:"Tags"`
	Order         int32  `json:"Order"`
	OrderType     string `json:"Order@odata.type,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

// taskMerge carries the columns of a merge update; nil columns are left
// untouched by the service.
type taskMerge struct {
	entityKeys
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Priority    *string `json:"Priority,omitempty"`
	Status      *string `json:"Status,omitempty"`
	DueDate     *string `json:"DueDate,omitempty"`
	Tags        *string `json:"Tags,omitempty"`
	Order       *int32  `json:"Order,omitempty"`
	OrderType   *string `json:"Order@odata.type,omitempty"`
}

func encodeTask(t domain.Task) (taskEntity, error) {
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.Owner, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Priority:      string(t.Priority),
		Status:        string(t.Status),
		Tags:          tags,
		Order:         int32(t.Order),
		OrderType:     EdmInt32,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: EdmInt64,
	}
	if t.DueDate != nil {
		ent.DueDate = t.DueDate.Format(dueDateLayout)
	}
	return ent, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Owner:       ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		Status:      domain.Status(ent.Status),
		Tags:        []string{},
		Order:       int(ent.Order),
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if ent.DueDate != "" {
		due, err := time.Parse(dueDateLayout, ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		t.DueDate = &due
	}
	if ent.Tags != "" {
		if err := json.Unmarshal([]byte(ent.Tags), &t.Tags); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

func encodeMerge(upd domain.TaskUpdate) (taskMerge, error) {
	m := taskMerge{entityKeys: entityKeys{PartitionKey: upd.Owner, RowKey: upd.ID}}
	m.Title = upd.Title
	m.Description = upd.Description
	if upd.Priority != nil {
		p := string(*upd.Priority)
		m.Priority = &p
	}
	if upd.Status != nil {
		s := string(*upd.Status)
		m.Status = &s
	}
	if upd.ClearDueDate {
		empty := ""
		m.DueDate = &empty
	} else if upd.DueDate != nil {
		d := upd.DueDate.Format(dueDateLayout)
		m.DueDate = &d
	}
	if upd.Tags != nil {
		tags, err := encodeTags(*upd.Tags)
		if err != nil {
			return taskMerge{}, err
		}
		m.Tags = &tags
	}
	return m, nil
}

func orderMerge(owner, id string, order int) taskMerge {
	o := int32(order)
	t := EdmInt32
	return taskMerge{entityKeys: entityKeys{PartitionKey: owner, RowKey: id}, Order: &o, OrderType: &t}
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
