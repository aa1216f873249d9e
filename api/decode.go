package api

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

var (
	errInvalidBody  = &domain.ValidationError{Field: "body", Reason: "Request body must be a JSON object"}
	errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	errInvalidOrder = &domain.ValidationError{Field: "order", Reason: "Order must be a non-empty array of { id, position }"}
)

// decodeObject reads the request body as a JSON object. An empty body is an
// empty object.
func decodeObject(c echo.Context) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, requestBodyMaxSize+1))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, errInvalidBody
	}
	if len(data) > requestBodyMaxSize {
		return nil, errBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := sonic.Unmarshal(data, &body); err != nil || body == nil {
		return nil, errInvalidBody
	}
	return body, nil
}

// optionalString distinguishes an absent field (nil) from one sent as null,
// which is read as the empty string.
func optionalString(body map[string]any, field string) (*string, error) {
	v, ok := body[field]
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case nil:
		empty := ""
		return &empty, nil
	case string:
		return &s, nil
	}
	return nil, &domain.ValidationError{Field: field, Reason: field + " must be a string"}
}

func stringField(body map[string]any, field string) (string, error) {
	s, err := optionalString(body, field)
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

// tagsField accepts anything for tags: non-string elements are dropped and
// a value that is not an array yields no tags.
func tagsField(body map[string]any) *[]string {
	v, ok := body["tags"]
	if !ok {
		return nil
	}
	tags := []string{}
	if arr, ok := v.([]any); ok {
		for _, item := range arr {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	return &tags
}

func decodeTaskInput(body map[string]any) (domain.TaskInput, error) {
	var in domain.TaskInput
	var err error
	if in.Title, err = stringField(body, "title"); err != nil {
		return in, err
	}
	if in.Description, err = stringField(body, "description"); err != nil {
		return in, err
	}
	if in.Priority, err = stringField(body, "priority"); err != nil {
		return in, err
	}
	if in.DueDate, err = stringField(body, "dueDate"); err != nil {
		return in, err
	}
	if tags := tagsField(body); tags != nil {
		in.Tags = *tags
	}
	return in, nil
}

func decodeTaskPatch(body map[string]any) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	var err error
	if p.Title, err = optionalString(body, "title"); err != nil {
		return p, err
	}
	if p.Description, err = optionalString(body, "description"); err != nil {
		return p, err
	}
	if p.Priority, err = optionalString(body, "priority"); err != nil {
		return p, err
	}
	if p.DueDate, err = optionalString(body, "dueDate"); err != nil {
		return p, err
	}
	p.Tags = tagsField(body)
	return p, nil
}

// decodeAssignments reads {"order":[{"id":..,"position":..}]}. Entries may
// carry the position under "order" instead.
func decodeAssignments(body map[string]any) ([]domain.Assignment, error) {
	raw, ok := body["order"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errInvalidOrder
	}
	out := make([]domain.Assignment, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, errInvalidOrder
		}
		id, ok := entry["id"].(string)
		if !ok {
			return nil, errInvalidOrder
		}
		pos, ok := entry["position"]
		if !ok {
			pos = entry["order"]
		}
		n, ok := pos.(float64)
		if !ok || n != math.Trunc(n) {
			return nil, &domain.ValidationError{Field: "position", Reason: "Position must be an integer"}
		}
		out = append(out, domain.Assignment{ID: id, Position: clampPosition(n)})
	}
	return out, nil
}

// clampPosition keeps huge values representable; the coordinator rejects
// anything outside the stored range.
func clampPosition(n float64) int {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32 + 1
	case n < math.MinInt32:
		return math.MinInt32 - 1
	}
	return int(n)
}
