package api

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

func gzipBody(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func TestGzipRequestBodyIsInflated(t *testing.T) {
	var title string
	svc := &mockService{createFn: func(owner string, in domain.TaskInput) (domain.Task, error) {
		title = in.Title
		return domain.Task{ID: "t", Title: in.Title, Tags: []string{}}, nil
	}}
	e := newTestServer(svc, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", gzipBody(t, `{"title":"zipped"}`))
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentEncoding, "identity, GZIP")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if title != "zipped" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestGzipRequestInvalidStream(t *testing.T) {
	e := newTestServer(&mockService{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGzipRequestTooLarge(t *testing.T) {
	e := newTestServer(&mockService{}, nil, nil)
	huge := `{"title":"` + strings.Repeat("a", requestBodyMaxSize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", gzipBody(t, huge))
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHasGzipEncoding(t *testing.T) {
	tests := map[string]bool{
		"":              false,
		"gzip":          true,
		"br, gzip":      true,
		"deflate":       false,
		" Gzip ":        true,
		"x-gzip-legacy": false,
	}
	for header, want := range tests {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}
