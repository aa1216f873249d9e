package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type chanSource struct {
	ch     chan []byte
	userID chan string
	err    error
}

func (s *chanSource) Subscribe(_ context.Context, userID string) (<-chan []byte, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	s.userID <- userID
	return s.ch, func() {}, nil
}

func newStreamServer(src EventSource) *httptest.Server {
	e := echo.New()
	Register(e, Services{Tasks: &mockService{}, Auth: mockAuth{}, Events: src}, quietLogger())
	return httptest.NewServer(e)
}

func TestStreamEventsForwardsPayloads(t *testing.T) {
	src := &chanSource{ch: make(chan []byte, 1), userID: make(chan string, 1)}
	srv := newStreamServer(src)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tasks/events?token=abc", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got := <-src.userID; got != "user" {
		t.Fatalf("expected subscription for user, got %q", got)
	}

	src.ch <- []byte(`{"type":"task-created"}`)
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if strings.TrimSpace(line) != `data: {"type":"task-created"}` {
		t.Fatalf("unexpected event line %q", line)
	}
}

func TestStreamEventsRequiresAuth(t *testing.T) {
	src := &chanSource{ch: make(chan []byte), userID: make(chan string, 1)}
	e := echo.New()
	Register(e, Services{Tasks: &mockService{}, Auth: mockAuth{}, Events: src}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/events", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStreamEventsSubscribeFailure(t *testing.T) {
	src := &chanSource{err: errors.New("redis down")}
	e := echo.New()
	Register(e, Services{Tasks: &mockService{}, Auth: mockAuth{}, Events: src}, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/events", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
