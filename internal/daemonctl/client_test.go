package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rollcall/internal/api"
)

func newTestClient(t *testing.T, handler http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(strings.TrimPrefix(srv.URL, "http://"), token, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientMapsWildcardToLoopback(t *testing.T) {
	client, err := NewClient("0.0.0.0:7488", "", 0)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.BaseURL() != "http://127.0.0.1:7488" {
		t.Fatalf("unexpected base url %q", client.BaseURL())
	}
	if _, err := NewClient("no-port", "", 0); err == nil {
		t.Fatal("expected bind without port to be rejected")
	}
}

func TestSwitchSendsTokenAndBody(t *testing.T) {
	var gotAuth string
	var gotReq api.SwitchRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/cameras/switch" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(api.CommandResponse{OK: true, Message: "switched to camera 2"})
	}), "tok")

	id := 2
	resp, err := client.Switch(context.Background(), &id)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.ID == nil || *gotReq.ID != 2 {
		t.Fatalf("unexpected request body %+v", gotReq)
	}
	if resp.Message != "switched to camera 2" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRefusedCommandReturnsReplyAndError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.CommandResponse{OK: false, Message: "camera switch failed"})
	}), "")

	resp, err := client.Switch(context.Background(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected conflict APIError, got %v", err)
	}
	if resp == nil || resp.Message != "camera switch failed" {
		t.Fatalf("expected decoded reply, got %+v", resp)
	}
}

func TestErrorResponseMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "attendance store unavailable"})
	}), "")

	_, err := client.Attendance(context.Background(), 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "attendance store unavailable" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestUnreachableDaemon(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	client, err := NewClient(addr, "", time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Status(context.Background()); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	running, pid, err := ProcessInfo(context.Background(), client)
	if err != nil || running || pid != 0 {
		t.Fatalf("unexpected process info: running=%v pid=%d err=%v", running, pid, err)
	}
}

func TestLogsQuery(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(api.LogStreamResponse{Next: 12})
	}), "")

	resp, err := client.Logs(context.Background(), LogQuery{Since: 4, Limit: 20, Component: "camera"})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if resp.Next != 12 {
		t.Fatalf("unexpected cursor %d", resp.Next)
	}
	if gotQuery != "component=camera&limit=20&since=4" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}
