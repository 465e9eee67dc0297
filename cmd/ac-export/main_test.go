package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/activecampaign-client/internal/testutil"
	"github.com/Sternrassler/activecampaign-client/pkg/activecampaign"
	"github.com/rs/zerolog"
)

func setupMock(t *testing.T) *testutil.MockAPI {
	t.Helper()

	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	mock.SetCollection("/tags", testutil.Collection{Key: "tags", Items: []any{
		map[string]any{"id": "4", "tag": "customers"},
		map[string]any{"id": "5", "tag": "customers-eu"},
	}})
	mock.SetCollection("/contacts", testutil.Collection{Key: "contacts", Items: []any{
		map[string]any{"id": "1", "email": "a@example.com"},
		map[string]any{"id": "2", "email": "b@example.com"},
		map[string]any{"id": "3", "email": "c@example.com"},
	}})

	t.Setenv("AC_BASEURL", mock.URL())
	t.Setenv("AC_APITOKEN", "test-token")
	t.Setenv("AC_LOG_LEVEL", "error")
	t.Setenv("AC_RETRY_INTERVAL", "10ms")

	return mock
}

func decodeLines[T any](t *testing.T, out *bytes.Buffer) []T {
	t.Helper()

	var records []T
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r T
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		records = append(records, r)
	}
	return records
}

func TestRun_Tags(t *testing.T) {
	setupMock(t)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"tags"}, &out); err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	tags := decodeLines[activecampaign.Tag](t, &out)
	if len(tags) != 2 {
		t.Fatalf("Expected 2 tags, got %d", len(tags))
	}
	if tags[0].Name != "customers" || tags[1].ID.Int() != 5 {
		t.Errorf("Unexpected tags: %+v", tags)
	}
}

func TestRun_ContactsByTag(t *testing.T) {
	mock := setupMock(t)

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"contacts", "--tag", "customers", "--status", "any", "--after", "2024-01-01",
	}, &out)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	contacts := decodeLines[activecampaign.Contact](t, &out)
	if len(contacts) != 3 {
		t.Fatalf("Expected 3 contacts, got %d", len(contacts))
	}
	for i, c := range contacts {
		if c.ID.Int() != i+1 {
			t.Errorf("contact %d has id %d", i, c.ID.Int())
		}
	}

	var sawContacts bool
	for _, call := range mock.GetPageCalls() {
		if call.Path != "/contacts" {
			continue
		}
		sawContacts = true
		if !strings.Contains(call.Query, "tagid=4") || !strings.Contains(call.Query, "status=-1") {
			t.Errorf("Unexpected contacts query %q", call.Query)
		}
		if !strings.Contains(call.Query, "filters[created_after]=2024%2F1%2F1T0%3A0%3A0-00%3A00") {
			t.Errorf("Expected date filter in query %q", call.Query)
		}
	}
	if !sawContacts {
		t.Error("Expected contacts to be requested")
	}
}

func TestRun_ContactsCount(t *testing.T) {
	setupMock(t)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"contacts", "--tag", "customers", "--count"}, &out); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != `{"count":3}` {
		t.Errorf("Expected count line, got %q", got)
	}
}

func TestRun_Errors(t *testing.T) {
	setupMock(t)

	tests := []struct {
		name     string
		args     []string
		errorMsg string
	}{
		{"no resource", nil, "expected exactly one resource"},
		{"unknown resource", []string{"deals"}, `unknown resource "deals"`},
		{"contacts without tag", []string{"contacts"}, "--tag is required"},
		{"bad status", []string{"contacts", "--tag", "customers", "--status", "gone"}, "unknown status"},
		{"bad time", []string{"contacts", "--tag", "customers", "--after", "yesterday"}, "invalid time"},
		{"unknown tag", []string{"contacts", "--tag", "nobody"}, "no matching record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), tt.args, &out)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestParseDateRange(t *testing.T) {
	r, err := parseDateRange("", "")
	if err != nil || r != nil {
		t.Errorf("Expected no range, got %v, %v", r, err)
	}

	r, err = parseDateRange("2024-01-01", "2024-02-01T12:00:00Z")
	if err != nil {
		t.Fatalf("parseDateRange() failed: %v", err)
	}
	if !r.End().Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected end %v", r.End())
	}

	r, err = parseDateRange("", "2024-02-01")
	if err != nil {
		t.Fatalf("parseDateRange() failed: %v", err)
	}
	if r.Start().Unix() != 0 {
		t.Errorf("Expected epoch start, got %v", r.Start())
	}

	_, err = parseDateRange("2024-02-01", "2024-01-01")
	if !errors.Is(err, activecampaign.ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestStopMetricsServer_LogsShutdownFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})}
	go srv.Serve(ln)
	defer close(release)

	go http.Get("http://" + ln.Addr().String() + "/metrics")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("scrape never reached the handler")
	}

	buf := &bytes.Buffer{}
	stopMetricsServer(srv, 10*time.Millisecond, zerolog.New(buf))

	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "Metrics server shutdown failed") {
		t.Errorf("expected shutdown warning, got %q", buf.String())
	}
}

func TestStopMetricsServer_CleanShutdown(t *testing.T) {
	srv := &http.Server{Handler: http.NotFoundHandler()}

	buf := &bytes.Buffer{}
	stopMetricsServer(srv, time.Second, zerolog.New(buf))

	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %q", buf.String())
	}
}
