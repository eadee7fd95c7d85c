package pdu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdutools/pductl/internal/jaws"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{
		QueryAttempts:   6,
		CommandAttempts: 5,
		Delay:           time.Millisecond,
	}
}

func testPDU(t *testing.T, handler http.Handler) *PDU {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "https://")
	return New(host, "admn", "secret", jaws.Config{}, fastRetry(), zerolog.Nop())
}

// failThenSucceed serves failures for the first n requests, then the
// given body.
func failThenSucceed(n int, body string, calls *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= int64(n) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(body))
	})
}

func TestOutletStatusRetriesUntilSuccess(t *testing.T) {
	for failures := 0; failures <= 5; failures++ {
		var calls atomic.Int64
		p := testPDU(t, failThenSucceed(failures, `[{"id":"AA1","state":"On"},{"id":"AA2","state":"Off"}]`, &calls))

		outlets, err := p.OutletStatus(context.Background())
		if err != nil {
			t.Fatalf("%d failures: %v", failures, err)
		}
		if got := calls.Load(); got != int64(failures)+1 {
			t.Errorf("%d failures: got %d attempts, want %d", failures, got, failures+1)
		}
		if len(outlets) != 2 || outlets[0].ID != "AA1" || outlets[0].State != "On" {
			t.Errorf("%d failures: parsed %+v", failures, outlets)
		}
	}
}

func TestOutletStatusGivesUpAfterSixAttempts(t *testing.T) {
	var calls atomic.Int64
	p := testPDU(t, failThenSucceed(100, "", &calls))

	_, err := p.OutletStatus(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error: got %v, want ErrRetriesExhausted", err)
	}
	if got := calls.Load(); got != 6 {
		t.Errorf("attempts: got %d, want 6", got)
	}
}

func TestOutletStatusRetriesOnEmptyBody(t *testing.T) {
	var calls atomic.Int64
	p := testPDU(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			return // 200 with empty body
		}
		w.Write([]byte(`[{"id":"BA1","state":"Rebooting"}]`))
	}))

	outlets, err := p.OutletStatus(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("attempts: got %d, want 2", calls.Load())
	}
	if len(outlets) != 1 || outlets[0].State != "Rebooting" {
		t.Errorf("parsed %+v", outlets)
	}
}

func TestOutletStatusRetriesOnMalformedJSON(t *testing.T) {
	var calls atomic.Int64
	p := testPDU(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"not":"an array"`))
			return
		}
		w.Write([]byte(`[]`))
	}))

	if _, err := p.OutletStatus(context.Background()); err != nil {
		t.Fatalf("status: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("attempts: got %d, want 2", calls.Load())
	}
}

func TestGroupInformationParsesOutletAccess(t *testing.T) {
	var calls atomic.Int64
	p := testPDU(t, failThenSucceed(0, `[{"name":"Critical","outlet_access":["AA1","AA2"]}]`, &calls))

	groups, err := p.GroupInformation(context.Background())
	if err != nil {
		t.Fatalf("group info: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "Critical" {
		t.Fatalf("parsed %+v", groups)
	}
	if len(groups[0].OutletAccess) != 2 || groups[0].OutletAccess[1] != "AA2" {
		t.Errorf("outlet_access: %v", groups[0].OutletAccess)
	}
}

func TestGroupCommandPatchesOncePerAttempt(t *testing.T) {
	var calls atomic.Int64
	var paths []string
	var bodies []string

	p := testPDU(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		paths = append(paths, r.Method+" "+r.URL.Path)
		bodies = append(bodies, string(body))
		http.Error(w, "failed", http.StatusBadGateway)
	}))

	err := p.GroupCommand(context.Background(), "Critical", OpReboot)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error: got %v, want ErrRetriesExhausted", err)
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("attempts: got %d, want 5", got)
	}
	for i, path := range paths {
		if path != "PATCH /jaws/control/groups/Critical" {
			t.Errorf("attempt %d: %s", i+1, path)
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(bodies[i]), &payload); err != nil {
			t.Fatalf("attempt %d body %q: %v", i+1, bodies[i], err)
		}
		if payload["control_action"] != "reboot" {
			t.Errorf("attempt %d payload: %v", i+1, payload)
		}
	}
}

func TestOutletCommandSucceedsAfterRetry(t *testing.T) {
	var calls atomic.Int64
	p := testPDU(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := p.OutletCommand(context.Background(), "AA1", OpOff); err != nil {
		t.Fatalf("command: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts: got %d, want 3", calls.Load())
	}
}

func TestControlOutletsContinuesPastFailures(t *testing.T) {
	p := testPDU(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/BAD") {
			http.Error(w, "no such outlet", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	targets := []Target{
		{Name: "AA1", Operation: OpOn},
		{Name: "BAD", Operation: OpOn},
		{Name: "AA2", Operation: OpOn},
	}
	outcomes := p.ControlOutlets(context.Background(), targets)

	if len(outcomes) != 3 {
		t.Fatalf("outcomes: got %d, want 3", len(outcomes))
	}
	if !outcomes[0].OK() || outcomes[1].OK() || !outcomes[2].OK() {
		t.Errorf("outcomes: %+v", outcomes)
	}
	if outcomes[1].Kind != "outlet" || outcomes[1].Target != "BAD" || outcomes[1].Operation != OpOn {
		t.Errorf("failed outcome: %+v", outcomes[1])
	}
}

func TestQueryCancelledContext(t *testing.T) {
	p := testPDU(t, failThenSucceed(100, "", new(atomic.Int64)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.OutletStatus(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("cancellation should not count as retry exhaustion: %v", err)
	}
}

func TestParseOperation(t *testing.T) {
	for _, valid := range []string{"on", "off", "reboot", "status"} {
		if _, err := ParseOperation(valid); err != nil {
			t.Errorf("ParseOperation(%q): %v", valid, err)
		}
	}
	if _, err := ParseOperation("explode"); err == nil {
		t.Error("ParseOperation(explode): expected error")
	}
}
