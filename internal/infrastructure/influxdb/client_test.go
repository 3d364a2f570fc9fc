package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu          sync.Mutex
	lines       []string
	writeStatus int
	pingStatus  int
	query       string
}

func newFakeInflux(t *testing.T) (*fakeInflux, *httptest.Server) {
	t.Helper()
	f := &fakeInflux{writeStatus: http.StatusNoContent, pingStatus: http.StatusNoContent}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(f.pingStatus)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.query = r.URL.RawQuery
			if f.writeStatus != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(f.writeStatus)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected by test"}`))
				return
			}
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeInflux) set(fn func(*fakeInflux)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// waitLine waits until a recorded line contains every fragment.
func (f *fakeInflux) waitLine(t *testing.T, fragments ...string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, line := range f.lines {
			if containsAll(line, fragments) {
				f.mu.Unlock()
				return line
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("no line with %q; got %q", fragments, f.lines)
	return ""
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "homenet",
		Bucket:        "telemetry",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, url string) *influxdb.Client {
	t.Helper()
	c, err := influxdb.Connect(testConfig(url))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false
	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, srv := newFakeInflux(t)
	url := srv.URL
	srv.Close()

	if _, err := influxdb.Connect(testConfig(url)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_NotReady(t *testing.T) {
	f, srv := newFakeInflux(t)
	f.set(func(f *fakeInflux) { f.pingStatus = http.StatusServiceUnavailable })

	if _, err := influxdb.Connect(testConfig(srv.URL)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestRecordChange(t *testing.T) {
	f, srv := newFakeInflux(t)
	c := connect(t, srv.URL)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := c.RecordChange(context.Background(), "::0E11", "light", "0.onoff", true, at); err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}
	if err := c.RecordChange(context.Background(), "::0E11", "light", "0.name", "Hall", at); err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}
	// Values without a field mapping are dropped.
	if err := c.RecordChange(context.Background(), "::0E11", "light", "raw", []byte{1}, at); err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}
	c.Flush()

	f.waitLine(t, "ksx_property,address=::0E11,kind=light,property=0.onoff", "value=1", "1772366400000000000")
	f.waitLine(t, "property=0.name", `text="Hall"`)

	f.mu.Lock()
	query := f.query
	f.mu.Unlock()
	if !strings.Contains(query, "org=homenet") || !strings.Contains(query, "bucket=telemetry") {
		t.Errorf("write query = %q, want org and bucket", query)
	}
	if queued, _ := c.Stats(); queued != 2 {
		t.Errorf("Stats() queued = %d, want 2", queued)
	}
}

func TestWriteNetworkStats(t *testing.T) {
	f, srv := newFakeInflux(t)
	c := connect(t, srv.URL)

	c.WriteNetworkStats("ksx", map[string]interface{}{
		"frames_rx":      int64(1200),
		"link_connected": true,
	})
	c.WriteNetworkStats("ksx", nil)
	c.Flush()

	f.waitLine(t, "ksx_network,bridge=ksx", "frames_rx=1200i", "link_connected=true")
	if queued, _ := c.Stats(); queued != 1 {
		t.Errorf("Stats() queued = %d, want 1 (empty stats are skipped)", queued)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	f, srv := newFakeInflux(t)
	c := connect(t, srv.URL)
	f.set(func(f *fakeInflux) { f.writeStatus = http.StatusBadRequest })

	got := make(chan error, 4)
	c.SetOnError(func(err error) { got <- err })

	c.WriteNetworkStats("ksx", map[string]interface{}{"frames_rx": int64(1)})
	c.Flush()

	select {
	case err := <-got:
		if err == nil {
			t.Error("callback got a nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("write error never reached the callback")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, failed := c.Stats(); failed > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Stats() failed batches = 0 after a rejected write")
}

func TestHealthCheck(t *testing.T) {
	f, srv := newFakeInflux(t)
	c := connect(t, srv.URL)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	f.set(func(f *fakeInflux) { f.pingStatus = http.StatusServiceUnavailable })
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() succeeded against a server that is not ready")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.set(func(f *fakeInflux) { f.pingStatus = http.StatusNoContent })
	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() succeeded with a cancelled context")
	}
}

func TestClose(t *testing.T) {
	f, srv := newFakeInflux(t)
	c, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	c.WriteNetworkStats("ksx", map[string]interface{}{"frames_rx": int64(5)})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Close flushes what was queued.
	f.waitLine(t, "frames_rx=5i")

	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}

	// Writes after Close are dropped.
	c.WriteNetworkStats("ksx", map[string]interface{}{"frames_rx": int64(6)})
	c.Flush()
	if queued, _ := c.Stats(); queued != 1 {
		t.Errorf("Stats() queued = %d after Close, want 1", queued)
	}

	var nilClient *influxdb.Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
