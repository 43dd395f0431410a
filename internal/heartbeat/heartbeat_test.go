package heartbeat

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/wallet"
	"github.com/Klingon-tech/klingnet-staker/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staker/pkg/types"
)

func init() {
	log.Init("error", false, "")
}

type fakeSource struct{ block atomic.Uint64 }

func (s *fakeSource) CurrentBlock() uint64 { return s.block.Load() }

type recordingReporter struct {
	mu       sync.Mutex
	contexts []string
}

func (r *recordingReporter) Report(_ error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, context)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func testIdentity(t *testing.T) *wallet.Identity {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cold := types.Address{0xaa, 0xbb}
	return &wallet.Identity{ColdWallet: &cold, Hot: key}
}

// authority is a fake staking authority answering every keepalive with
// status and message.
type authority struct {
	srv      *httptest.Server
	hits     atomic.Int32
	mu       sync.Mutex
	lastReq  *http.Request
	lastBody []byte
}

func newAuthority(t *testing.T, status int, message string) *authority {
	t.Helper()
	a := &authority{}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		a.mu.Lock()
		a.lastReq = r
		a.lastBody = body
		a.mu.Unlock()
		a.hits.Add(1)
		w.WriteHeader(status)
		if message != "" {
			json.NewEncoder(w).Encode(map[string]string{"message": message})
		}
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func newMockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return c
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without block source")
	}
	if _, err := New(Config{Source: &fakeSource{}, Identity: testIdentity(t)}); err == nil {
		t.Error("expected error for staking identity without host")
	}
	e := newEngine(t, Config{Source: &fakeSource{}})
	if e.cfg.Interval != DefaultInterval || e.cfg.StaleThreshold != DefaultStaleThreshold || e.cfg.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("defaults not applied: %+v", e.cfg)
	}
}

func TestTick_NoIdentityIsOnlineWithoutRequest(t *testing.T) {
	auth := newAuthority(t, http.StatusOK, "")
	src := &fakeSource{}
	src.block.Store(7)
	e := newEngine(t, Config{Host: auth.srv.URL, Source: src, Identity: &wallet.Identity{}, Clock: newMockClock()})

	out := e.Tick(context.Background())
	if !out.Online {
		t.Error("node without identity should report online")
	}
	if out.Message != MessageStakingDisabled {
		t.Errorf("message = %q", out.Message)
	}
	if out.Block != 7 {
		t.Errorf("block = %d, want 7", out.Block)
	}
	if auth.hits.Load() != 0 {
		t.Errorf("authority got %d requests, want 0", auth.hits.Load())
	}
	if !e.State().HasBeenOnline {
		t.Error("HasBeenOnline should be set")
	}
}

func TestTick_SignedKeepalive(t *testing.T) {
	auth := newAuthority(t, http.StatusOK, "welcome")
	src := &fakeSource{}
	src.block.Store(1234)
	clk := newMockClock()
	id := testIdentity(t)
	e := newEngine(t, Config{
		Host:      auth.srv.URL + "/",
		Challenge: "nonce-42",
		Version:   "0.1.0",
		Identity:  id,
		Source:    src,
		Clock:     clk,
	})

	out := e.Tick(context.Background())
	if !out.Online || out.Status != http.StatusOK {
		t.Fatalf("outcome = %+v, want online 200", out)
	}

	auth.mu.Lock()
	req, body := auth.lastReq, auth.lastBody
	auth.mu.Unlock()

	if req.Method != http.MethodPost || req.URL.Path != "/keepalive" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if got := req.Header.Get(HeaderColdWallet); got != id.ColdWallet.String() {
		t.Errorf("cold wallet header = %q", got)
	}
	if got := req.Header.Get(HeaderChallenge); got != "nonce-42" {
		t.Errorf("challenge header = %q", got)
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Version != "0.1.0" || p.BlockNumber != 1234 || p.Timestamp != clk.Now().UnixMilli() {
		t.Errorf("payload = %+v", p)
	}

	ts := req.Header.Get(HeaderTimestamp)
	if ts != "1772366400000" {
		t.Errorf("timestamp header = %q", ts)
	}
	pub, err := hex.DecodeString(req.Header.Get(HeaderPubKey))
	if err != nil {
		t.Fatal(err)
	}
	sig, err := hex.DecodeString(req.Header.Get(HeaderSignature))
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.VerifyMessage(SigningBytes(ts, body, "nonce-42"), sig, pub) {
		t.Error("signature does not verify")
	}
	if crypto.VerifyMessage(SigningBytes(ts, body, ""), sig, pub) {
		t.Error("signature should bind the challenge")
	}
}

func TestTick_NoChallengeHeaderWhenUnset(t *testing.T) {
	auth := newAuthority(t, http.StatusOK, "")
	e := newEngine(t, Config{Host: auth.srv.URL, Identity: testIdentity(t), Source: &fakeSource{}, Clock: newMockClock()})
	e.Tick(context.Background())

	auth.mu.Lock()
	defer auth.mu.Unlock()
	if _, ok := auth.lastReq.Header[HeaderChallenge]; ok {
		t.Error("challenge header should be absent")
	}
}

func TestTick_RejectedIsOffline(t *testing.T) {
	auth := newAuthority(t, http.StatusForbidden, "cold wallet not registered")
	statusFile := filepath.Join(t.TempDir(), "heartbeat.json")
	e := newEngine(t, Config{
		Host:       auth.srv.URL,
		Identity:   testIdentity(t),
		Source:     &fakeSource{},
		Clock:      newMockClock(),
		StatusFile: statusFile,
	})

	out := e.Tick(context.Background())
	if out.Online {
		t.Error("403 should be offline")
	}
	if out.Status != http.StatusForbidden || out.Message != "cold wallet not registered" {
		t.Errorf("outcome = %+v", out)
	}
	if e.State().HasBeenOnline {
		t.Error("HasBeenOnline should stay false")
	}

	got, err := ReadStatusFile(statusFile)
	if err != nil {
		t.Fatalf("ReadStatusFile: %v", err)
	}
	if *got != out {
		t.Errorf("status file = %+v, want %+v", *got, out)
	}
}

func TestTick_RejectedWithoutMessage(t *testing.T) {
	auth := newAuthority(t, http.StatusServiceUnavailable, "")
	e := newEngine(t, Config{Host: auth.srv.URL, Identity: testIdentity(t), Source: &fakeSource{}, Clock: newMockClock()})

	out := e.Tick(context.Background())
	if out.Message != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("message = %q", out.Message)
	}
}

func TestTick_TransportErrorIsReported(t *testing.T) {
	rep := &recordingReporter{}
	e := newEngine(t, Config{
		Host:     "http://authority.invalid",
		Identity: testIdentity(t),
		Source:   &fakeSource{},
		Client:   failingDoer{},
		Clock:    newMockClock(),
		Reporter: rep,
	})

	out := e.Tick(context.Background())
	if out.Online || out.Status != 0 {
		t.Errorf("outcome = %+v, want offline with no status", out)
	}
	if !strings.Contains(out.Message, "connection refused") {
		t.Errorf("message = %q", out.Message)
	}
	if rep.count() != 1 {
		t.Errorf("reports = %d, want 1", rep.count())
	}
}

func TestStaleness_ResetsOnAdvance(t *testing.T) {
	src := &fakeSource{}
	src.block.Store(100)
	clk := newMockClock()
	e := newEngine(t, Config{Source: src, Clock: clk})
	ctx := context.Background()

	e.Tick(ctx)
	if s := e.State(); s.LastBlock != 100 || s.Stale != 0 {
		t.Fatalf("state after first tick = %+v", s)
	}

	clk.Add(60 * time.Second)
	e.Tick(ctx)
	if s := e.State(); s.Stale != 60*time.Second {
		t.Errorf("stale = %v, want 60s", s.Stale)
	}

	clk.Add(30 * time.Second)
	e.Tick(ctx)
	if s := e.State(); s.Stale != 90*time.Second {
		t.Errorf("stale = %v, want 90s", s.Stale)
	}

	src.block.Store(101)
	clk.Add(30 * time.Second)
	e.Tick(ctx)
	s := e.State()
	if s.Stale != 0 || s.LastBlock != 101 || !s.LastBlockAt.Equal(clk.Now()) {
		t.Errorf("state after advance = %+v", s)
	}
}

func TestStaleness_RequiresPriorOnline(t *testing.T) {
	auth := newAuthority(t, http.StatusForbidden, "")
	downtime := filepath.Join(t.TempDir(), "downtime.log")
	clk := newMockClock()
	e := newEngine(t, Config{
		Host:         auth.srv.URL,
		Identity:     testIdentity(t),
		Source:       &fakeSource{},
		Clock:        clk,
		DowntimeFile: downtime,
	})

	e.Tick(context.Background())
	clk.Add(10 * time.Minute)
	e.Tick(context.Background())

	if s := e.State(); s.Stale != 0 {
		t.Errorf("stale = %v, want 0 before first online", s.Stale)
	}
	if _, err := os.Stat(downtime); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("downtime log should not exist, stat err = %v", err)
	}
}

func TestDowntime_Threshold(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		records int
	}{
		{"below", 179 * time.Second, 0},
		{"exactly", 180 * time.Second, 0},
		{"above", 181 * time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			src.block.Store(100)
			clk := newMockClock()
			start := clk.Now()
			downtime := filepath.Join(t.TempDir(), "downtime.log")
			reg := prometheus.NewRegistry()
			m := NewMetrics(reg)
			e := newEngine(t, Config{Source: src, Clock: clk, DowntimeFile: downtime, Metrics: m})

			e.Tick(context.Background())
			clk.Add(tt.elapsed)
			e.Tick(context.Background())

			data, err := os.ReadFile(downtime)
			if tt.records == 0 {
				if !errors.Is(err, os.ErrNotExist) {
					t.Errorf("downtime log should not exist, err = %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("read downtime log: %v", err)
				}
				lines := strings.Split(strings.TrimSpace(string(data)), "\n")
				if len(lines) != tt.records {
					t.Fatalf("records = %d, want %d", len(lines), tt.records)
				}
				want := clk.Now().Format(time.RFC3339) + " stale for 3m1s since block 100 last advanced at " + start.Format(time.RFC3339)
				if lines[0] != want {
					t.Errorf("record = %q\nwant     %q", lines[0], want)
				}
			}
			if got := testutil.ToFloat64(m.downtime); int(got) != tt.records {
				t.Errorf("downtime counter = %v, want %d", got, tt.records)
			}
		})
	}
}

func TestDowntime_AppendsEveryStaleTick(t *testing.T) {
	src := &fakeSource{}
	src.block.Store(5)
	clk := newMockClock()
	downtime := filepath.Join(t.TempDir(), "downtime.log")
	e := newEngine(t, Config{Source: src, Clock: clk, DowntimeFile: downtime})

	e.Tick(context.Background())
	for i := 0; i < 3; i++ {
		clk.Add(2 * time.Minute)
		e.Tick(context.Background())
	}

	data, err := os.ReadFile(downtime)
	if err != nil {
		t.Fatal(err)
	}
	// Stale at 2m, 4m, 6m: the last two cross the threshold.
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("records = %d, want 2", n)
	}
}

func TestMetrics_TickResults(t *testing.T) {
	auth := newAuthority(t, http.StatusForbidden, "")
	m := NewMetrics(prometheus.NewRegistry())
	e := newEngine(t, Config{Host: auth.srv.URL, Identity: testIdentity(t), Source: &fakeSource{}, Clock: newMockClock(), Metrics: m})
	e.Tick(context.Background())
	e.Tick(context.Background())

	if got := testutil.ToFloat64(m.ticks.WithLabelValues("offline")); got != 2 {
		t.Errorf("offline ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.online); got != 0 {
		t.Errorf("online gauge = %v, want 0", got)
	}
}

func TestRun_TicksImmediatelyThenOnInterval(t *testing.T) {
	auth := newAuthority(t, http.StatusInternalServerError, "")
	clk := newMockClock()
	e := newEngine(t, Config{Host: auth.srv.URL, Identity: testIdentity(t), Source: &fakeSource{}, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitForTicks(t, e, 1)
	if auth.hits.Load() != 1 {
		t.Fatalf("hits = %d after first tick", auth.hits.Load())
	}

	// Offline outcomes never stop the loop.
	clk.Add(DefaultInterval)
	waitForTicks(t, e, 2)
	clk.Add(DefaultInterval)
	waitForTicks(t, e, 3)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRemoveStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	if err := RemoveStatusFile(path); err != nil {
		t.Errorf("missing file: %v", err)
	}
	e := newEngine(t, Config{Source: &fakeSource{}, Clock: newMockClock(), StatusFile: path})
	e.Tick(context.Background())
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	if err := e.RemoveStatusFile(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("status file still present")
	}
}

func TestDowntime_RecordedWhileAuthorityUnreachable(t *testing.T) {
	auth := newAuthority(t, http.StatusOK, "")
	src := &fakeSource{}
	src.block.Store(100)
	clk := newMockClock()
	downtime := filepath.Join(t.TempDir(), "downtime.log")
	rep := &recordingReporter{}
	e := newEngine(t, Config{
		Host:         auth.srv.URL,
		Identity:     testIdentity(t),
		Source:       src,
		Clock:        clk,
		Reporter:     rep,
		DowntimeFile: downtime,
	})

	if out := e.Tick(context.Background()); !out.Online {
		t.Fatalf("first tick offline: %+v", out)
	}

	e.cfg.Client = failingDoer{}
	clk.Add(181 * time.Second)
	out := e.Tick(context.Background())
	if out.Online {
		t.Error("tick against an unreachable authority should be offline")
	}

	data, err := os.ReadFile(downtime)
	if err != nil {
		t.Fatalf("read downtime log: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
	if rep.count() == 0 {
		t.Error("transport error not reported")
	}
}

// blockingDoer holds every request until release is closed.
type blockingDoer struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDoer) Do(*http.Request) (*http.Response, error) {
	close(d.entered)
	<-d.release
	return nil, errors.New("connection reset")
}

func TestStop_InFlightTickDoesNotRewriteStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	doer := &blockingDoer{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEngine(t, Config{
		Host:       "http://authority.invalid",
		Identity:   testIdentity(t),
		Source:     &fakeSource{},
		Client:     doer,
		Clock:      newMockClock(),
		StatusFile: path,
	})

	done := make(chan struct{})
	go func() {
		e.Tick(context.Background())
		close(done)
	}()
	<-doer.entered

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(doer.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not finish")
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("status file present after Stop, stat err = %v", err)
	}
	if e.State().Ticks != 1 {
		t.Errorf("ticks = %d, want 1", e.State().Ticks)
	}
}

func waitForTicks(t *testing.T, e *Engine, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.State().Ticks < n {
		if time.Now().After(deadline) {
			t.Fatalf("ticks = %d, want %d", e.State().Ticks, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
