package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/capture"
	"github.com/jotoft/loopback-visualizer/internal/engine"
	"github.com/jotoft/loopback-visualizer/internal/stream"
)

type fakeEngine struct {
	frame     *engine.Frame
	phaseLock bool
}

func (f *fakeEngine) Latest() *engine.Frame { return f.frame }

func (f *fakeEngine) SetPhaseLock(enabled bool) { f.phaseLock = enabled }

func (f *fakeEngine) PhaseLock() bool { return f.phaseLock }

type fakeCapture struct{}

func (fakeCapture) Status() capture.Status {
	return capture.Status{ID: "c1", Backend: "synthetic", State: capture.StateRunning,
		Stats: capture.Stats{BufferCapacity: 1024, TotalSamplesCaptured: 512}}
}

type fakeStreams struct {
	streams map[string]bool
	max     int
	answers map[string]string
}

func newFakeStreams(max int) *fakeStreams {
	return &fakeStreams{streams: map[string]bool{}, max: max, answers: map[string]string{}}
}

func (f *fakeStreams) CreateStream(ctx context.Context) (string, string, error) {
	if len(f.streams) >= f.max {
		return "", "", stream.ErrTooManyStreams
	}
	id := "s" + string(rune('0'+len(f.streams)))
	f.streams[id] = true
	return id, "v=0 offer", nil
}

func (f *fakeStreams) SetAnswer(id, sdp string) error {
	if !f.streams[id] {
		return stream.ErrStreamNotFound
	}
	f.answers[id] = sdp
	return nil
}

func (f *fakeStreams) Delete(id string) bool {
	ok := f.streams[id]
	delete(f.streams, id)
	return ok
}

func (f *fakeStreams) Count() int { return len(f.streams) }

func (f *fakeStreams) ICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}
}

func testFrame() *engine.Frame {
	return &engine.Frame{
		Seq:        7,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		SampleRate: 44100,
		PhaseLock:  true,
		Bands: []engine.BandFrame{{
			Name:   "main",
			Window: []float32{0, 0.5, 1},
		}},
		Spectrum:          []float64{0, 1, 0},
		DominantFrequency: 440,
	}
}

func newServer(e *fakeEngine, s Streams) *httptest.Server {
	h := NewHandlers(e, fakeCapture{}, s, zap.NewNop())
	return httptest.NewServer(h.Router())
}

func do(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newServer(&fakeEngine{}, nil)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestStats(t *testing.T) {
	srv := newServer(&fakeEngine{frame: testFrame(), phaseLock: true}, newFakeStreams(2))
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/v1/stats", "", nil)
	var stats StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Capture.Backend != "synthetic" || stats.Capture.Stats.TotalSamplesCaptured != 512 {
		t.Errorf("unexpected capture status: %+v", stats.Capture)
	}
	if !stats.PhaseLock || stats.FrameSeq != 7 || stats.Streams != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFrameBeforeFirstTick(t *testing.T) {
	srv := newServer(&fakeEngine{}, nil)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/v1/frame", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestFrameJSON(t *testing.T) {
	srv := newServer(&fakeEngine{frame: testFrame()}, nil)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/v1/frame", "", nil)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON, got %s", ct)
	}
	var f engine.Frame
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Seq != 7 || f.DominantFrequency != 440 || len(f.Bands[0].Window) != 3 {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestFrameMsgpack(t *testing.T) {
	srv := newServer(&fakeEngine{frame: testFrame()}, nil)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/v1/frame", "",
		map[string]string{"Accept": "application/msgpack;q=0.9, application/json;q=0.5"})
	if ct := resp.Header.Get("Content-Type"); ct != msgpackContentType {
		t.Fatalf("expected msgpack, got %s", ct)
	}
	var f engine.Frame
	if err := msgpack.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Seq != 7 || !f.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected frame: seq=%d ts=%v", f.Seq, f.Timestamp)
	}
}

func TestAcceptsMsgpack(t *testing.T) {
	cases := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"application/json", false},
		{"application/msgpack", true},
		{"text/html, application/x-msgpack", true},
		{"application/msgpackish", false},
		{"application/json;q=1, application/msgpack;q=0.1", true},
	}
	for _, c := range cases {
		if got := acceptsMsgpack(c.accept); got != c.want {
			t.Errorf("acceptsMsgpack(%q) = %v, want %v", c.accept, got, c.want)
		}
	}
}

func TestPhaseLock(t *testing.T) {
	e := &fakeEngine{phaseLock: true}
	srv := newServer(e, nil)
	defer srv.Close()

	resp := do(t, http.MethodPut, srv.URL+"/v1/phaselock", `{"enabled":false}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if e.phaseLock {
		t.Error("expected phase lock disabled")
	}

	resp = do(t, http.MethodGet, srv.URL+"/v1/phaselock", "", nil)
	var pl PhaseLockResponse
	json.NewDecoder(resp.Body).Decode(&pl)
	if pl.Enabled {
		t.Error("expected GET to report disabled")
	}

	resp = do(t, http.MethodPut, srv.URL+"/v1/phaselock", `{}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing field, got %d", resp.StatusCode)
	}
}

func TestStreamSignaling(t *testing.T) {
	streams := newFakeStreams(1)
	srv := newServer(&fakeEngine{}, streams)
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/streams", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created CreateStreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.StreamID == "" || created.SdpOffer == "" || len(created.IceServers) != 1 {
		t.Errorf("unexpected response: %+v", created)
	}

	resp = do(t, http.MethodPost, srv.URL+"/v1/streams", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 at capacity, got %d", resp.StatusCode)
	}

	url := srv.URL + "/v1/streams/" + created.StreamID
	resp = do(t, http.MethodPost, url+"/answer", `{"sdpAnswer":"v=0 answer"}`, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if streams.answers[created.StreamID] != "v=0 answer" {
		t.Error("answer not forwarded")
	}

	resp = do(t, http.MethodPost, url+"/answer", `{}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/v1/streams/nope/answer", `{"sdpAnswer":"x"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, url, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if streams.Count() != 0 {
		t.Error("expected stream deleted")
	}
}

func TestStreamsDisabled(t *testing.T) {
	srv := newServer(&fakeEngine{}, nil)
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/streams", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(&fakeEngine{}, nil)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newServer(&fakeEngine{}, nil)
	defer srv.Close()

	resp := do(t, http.MethodOptions, srv.URL+"/v1/phaselock", "", map[string]string{
		"Origin":                        "http://example.org",
		"Access-Control-Request-Method": "PUT",
	})
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}
