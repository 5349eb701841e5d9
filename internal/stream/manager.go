// Package stream pushes analysis frames to browsers over WebRTC data
// channels. The server makes the offer; each stream gets an unreliable
// "frames" channel carrying msgpack frames and a reliable "control" channel
// carrying JSON envelopes.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/engine"
	"github.com/jotoft/loopback-visualizer/internal/metrics"
)

const (
	iceGatherTimeout  = 10 * time.Second
	maxBufferedAmount = 1 << 20
	subscriberBuffer  = 4

	framesLabel  = "frames"
	controlLabel = "control"
)

var (
	ErrTooManyStreams = errors.New("stream limit reached")
	ErrStreamNotFound = errors.New("stream not found")
)

// FrameSource is the engine surface a stream needs.
type FrameSource interface {
	Subscribe(buffer int) *engine.Subscription
	Unsubscribe(s *engine.Subscription)
	SetPhaseLock(enabled bool)
	PhaseLock() bool
}

// Options configures the manager.
type Options struct {
	STUNServers []string
	MaxStreams  int
	// MaxFPS caps frames sent per stream; engine frames in between are
	// skipped.
	MaxFPS int
	// AnswerTimeout deletes streams that have not connected in time.
	AnswerTimeout time.Duration
	// IncludeLoopback gathers loopback ICE candidates, for same-host peers.
	IncludeLoopback bool
}

// DefaultOptions allows 8 streams at 60 frames per second.
func DefaultOptions() Options {
	return Options{
		STUNServers:   []string{"stun:stun.l.google.com:19302"},
		MaxStreams:    8,
		MaxFPS:        60,
		AnswerTimeout: 30 * time.Second,
	}
}

type binarySender interface {
	Send(data []byte) error
	BufferedAmount() uint64
}

type textSender interface {
	SendText(s string) error
}

// Stream is one connected (or connecting) browser.
type Stream struct {
	ID string

	pc        *webrtc.PeerConnection
	control   textSender
	router    *Router
	connected atomic.Bool
	timer     *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger
}

// Manager owns every stream's peer connection.
type Manager struct {
	opts   Options
	api    *webrtc.API
	src    FrameSource
	logger *zap.Logger

	mu      sync.RWMutex
	streams map[string]*Stream
}

var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// New creates a Manager with the default RTCP interceptors registered.
func New(opts Options, src FrameSource, logger *zap.Logger) (*Manager, error) {
	d := DefaultOptions()
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = d.MaxStreams
	}
	if opts.MaxFPS <= 0 {
		opts.MaxFPS = d.MaxFPS
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = d.AnswerTimeout
	}

	m := &webrtc.MediaEngine{}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	return &Manager{
		opts:    opts,
		api:     api,
		src:     src,
		logger:  logger,
		streams: make(map[string]*Stream),
	}, nil
}

// Count returns the current number of streams.
func (mg *Manager) Count() int {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	return len(mg.streams)
}

// ICEServers returns the configured STUN servers as WebRTC config objects.
func (mg *Manager) ICEServers() []webrtc.ICEServer {
	if len(mg.opts.STUNServers) == 0 {
		return nil
	}
	urls := make([]string, len(mg.opts.STUNServers))
	copy(urls, mg.opts.STUNServers)
	return []webrtc.ICEServer{{URLs: urls}}
}

// CreateStream sets up a PeerConnection with both data channels and returns
// the stream ID and the SDP offer for the client to answer.
func (mg *Manager) CreateStream(ctx context.Context) (string, string, error) {
	mg.mu.RLock()
	full := len(mg.streams) >= mg.opts.MaxStreams
	mg.mu.RUnlock()
	if full {
		metrics.StreamsRejectedTotal.Inc()
		return "", "", ErrTooManyStreams
	}

	id := uuid.New().String()
	logger := mg.logger.With(zap.String("stream", id))

	pc, err := mg.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: mg.ICEServers(),
	})
	if err != nil {
		return "", "", fmt.Errorf("create peer connection: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	st := &Stream{ID: id, pc: pc, ctx: sctx, cancel: cancel, logger: logger}

	// Data channels must exist before CreateOffer so SCTP is in the SDP.
	unordered := false
	var noRetransmits uint16
	frames, err := pc.CreateDataChannel(framesLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &noRetransmits,
	})
	if err != nil {
		st.close()
		return "", "", fmt.Errorf("create frames channel: %w", err)
	}
	ordered := true
	control, err := pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		st.close()
		return "", "", fmt.Errorf("create control channel: %w", err)
	}
	st.control = control
	st.router = mg.newRouter(st)

	frames.OnOpen(func() {
		logger.Info("frames channel opened")
		go mg.sendLoop(st, frames)
	})
	control.OnOpen(func() {
		logger.Info("control channel opened")
		mg.sendState(st)
	})
	control.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := st.router.Dispatch(msg.Data); err != nil {
			logger.Warn("dispatch error", zap.Error(err))
			mg.sendError(st, "BAD_MESSAGE", err.Error())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("connection state", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			st.connected.Store(true)
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			// Closing a PeerConnection from its own callback can deadlock.
			go mg.Delete(id)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		st.close()
		return "", "", fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		st.close()
		return "", "", fmt.Errorf("set local description: %w", err)
	}

	gatherDone := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherDone:
	case <-time.After(iceGatherTimeout):
		logger.Warn("ICE gathering timed out, proceeding with partial candidates")
	case <-ctx.Done():
		st.close()
		return "", "", ctx.Err()
	}

	sdp := pc.LocalDescription().SDP

	st.timer = time.AfterFunc(mg.opts.AnswerTimeout, func() {
		if !st.connected.Load() {
			logger.Info("stream not connected before timeout")
			mg.Delete(id)
		}
	})

	mg.mu.Lock()
	if len(mg.streams) >= mg.opts.MaxStreams {
		mg.mu.Unlock()
		st.close()
		metrics.StreamsRejectedTotal.Inc()
		return "", "", ErrTooManyStreams
	}
	mg.streams[id] = st
	mg.mu.Unlock()

	metrics.StreamsCreatedTotal.Inc()
	metrics.ActiveStreams.Inc()

	logger.Info("stream created", zap.Int("sdpLen", len(sdp)))
	return id, sdp, nil
}

// SetAnswer applies the client's SDP answer to the stream's PeerConnection.
func (mg *Manager) SetAnswer(id, sdpAnswer string) error {
	mg.mu.RLock()
	st, ok := mg.streams[id]
	mg.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}

	return st.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
}

// Delete tears down a stream and removes it from the registry. It reports
// whether the stream existed.
func (mg *Manager) Delete(id string) bool {
	mg.mu.Lock()
	st, ok := mg.streams[id]
	if ok {
		delete(mg.streams, id)
	}
	mg.mu.Unlock()

	if ok {
		st.close()
		metrics.ActiveStreams.Dec()
		mg.logger.Info("stream deleted", zap.String("stream", id))
	}
	return ok
}

// Shutdown closes every stream.
func (mg *Manager) Shutdown() {
	mg.mu.Lock()
	streams := mg.streams
	mg.streams = make(map[string]*Stream)
	mg.mu.Unlock()

	for _, st := range streams {
		st.close()
	}
	metrics.ActiveStreams.Set(0)
	mg.logger.Info("stream manager shutdown complete", zap.Int("closed", len(streams)))
}

func (st *Stream) close() {
	st.closeOnce.Do(func() {
		st.cancel()
		if st.timer != nil {
			st.timer.Stop()
		}
		if err := st.pc.Close(); err != nil {
			st.logger.Debug("peer connection close", zap.Error(err))
		}
	})
}

// sendLoop forwards engine frames to the frames channel until the stream
// closes. Frames above MaxFPS or while the channel is backed up are
// skipped.
func (mg *Manager) sendLoop(st *Stream, dc binarySender) {
	sub := mg.src.Subscribe(subscriberBuffer)
	defer mg.src.Unsubscribe(sub)

	minInterval := time.Second / time.Duration(mg.opts.MaxFPS)
	var last time.Time
	for {
		select {
		case <-st.ctx.Done():
			return
		case f, ok := <-sub.C:
			if !ok {
				return
			}
			if !last.IsZero() && f.Timestamp.Sub(last) < minInterval {
				continue
			}
			if dc.BufferedAmount() > maxBufferedAmount {
				metrics.FramesDroppedTotal.WithLabelValues("backpressure").Inc()
				continue
			}
			if err := sendFrame(dc, f); err != nil {
				metrics.FramesDroppedTotal.WithLabelValues("send_error").Inc()
				st.logger.Debug("frame send failed", zap.Error(err))
				if st.ctx.Err() != nil {
					return
				}
				continue
			}
			last = f.Timestamp
			metrics.FramesSentTotal.Inc()
		}
	}
}

func sendFrame(dc binarySender, f *engine.Frame) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := msgpack.NewEncoder(buf).Encode(f); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return dc.Send(buf.Bytes())
}

func (mg *Manager) newRouter(st *Stream) *Router {
	r := NewRouter(st.logger)
	r.Register(TypePhaseLock, func(_ string, payload json.RawMessage) error {
		var cmd ControlPhaseLock
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("phaselock payload: %w", err)
		}
		mg.src.SetPhaseLock(cmd.Enabled)
		mg.sendState(st)
		return nil
	})
	r.Register(TypePing, func(_ string, payload json.RawMessage) error {
		var ping ControlPing
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ping); err != nil {
				return fmt.Errorf("ping payload: %w", err)
			}
		}
		return mg.send(st, TypePong, EventPong{Nonce: ping.Nonce, PhaseLock: mg.src.PhaseLock()})
	})
	return r
}

func (mg *Manager) sendState(st *Stream) {
	if err := mg.send(st, TypeState, EventState{PhaseLock: mg.src.PhaseLock(), MaxFPS: mg.opts.MaxFPS}); err != nil {
		st.logger.Debug("send state", zap.Error(err))
	}
}

func (mg *Manager) sendError(st *Stream, code, message string) {
	if err := mg.send(st, TypeError, EventError{Code: code, Message: message}); err != nil {
		st.logger.Debug("send error event", zap.Error(err))
	}
}

// send wraps payload in an Envelope and writes it to the control channel.
func (mg *Manager) send(st *Stream, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env, err := json.Marshal(Envelope{
		Type:      msgType,
		StreamID:  st.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   json.RawMessage(body),
	})
	if err != nil {
		return err
	}
	return st.control.SendText(string(env))
}
