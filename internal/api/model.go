package api

import "github.com/jotoft/loopback-visualizer/internal/capture"

type StatsResponse struct {
	Capture   capture.Status `json:"capture"`
	PhaseLock bool           `json:"phaseLock"`
	Streams   int            `json:"streams"`
	FrameSeq  uint64         `json:"frameSeq"`
}

type PhaseLockRequest struct {
	Enabled *bool `json:"enabled"`
}

type PhaseLockResponse struct {
	Enabled bool `json:"enabled"`
}

type CreateStreamResponse struct {
	StreamID   string      `json:"streamId"`
	SdpOffer   string      `json:"sdpOffer"`
	IceServers []IceServer `json:"iceServers"`
}

type IceServer struct {
	URLs     []string `json:"urls"`
	Username string   `json:"username,omitempty"`
}

type AnswerRequest struct {
	SdpAnswer string `json:"sdpAnswer"`
}

type errorResponse struct {
	Error string `json:"error"`
}
