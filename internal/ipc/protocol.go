// Package ipc exposes the playback engine over a newline-delimited JSON
// protocol on a unix socket.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus          CommandType = "status"
	CmdPlay            CommandType = "play"
	CmdPause           CommandType = "pause"
	CmdTogglePlayPause CommandType = "togglePlayPause"
	CmdStop            CommandType = "stop"
	CmdNext            CommandType = "next"
	CmdPrevious        CommandType = "previous"
	CmdSeek            CommandType = "seek"
	CmdVolume          CommandType = "volume"

	// Queue management commands
	CmdGetQueue         CommandType = "getQueue"
	CmdSetQueue         CommandType = "setQueue"
	CmdSetRepeat        CommandType = "setRepeat"
	CmdSetShuffle       CommandType = "setShuffle"
	CmdQueueJump        CommandType = "queueJump"
	CmdEnqueueNext      CommandType = "enqueueNext"
	CmdEnqueueEnd       CommandType = "enqueueEnd"
	CmdQueueMove        CommandType = "queueMove"
	CmdQueueRemove      CommandType = "queueRemove"
	CmdQueueRemoveTrack CommandType = "queueRemoveTrack"
	CmdClearQueue       CommandType = "clearQueue"

	// History
	CmdHistory         CommandType = "history"
	CmdPlayFromHistory CommandType = "playFromHistory"

	// Push subscriptions
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"
)

// Push message types
const (
	PushState    = "state"
	PushTime     = "time"
	PushQueue    = "queue"
	PushSpectrum = "spectrum"
)

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request. ID is echoed on the response so
// clients can match replies among pushed messages.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SetQueueRequest replaces the queue with catalog ids or inline items.
// IDs win when both are given. Play defaults to true.
type SetQueueRequest struct {
	IDs    []int64              `json:"ids,omitempty"`
	Items  []types.PlaybackItem `json:"items,omitempty"`
	Start  int                  `json:"start"`
	Play   *bool                `json:"play,omitempty"`
	Source string               `json:"source,omitempty"`
}

// ShouldPlay resolves the Play default
func (r SetQueueRequest) ShouldPlay() bool {
	return r.Play == nil || *r.Play
}

// EnqueueRequest is the data for enqueueNext and enqueueEnd
type EnqueueRequest struct {
	IDs   []int64              `json:"ids,omitempty"`
	Items []types.PlaybackItem `json:"items,omitempty"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position float64 `json:"position"` // seconds
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Volume float64 `json:"volume"` // 0.0 - 1.0
}

// SetRepeatRequest is the data for a setRepeat command
type SetRepeatRequest struct {
	Mode string `json:"mode"` // "off", "one", "all"
}

// SetShuffleRequest is the data for a setShuffle command
type SetShuffleRequest struct {
	Enabled bool `json:"enabled"`
}

// QueueJumpRequest is the data for a queueJump command
type QueueJumpRequest struct {
	Index int `json:"index"`
}

// QueueMoveRequest moves the entries at From before To
type QueueMoveRequest struct {
	From []int `json:"from"`
	To   int   `json:"to"`
}

// QueueRemoveRequest is the data for a queueRemove command
type QueueRemoveRequest struct {
	Index int `json:"index"`
}

// QueueRemoveTrackRequest removes every entry of a catalog track
type QueueRemoveTrackRequest struct {
	TrackID int64 `json:"trackId"`
}

// HistoryRequest is the data for a history command
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// PlayFromHistoryRequest names the item to play
type PlayFromHistoryRequest struct {
	Source        types.Source `json:"source"`
	SourceTrackID string       `json:"sourceTrackId"`
}

// Key returns the requested item identity
func (r PlayFromHistoryRequest) Key() types.ItemKey {
	return types.ItemKey{Source: r.Source, SourceTrackID: r.SourceTrackID}
}

// SubscribeRequest selects what is pushed to the connection
type SubscribeRequest struct {
	Spectrum bool `json:"spectrum"`
}

// SubscribeResponse is the response to subscribe and unsubscribe
type SubscribeResponse struct {
	Subscribed   bool   `json:"subscribed"`
	ConnectionID string `json:"connectionId"`
}

// GetQueueResponse is the response to a getQueue command
type GetQueueResponse struct {
	Items   []types.PlaybackItem `json:"items"`
	Index   int                  `json:"index"`
	Repeat  string               `json:"repeat"`
	Shuffle bool                 `json:"shuffle"`
}

// HistoryEntry is one row of the history response
type HistoryEntry struct {
	Source        types.Source `json:"source"`
	SourceTrackID string       `json:"sourceTrackId"`
	TrackID       int64        `json:"trackId,omitempty"`
	PlayedAt      int64        `json:"playedAt"` // unix ms
	Position      float64      `json:"position"`
}

// HistoryResponse is the response to a history command
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// SpectrumPush carries band levels with the playback position they were
// computed at
type SpectrumPush struct {
	Levels    []float64 `json:"levels"`
	Position  float64   `json:"position"`
	Timestamp int64     `json:"timestamp"` // unix ms
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.Cmd == "" {
		return nil, fmt.Errorf("failed to decode request: missing cmd")
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// DecodeData unmarshals the request payload into v. An empty payload leaves
// v untouched.
func (r *Request) DecodeData(v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("invalid %s data: %w", r.Cmd, err)
	}
	return nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a newline-free push message
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(PushMessage{
		Type: msgType,
		Data: rawData,
	})
}
