package ipc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/austinkregel/local-media/playerd/internal/engine"
	"github.com/austinkregel/local-media/playerd/internal/logging"
	"github.com/austinkregel/local-media/playerd/internal/spectrum"
	"github.com/austinkregel/local-media/playerd/internal/store"
	"github.com/austinkregel/local-media/playerd/internal/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	writeTimeout        = 2 * time.Second
	defaultSource       = "ipc"
)

// Player is the engine surface the server drives
type Player interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	Queue(ctx context.Context) ([]types.PlaybackItem, int, error)
	Subscribe() (<-chan engine.Event, func())
	SubscribeLevels() (<-chan spectrum.Levels, func())

	SetQueue(ctx context.Context, items []types.PlaybackItem, start int, play bool, label string) error
	SetQueueByIDs(ctx context.Context, ids []int64, start int, play bool, label string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	TogglePlayPause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, at float64) error
	SetVolume(ctx context.Context, volume float64) error
	SetRepeat(ctx context.Context, mode types.RepeatMode) error
	SetShuffle(ctx context.Context, enabled bool) error
	PlayIndex(ctx context.Context, i int) error
	PlayFromHistory(ctx context.Context, key types.ItemKey) error

	EnqueueNext(ctx context.Context, items []types.PlaybackItem) error
	EnqueueEnd(ctx context.Context, items []types.PlaybackItem) error
	MoveQueue(ctx context.Context, fromOffsets []int, toOffset int) error
	RemoveFromQueue(ctx context.Context, i int) error
	RemoveTrackFromQueue(ctx context.Context, trackID int64) error
	ClearQueue(ctx context.Context) error
}

// Library answers catalog and history lookups
type Library interface {
	TracksByIDs(ctx context.Context, ids []int64) ([]types.PlaybackItem, error)
	History(ctx context.Context, limit int) ([]store.HistoryEntry, error)
}

var _ Player = (*engine.Engine)(nil)

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	spectrumHz float64
	player     Player
	library    Library
	logger     logrus.FieldLogger

	ready   chan struct{}
	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// client is one connection. Responses and pushes share the connection, so
// every write goes through send.
type client struct {
	id      string
	conn    net.Conn
	logger  logrus.FieldLogger
	writeMu sync.Mutex

	subMu  sync.Mutex
	cancel func()
}

// NewServer creates a new IPC server. spectrumHz caps spectrum pushes per
// subscriber; zero or less disables the cap.
func NewServer(socketPath string, spectrumHz float64, player Player, library Library, logger logrus.FieldLogger) *Server {
	return &Server{
		socketPath: socketPath,
		spectrumHz: spectrumHz,
		player:     player,
		library:    library,
		logger:     logging.Component(logger, "ipc"),
		ready:      make(chan struct{}),
		clients:    make(map[string]*client),
	}
}

// Ready is closed once the socket accepts connections
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Start listens on the socket and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// User-only access
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.WithField("socket", s.socketPath).Info("Server listening")
	close(s.ready)

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)

	<-ctx.Done()
	s.logger.Info("Shutting down server")

	listener.Close()
	s.mu.Lock()
	count := len(s.clients)
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	os.RemoveAll(s.socketPath)

	s.logger.WithField("clients", count).Info("Server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.WithError(err).Warn("Accept error")
			continue
		}

		c := &client{id: uuid.NewString(), conn: conn}
		c.logger = s.logger.WithField("conn", c.id)

		s.mu.Lock()
		s.clients[c.id] = c
		count := len(s.clients)
		s.mu.Unlock()
		c.logger.WithField("active", count).Info("Client connected")

		s.wg.Add(1)
		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer s.wg.Done()
	defer func() {
		c.unsubscribe()
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.id)
		count := len(s.clients)
		s.mu.Unlock()
		c.logger.WithField("active", count).Info("Client disconnected")
	}()

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.WithError(err).Warn("Read error")
			}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		req, err := DecodeRequest(line)
		if err != nil {
			c.logger.WithError(err).Warn("Invalid request format")
			if err := c.sendResponse(NewErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}

		logRequest(c.logger, req)
		start := time.Now()
		resp := s.handleRequest(ctx, c, req)
		resp.ID = req.ID
		logResponse(c.logger, req, resp, time.Since(start))

		if err := c.sendResponse(resp); err != nil {
			c.logger.WithError(err).Warn("Send error")
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdStatus:
		snap, err := s.player.Snapshot(ctx)
		return respond(snap, err)
	case CmdPlay:
		return done(s.player.Play(ctx))
	case CmdPause:
		return done(s.player.Pause(ctx))
	case CmdTogglePlayPause:
		return done(s.player.TogglePlayPause(ctx))
	case CmdStop:
		return done(s.player.Stop(ctx))
	case CmdNext:
		return done(s.player.Next(ctx))
	case CmdPrevious:
		return done(s.player.Previous(ctx))
	case CmdSeek:
		return s.handleSeek(ctx, req)
	case CmdVolume:
		return s.handleVolume(ctx, req)

	case CmdGetQueue:
		return s.handleGetQueue(ctx)
	case CmdSetQueue:
		return s.handleSetQueue(ctx, req)
	case CmdSetRepeat:
		return s.handleSetRepeat(ctx, req)
	case CmdSetShuffle:
		var r SetShuffleRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		return done(s.player.SetShuffle(ctx, r.Enabled))
	case CmdQueueJump:
		var r QueueJumpRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		return done(s.player.PlayIndex(ctx, r.Index))
	case CmdEnqueueNext, CmdEnqueueEnd:
		return s.handleEnqueue(ctx, req)
	case CmdQueueMove:
		var r QueueMoveRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		return done(s.player.MoveQueue(ctx, r.From, r.To))
	case CmdQueueRemove:
		var r QueueRemoveRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		return done(s.player.RemoveFromQueue(ctx, r.Index))
	case CmdQueueRemoveTrack:
		var r QueueRemoveTrackRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		return done(s.player.RemoveTrackFromQueue(ctx, r.TrackID))
	case CmdClearQueue:
		return done(s.player.ClearQueue(ctx))

	case CmdHistory:
		return s.handleHistory(ctx, req)
	case CmdPlayFromHistory:
		var r PlayFromHistoryRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		if r.Source == "" || r.SourceTrackID == "" {
			return NewErrorResponse("source and sourceTrackId are required")
		}
		return done(s.player.PlayFromHistory(ctx, r.Key()))

	case CmdSubscribe:
		var r SubscribeRequest
		if err := req.DecodeData(&r); err != nil {
			return NewErrorResponse(err.Error())
		}
		s.subscribe(c, r.Spectrum)
		return respond(SubscribeResponse{Subscribed: true, ConnectionID: c.id}, nil)
	case CmdUnsubscribe:
		c.unsubscribe()
		return respond(SubscribeResponse{Subscribed: false, ConnectionID: c.id}, nil)

	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Cmd))
	}
}

func (s *Server) handleSeek(ctx context.Context, req *Request) *Response {
	var r SeekRequest
	if err := req.DecodeData(&r); err != nil {
		return NewErrorResponse(err.Error())
	}
	return done(s.player.Seek(ctx, r.Position))
}

func (s *Server) handleVolume(ctx context.Context, req *Request) *Response {
	var r VolumeRequest
	if err := req.DecodeData(&r); err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.Volume < 0 || r.Volume > 1 {
		return NewErrorResponse("volume must be within [0, 1]")
	}
	return done(s.player.SetVolume(ctx, r.Volume))
}

func (s *Server) handleGetQueue(ctx context.Context) *Response {
	items, index, err := s.player.Queue(ctx)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	snap, err := s.player.Snapshot(ctx)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return respond(queueResponse(items, index, snap), nil)
}

func (s *Server) handleSetQueue(ctx context.Context, req *Request) *Response {
	var r SetQueueRequest
	if err := req.DecodeData(&r); err != nil {
		return NewErrorResponse(err.Error())
	}
	label := r.Source
	if label == "" {
		label = defaultSource
	}
	if len(r.IDs) > 0 {
		return done(s.player.SetQueueByIDs(ctx, r.IDs, r.Start, r.ShouldPlay(), label))
	}
	return done(s.player.SetQueue(ctx, r.Items, r.Start, r.ShouldPlay(), label))
}

func (s *Server) handleSetRepeat(ctx context.Context, req *Request) *Response {
	var r SetRepeatRequest
	if err := req.DecodeData(&r); err != nil {
		return NewErrorResponse(err.Error())
	}
	switch r.Mode {
	case "off", "one", "all":
	default:
		return NewErrorResponse(fmt.Sprintf("invalid repeat mode %q", r.Mode))
	}
	return done(s.player.SetRepeat(ctx, types.ParseRepeatMode(r.Mode)))
}

func (s *Server) handleEnqueue(ctx context.Context, req *Request) *Response {
	var r EnqueueRequest
	if err := req.DecodeData(&r); err != nil {
		return NewErrorResponse(err.Error())
	}

	items := r.Items
	if len(r.IDs) > 0 {
		var err error
		items, err = s.library.TracksByIDs(ctx, r.IDs)
		if err != nil {
			return NewErrorResponse(err.Error())
		}
	}
	if len(items) == 0 {
		return NewErrorResponse("no items to enqueue")
	}

	if req.Cmd == CmdEnqueueNext {
		return done(s.player.EnqueueNext(ctx, items))
	}
	return done(s.player.EnqueueEnd(ctx, items))
}

func (s *Server) handleHistory(ctx context.Context, req *Request) *Response {
	var r HistoryRequest
	if err := req.DecodeData(&r); err != nil {
		return NewErrorResponse(err.Error())
	}
	limit := r.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := s.library.History(ctx, limit)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	entries := make([]HistoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = HistoryEntry{
			Source:        row.Key.Source,
			SourceTrackID: row.Key.SourceTrackID,
			TrackID:       row.TrackID,
			PlayedAt:      row.PlayedAt.UnixMilli(),
			Position:      row.Position,
		}
	}
	return respond(HistoryResponse{Entries: entries}, nil)
}

// subscribe replaces any previous subscription of c. Spectrum frames come
// from a separate latest-wins channel so they never crowd out state pushes.
func (s *Server) subscribe(c *client, withSpectrum bool) {
	c.unsubscribe()

	events, cancelEvents := s.player.Subscribe()
	var (
		levels     <-chan spectrum.Levels
		stopLevels = func() {}
		limiter    *rate.Limiter
	)
	if withSpectrum {
		levels, stopLevels = s.player.SubscribeLevels()
		if s.spectrumHz > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.spectrumHz), 1)
		}
	}

	c.subMu.Lock()
	c.cancel = func() {
		cancelEvents()
		stopLevels()
	}
	c.subMu.Unlock()

	s.wg.Add(1)
	go s.forward(c, events, levels, stopLevels, limiter)
}

// forward pushes engine events to c until the event channel closes
func (s *Server) forward(c *client, events <-chan engine.Event, levels <-chan spectrum.Levels, stopLevels func(), limiter *rate.Limiter) {
	defer s.wg.Done()
	defer stopLevels()

	var position float64
	for {
		var (
			msg []byte
			err error
		)
		select {
		case frame, ok := <-levels:
			if !ok {
				levels = nil
				continue
			}
			if limiter != nil && !limiter.Allow() {
				continue
			}
			msg, err = NewPushMessage(PushSpectrum, SpectrumPush{
				Levels:    frame[:],
				Position:  position,
				Timestamp: time.Now().UnixMilli(),
			})
		case ev, ok := <-events:
			if !ok {
				c.logger.Debug("Subscription ended")
				return
			}
			position = ev.Snapshot.CurrentTime
			switch ev.Kind {
			case engine.EventQueue:
				msg, err = NewPushMessage(PushQueue, queueResponse(ev.Queue, ev.Snapshot.Index, ev.Snapshot))
			case engine.EventTime:
				msg, err = NewPushMessage(PushTime, ev.Snapshot)
			default:
				msg, err = NewPushMessage(PushState, ev.Snapshot)
			}
		}
		if err != nil {
			c.logger.WithError(err).Warn("Failed to encode push message")
			continue
		}
		if err := c.send(msg); err != nil {
			c.logger.WithError(err).Debug("Push failed, ending subscription")
			c.unsubscribe()
		}
	}
}

func queueResponse(items []types.PlaybackItem, index int, snap engine.Snapshot) GetQueueResponse {
	if items == nil {
		items = []types.PlaybackItem{}
	}
	return GetQueueResponse{
		Items:   items,
		Index:   index,
		Repeat:  snap.Repeat,
		Shuffle: snap.Shuffle,
	}
}

func (c *client) unsubscribe() {
	c.subMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.subMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *client) send(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(append(line, '\n'))
	return err
}

func (c *client) sendResponse(resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.send(data)
}

// respond wraps data, or err, in a response
func respond(data interface{}, err error) *Response {
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func done(err error) *Response {
	return respond(nil, err)
}
