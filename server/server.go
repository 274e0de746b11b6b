package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/monitor"
	"github.com/samclaus/games/network"
	"github.com/samclaus/games/room"
	"github.com/samclaus/games/session"
	"github.com/samclaus/games/state"
	"golang.org/x/time/rate"
)

const requestTimeout = 5 * time.Second

// Reasons for refusals that happen outside the rule validator.
const (
	ReasonIdentityConflict = "IdentityConflict"
	ReasonRoomNotFound     = "RoomNotFound"
	ReasonRoomClosed       = "RoomClosed"
	ReasonInternal         = "InternalInconsistency"
	ReasonRateLimited      = "RateLimited"
	ReasonServerError      = "ServerError"
)

type Options struct {
	Addr           string
	AllowedOrigins []string
	PingInterval   time.Duration
	SendQueueSize  int
	// RatePerSecond of zero disables the per-connection limiter.
	RatePerSecond float64
	RateBurst     int
	Limits        network.Limits
}

type GameServer struct {
	opts           Options
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	monitor        *monitor.Monitor
	httpServer     *http.Server
	mutex          sync.Mutex
	shutdownChan   chan struct{}
}

func NewGameServer(opts Options, rooms *room.Manager, mon *monitor.Monitor) *GameServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	s := &GameServer{
		opts:           opts,
		roomManager:    rooms,
		sessionManager: session.NewManager(),
		monitor:        mon,
		shutdownChan:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Router returns the HTTP routes: the websocket endpoint, the public room
// list and a liveness check.
func (s *GameServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", s.handleListRooms)
		r.Get("/{id}", s.handleGetRoom)
	})
	return r
}

func (s *GameServer) Start() error {
	s.mutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.httpServer
	s.mutex.Unlock()

	logger.Log.Infof("Game server listening on %s", s.opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drops every open one. Seats are
// released through the normal disconnect path.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
	srv := s.httpServer
	s.mutex.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, sess := range s.sessionManager.All() {
		sess.Kick("server shutting down")
	}
	return err
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.opts.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *GameServer) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.roomManager.List())
}

func (s *GameServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.roomManager.GetRoom(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, network.Rejection{Reason: ReasonRoomNotFound, Message: "no such room"})
		return
	}
	writeJSON(w, http.StatusOK, rm.Summary())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnw("failed to write response", "error", err)
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownChan:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn))
}

func (s *GameServer) handleConnection(wsConn *network.WSConnection) {
	sess := session.NewSession(uuid.New().String(), wsConn, s.opts.SendQueueSize)
	if s.opts.RatePerSecond > 0 {
		sess.Limiter = rate.NewLimiter(rate.Limit(s.opts.RatePerSecond), s.opts.RateBurst)
	}
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	wsConn.SetHeartbeat(s.opts.PingInterval)
	go network.WritePump(wsConn, sess.Outbox(), s.opts.PingInterval)

	logger.Log.Infow("new connection", "remote", wsConn.RemoteAddr().String(), "session", sess.GetID())

	defer func() {
		s.detach(sess)
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlinePlayers()
		sess.Kick("connection closed")
		logger.Log.Infow("connection closed", "remote", wsConn.RemoteAddr().String(), "session", sess.GetID())
	}()

	for {
		packet, err := wsConn.ReadPacket()
		if err != nil {
			return
		}
		s.monitor.IncMessagesReceived()
		sess.Touch()
		wsConn.Touch()
		s.handlePacket(sess, packet)
	}
}

// detach tells the room this connection is gone; the seat stays reserved
// for a reconnect.
func (s *GameServer) detach(sess *session.Session) {
	roomID, _, ok := sess.Identity()
	if !ok {
		return
	}
	sess.Unbind()
	if rm, exists := s.roomManager.GetRoom(roomID); exists {
		rm.Disconnect(sess.GetID())
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	if packet.MsgID == network.MsgTypeHeartbeat {
		return
	}
	if !sess.Allow() {
		s.reject(sess, network.Rejection{Reason: ReasonRateLimited, Message: "too many requests"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch packet.MsgID {
	case network.MsgTypeCreateRoom:
		s.handleCreateRoom(ctx, sess, packet)
	case network.MsgTypeJoinRoom:
		s.handleJoinRoom(ctx, sess, packet)
	case network.MsgTypeLeaveRoom:
		s.handleLeaveRoom(ctx, sess)
	case network.MsgTypeAction:
		s.handleAction(ctx, sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		s.rejectErr(sess, state.Malformed("unknown message type %d", packet.MsgID))
	}
}

func (s *GameServer) handleCreateRoom(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req network.CreateRequest
	if len(packet.Data) > 0 {
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			s.rejectErr(sess, state.Malformed("invalid create request: %v", err))
			return
		}
	}
	if _, _, bound := sess.Identity(); bound {
		s.reject(sess, network.Rejection{Reason: ReasonIdentityConflict, Message: "leave your current room first"})
		return
	}

	rm := s.roomManager.CreateRoom(req.LockTeamsDuringGame)
	res, err := rm.Join(ctx, sess, req.Name)
	if err != nil {
		rm.Close(ctx)
		s.rejectErr(sess, err)
		return
	}
	sess.Bind(res.RoomID, res.Name)
	logger.Log.Infow("room created by session", "session", sess.GetID(), "room", res.RoomID, "name", res.Name)
}

func (s *GameServer) handleJoinRoom(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req network.JoinRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.rejectErr(sess, state.Malformed("invalid join request: %v", err))
		return
	}
	if _, _, bound := sess.Identity(); bound {
		s.reject(sess, network.Rejection{Reason: ReasonIdentityConflict, Message: "leave your current room first"})
		return
	}
	rm, ok := s.roomManager.GetRoom(req.RoomID)
	if !ok {
		s.rejectErr(sess, room.ErrRoomNotFound)
		return
	}

	var (
		res room.JoinResult
		err error
	)
	if req.Token != "" {
		res, err = rm.Reconnect(ctx, sess, req.Name, req.Token)
	} else {
		res, err = rm.Join(ctx, sess, req.Name)
	}
	if err != nil {
		s.rejectErr(sess, err)
		return
	}
	sess.Bind(res.RoomID, res.Name)
	logger.Log.Infow("session joined room", "session", sess.GetID(), "room", res.RoomID, "name", res.Name)
}

func (s *GameServer) handleLeaveRoom(ctx context.Context, sess *session.Session) {
	roomID, _, ok := sess.Identity()
	if !ok {
		return
	}
	sess.Unbind()
	rm, exists := s.roomManager.GetRoom(roomID)
	if !exists {
		return
	}
	if err := rm.Leave(ctx, sess.GetID()); err != nil {
		s.rejectErr(sess, err)
	}
}

func (s *GameServer) handleAction(ctx context.Context, sess *session.Session, packet *network.Packet) {
	roomID, name, ok := sess.Identity()
	if !ok {
		s.rejectErr(sess, &state.Rejection{Reason: state.ReasonUnknownPlayer, Detail: "join a room first"})
		return
	}
	action, err := network.DecodeAction(packet.Data, s.opts.Limits)
	if err != nil {
		s.monitor.ActionRejected(string(state.ReasonMalformedAction))
		s.rejectErr(sess, err)
		return
	}
	rm, exists := s.roomManager.GetRoom(roomID)
	if !exists {
		s.releaseRoom(roomID)
		s.rejectErr(sess, room.ErrRoomClosed)
		return
	}
	if _, err := rm.ApplyFrom(ctx, sess.GetID(), name, action); err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			s.releaseRoom(roomID)
		}
		s.rejectErr(sess, err)
	}
}

// releaseRoom unbinds every session still pointing at a room that has shut
// down, so their next request is treated as coming from a lobby connection.
func (s *GameServer) releaseRoom(roomID string) {
	for _, sess := range s.sessionManager.GetByRoom(roomID) {
		sess.Unbind()
	}
}

func (s *GameServer) rejectErr(sess *session.Session, err error) {
	s.reject(sess, RejectionFor(err))
}

// reject answers the requesting connection only.
func (s *GameServer) reject(sess *session.Session, rej network.Rejection) {
	if err := sess.SendJSON(network.MsgTypeRejection, rej); err != nil {
		logger.Log.Warnw("could not deliver rejection", "session", sess.GetID(), "error", err)
	}
}

// RejectionFor maps an error from a room to its wire form.
func RejectionFor(err error) network.Rejection {
	var rej *state.Rejection
	switch {
	case errors.As(err, &rej):
		return network.Rejection{Reason: string(rej.Reason), Message: rej.Error()}
	case errors.Is(err, room.ErrIdentityConflict):
		return network.Rejection{Reason: ReasonIdentityConflict, Message: err.Error()}
	case errors.Is(err, room.ErrRoomNotFound):
		return network.Rejection{Reason: ReasonRoomNotFound, Message: err.Error()}
	case errors.Is(err, room.ErrRoomClosed):
		return network.Rejection{Reason: ReasonRoomClosed, Message: err.Error()}
	case errors.Is(err, room.ErrInternalInconsistency):
		return network.Rejection{Reason: ReasonInternal, Message: "room is frozen for inspection"}
	}
	logger.Log.Errorw("unexpected request error", "error", err)
	return network.Rejection{Reason: ReasonServerError, Message: "request failed"}
}
