package rpc

import (
	"context"
	"net"
	"net/rpc"
	"time"

	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/models"
	"github.com/samclaus/games/room"
	"github.com/samclaus/games/services"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer creates a new RPC server exposing the admin service.
func NewServer(addr string, admin *AdminService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Admin", admin); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the address the listener is bound to.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AdminService is the operator interface over live rooms and their persisted
// history. Methods follow the net/rpc signature.
type AdminService struct {
	rooms   *room.Manager
	history *services.HistoryService
}

func NewAdminService(rooms *room.Manager, history *services.HistoryService) *AdminService {
	return &AdminService{rooms: rooms, history: history}
}

type Empty struct{}

type RoomArgs struct {
	RoomID string
}

type ListRoomsReply struct {
	Rooms []models.RoomSummary
}

func (a *AdminService) ListRooms(_ *Empty, reply *ListRoomsReply) error {
	reply.Rooms = a.rooms.List()
	return nil
}

type FrozenRoomsReply struct {
	RoomIDs []string
}

func (a *AdminService) FrozenRooms(_ *Empty, reply *FrozenRoomsReply) error {
	reply.RoomIDs = a.rooms.Frozen()
	return nil
}

type SnapshotReply struct {
	State models.RoomState
}

// RoomSnapshot works on frozen rooms too; that is how they are inspected.
func (a *AdminService) RoomSnapshot(args *RoomArgs, reply *SnapshotReply) error {
	r, ok := a.rooms.GetRoom(args.RoomID)
	if !ok {
		return room.ErrRoomNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	st, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	reply.State = st
	return nil
}

// CloseRoom discards a room, typically a frozen one after inspection.
func (a *AdminService) CloseRoom(args *RoomArgs, _ *Empty) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return a.rooms.RemoveRoom(ctx, args.RoomID)
}

// HistoryArgs.RoomID and RoomArgs.RoomID, when used for history, accept the
// code of a live room or the storage key of any room, open or closed.
type HistoryArgs struct {
	RoomID   string
	AfterSeq uint64
	Limit    int
}

type HistoryReply struct {
	Entries []models.LogEntry
}

func (a *AdminService) History(args *HistoryArgs, reply *HistoryReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	entries, err := a.history.Entries(ctx, a.storageKey(args.RoomID), args.AfterSeq, args.Limit)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}

type RoundsReply struct {
	History services.RoomHistory
}

func (a *AdminService) Rounds(args *RoomArgs, reply *RoundsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	h, err := a.history.RoomHistory(ctx, a.storageKey(args.RoomID))
	if err != nil {
		return err
	}
	reply.History = *h
	return nil
}

// storageKey maps a live room's code to its key. Codes are reused after a
// room closes, so anything else is taken to be a key already.
func (a *AdminService) storageKey(id string) string {
	if r, ok := a.rooms.GetRoom(id); ok {
		return r.Key
	}
	return id
}
