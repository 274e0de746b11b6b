package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samclaus/games/auth"
	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/config"
	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/monitor"
	"github.com/samclaus/games/network"
	"github.com/samclaus/games/persistence"
	"github.com/samclaus/games/room"
	"github.com/samclaus/games/rpc"
	"github.com/samclaus/games/server"
	"github.com/samclaus/games/services"
	"github.com/samclaus/games/state"
	"github.com/samclaus/games/timer"
)

func main() {
	configPath := "."
	if p := os.Getenv("CLUEROOM_CONFIG_PATH"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Init("info")
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	// Initialize Database
	store, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	logger.Log.Infof("Using %s log store.", cfg.Database.Driver)

	mon := monitor.NewMonitor("clueroom")
	metricsServer := mon.StartServer(cfg.Server.MetricsAddress)

	writer := persistence.NewWriter(store, 4096, 256, 200*time.Millisecond)
	writer.OnDrop = func(roomID string) {
		logger.Log.Warnw("persistence queue full, dropped write", "room", roomID)
	}

	rotation, err := cfg.Room.RotationRoles()
	if err != nil {
		logger.Log.Fatalf("Invalid rotation: %v", err)
	}

	timers := timer.NewTimerManager(100 * time.Millisecond)
	broadcaster := broadcast.NewRoomBroadcaster(func(roomID, id string) {
		mon.IncBroadcastDrops()
		logger.Log.Warnw("dropped slow subscriber", "room", roomID, "conn", id)
	})

	rooms := room.NewRoomManager(room.Options{
		LockTeamsDuringGame: cfg.Room.LockTeamsDuringGame,
		Policy:              state.Policy{Rotation: rotation, MinPerRole: cfg.Room.MinPerRole},
		SeatTimeout:         cfg.Room.SeatTimeout,
		InboxSize:           cfg.Room.InboxSize,
		LogTail:             cfg.Room.LogTail,
	}, room.Deps{
		Tokens:  auth.NewSeatTokens(cfg.Auth.SigningKey, cfg.Auth.TokenTTL),
		Timers:  timers,
		Log:     writer,
		Monitor: mon,
	}, broadcaster)

	// 初始化RPC服务器
	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewAdminService(rooms, services.NewHistoryService(store)))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	go rpcServer.Start()

	health, err := rpc.NewHealthServer(cfg.Server.HealthAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create health server: %v", err)
	}
	go health.Start()

	// Initialize Game Server
	gameServer := server.NewGameServer(server.Options{
		Addr:           cfg.Server.HTTPAddress,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendQueueSize:  cfg.Room.SendQueueSize,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		RateBurst:      cfg.RateLimit.Burst,
		Limits: network.Limits{
			MaxClueCount:  cfg.Room.MaxClueCount,
			MaxClueLength: cfg.Room.MaxClueLength,
		},
	}, rooms, mon)

	errc := make(chan error, 1)
	go func() {
		errc <- gameServer.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Log.Infof("Received %s, shutting down.", s)
	case err := <-errc:
		if err != nil {
			logger.Log.Errorf("Game server failed: %v", err)
		}
	}

	health.Drain()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gameServer.Shutdown(ctx); err != nil {
		logger.Log.Warnf("HTTP shutdown: %v", err)
	}
	rooms.CloseAll(ctx)
	timers.Stop()
	writer.Close() // after the rooms, so their last entries are flushed
	rpcServer.Stop()
	health.Stop()
	metricsServer.Shutdown(ctx)
	if err := store.Close(); err != nil {
		logger.Log.Warnf("Closing store: %v", err)
	}
	logger.Log.Info("Server stopped.")
}
