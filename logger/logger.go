package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until Init is called so that
// packages and tests can log freely without setup.
var Log *zap.SugaredLogger = zap.NewNop().Sugar()

// Init installs a production zap logger at the given level ("debug", "info",
// "warn", "error"). An unknown level falls back to info.
func Init(level string) {
	cfg := zap.NewProductionConfig()

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = logger.Sugar()
}

// Room returns a child logger tagged with the room ID.
func Room(roomID string) *zap.SugaredLogger {
	return Log.With("room", roomID)
}

// Sync flushes buffered log entries; call it before the process exits.
func Sync() {
	_ = Log.Sync()
}
