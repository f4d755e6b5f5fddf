package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/termgate/termgate/internal/config"
)

var sink *lumberjack.Logger

// Init sets up dual logging to stdout and a size-rotated log file.
// Must be called after config.Load().
func Init() {
	path := config.Cfg.LogPath
	if path == "" {
		path = "/app/data/termgate.log"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	sink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, sink))
	log.Printf("Logging to file: %s", path)
}

// Close flushes and closes the file sink. Safe to call when Init failed.
func Close() {
	if sink != nil {
		sink.Close()
	}
}
