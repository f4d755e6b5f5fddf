package config

import (
	"log"
	"time"

	"github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/termgate.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/termgate.log"`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// GatewayURL is the base WebSocket URL of the remote-desktop gateway
	// used for RDP and VNC backend legs.
	GatewayURL string `envconfig:"GATEWAY_URL" default:"ws://localhost:4822"`

	// DockerHost overrides the Docker control endpoint. Empty uses the
	// environment defaults (DOCKER_HOST et al).
	DockerHost string `envconfig:"DOCKER_HOST" default:""`

	// Suspend/resume settings
	SuspendExpiry       string `envconfig:"SUSPEND_EXPIRY" default:"30m"`
	MaxSuspendedPerUser int    `envconfig:"MAX_SUSPENDED_PER_USER" default:"5"`
	PendingBufferSize   string `envconfig:"PENDING_BUFFER_SIZE" default:"1MiB"`
	TransferIdleTimeout string `envconfig:"TRANSFER_IDLE_TIMEOUT" default:"2m"`

	// Heartbeat profiles
	HeartbeatDesktopInterval string `envconfig:"HEARTBEAT_DESKTOP_INTERVAL" default:"30s"`
	HeartbeatDesktopMissed   int    `envconfig:"HEARTBEAT_DESKTOP_MISSED" default:"2"`
	HeartbeatMobileInterval  string `envconfig:"HEARTBEAT_MOBILE_INTERVAL" default:"15s"`
	HeartbeatMobileMissed    int    `envconfig:"HEARTBEAT_MOBILE_MISSED" default:"3"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Duration parses a duration-valued setting, falling back to def when the
// configured value does not parse.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// Bytes parses a human-readable byte size ("1MiB", "512k"), falling back to
// def when the configured value does not parse.
func Bytes(value string, def int64) int64 {
	n, err := units.RAMInBytes(value)
	if err != nil {
		return def
	}
	return n
}
