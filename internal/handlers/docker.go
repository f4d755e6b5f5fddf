package handlers

import (
	"fmt"
	"sync"

	"github.com/termgate/termgate/internal/backend"
	"github.com/termgate/termgate/internal/database"
)

// dockerControls caches one control client per docker-kind connection.
// Clients negotiate the API version on first use and are cheap to keep.
var dockerControls = struct {
	sync.Mutex
	m map[uint]*backend.DockerControl
}{m: make(map[uint]*backend.DockerControl)}

func dockerControlFor(conn *database.Connection) (*backend.DockerControl, error) {
	if conn.Kind != "docker" {
		return nil, fmt.Errorf("connection %d is %s, not docker", conn.ID, conn.Kind)
	}

	dockerControls.Lock()
	defer dockerControls.Unlock()

	if ctl, ok := dockerControls.m[conn.ID]; ok {
		return ctl, nil
	}

	host := ""
	if conn.Host != "" && conn.Host != "local" {
		host = fmt.Sprintf("tcp://%s:%d", conn.Host, conn.Port)
	}
	ctl, err := backend.NewDockerControl(host)
	if err != nil {
		return nil, err
	}
	dockerControls.m[conn.ID] = ctl
	return ctl, nil
}

// CloseDockerControls shuts every cached control client; used on shutdown.
func CloseDockerControls() {
	dockerControls.Lock()
	defer dockerControls.Unlock()
	for id, ctl := range dockerControls.m {
		ctl.Close()
		delete(dockerControls.m, id)
	}
}
