package backend

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/termgate/termgate/internal/database"
	"github.com/termgate/termgate/internal/guac"
)

const gatewayDialTimeout = 10 * time.Second

// gatewayReadLimit bounds a single instruction frame from the gateway.
const gatewayReadLimit = 4 * 1024 * 1024

// GatewayLeg is the secondary WebSocket connection to the remote-desktop
// gateway for one RDP or VNC session. Text frames carry instruction
// framing; the leg treats them as opaque bytes beyond the initial
// handshake and implements Channel for session ownership.
type GatewayLeg struct {
	conn *websocket.Conn

	readMu    sync.Mutex
	leftover  []byte
	done      chan struct{}
	closeOnce sync.Once
}

// DialGateway connects the gateway leg for the given host profile and
// announces the requested protocol with select/connect instructions. The
// argument layout mirrors what the gateway hands back on connect.
func DialGateway(ctx context.Context, gatewayURL string, conn *database.Connection) (*GatewayLeg, error) {
	switch conn.Kind {
	case "rdp", "vnc":
	default:
		return nil, fmt.Errorf("connection %q is not a remote-desktop profile", conn.Name)
	}

	dialCtx, cancel := context.WithTimeout(ctx, gatewayDialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, gatewayURL, &websocket.DialOptions{
		Subprotocols: []string{"guacamole"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial remote-desktop gateway: %w", err)
	}
	ws.SetReadLimit(gatewayReadLimit)

	leg := &GatewayLeg{
		conn: ws,
		done: make(chan struct{}),
	}

	handshake := []string{
		guac.Build("select", conn.Kind),
		guac.Build("connect", conn.Host, strconv.Itoa(conn.Port), conn.Username, conn.Password),
	}
	for _, frame := range handshake {
		if err := leg.WriteFrame(ctx, frame); err != nil {
			leg.Close()
			return nil, fmt.Errorf("gateway handshake: %w", err)
		}
	}

	return leg, nil
}

// ReadFrame returns the next raw instruction frame from the gateway.
func (g *GatewayLeg) ReadFrame(ctx context.Context) (string, error) {
	_, data, err := g.conn.Read(ctx)
	if err != nil {
		g.markDone()
		return "", err
	}
	return string(data), nil
}

// WriteFrame sends one raw instruction frame to the gateway.
func (g *GatewayLeg) WriteFrame(ctx context.Context, frame string) error {
	if err := g.conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		g.markDone()
		return err
	}
	return nil
}

// Read implements Channel over frames: each call drains the remainder of
// the previous frame before fetching the next one.
func (g *GatewayLeg) Read(p []byte) (int, error) {
	g.readMu.Lock()
	defer g.readMu.Unlock()

	if len(g.leftover) == 0 {
		_, data, err := g.conn.Read(context.Background())
		if err != nil {
			g.markDone()
			return 0, err
		}
		g.leftover = data
	}

	n := copy(p, g.leftover)
	g.leftover = g.leftover[n:]
	return n, nil
}

// Write implements Channel: the bytes are one instruction frame.
func (g *GatewayLeg) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), guac.DefaultWriteTimeout)
	defer cancel()
	if err := g.conn.Write(ctx, websocket.MessageText, p); err != nil {
		g.markDone()
		return 0, err
	}
	return len(p), nil
}

// Resize forwards a size instruction to the gateway.
func (g *GatewayLeg) Resize(cols, rows uint16) error {
	frame := guac.Build("size", strconv.Itoa(int(cols)), strconv.Itoa(int(rows)))
	_, err := g.Write([]byte(frame))
	return err
}

func (g *GatewayLeg) Close() error {
	g.markDone()
	return g.conn.CloseNow()
}

func (g *GatewayLeg) Done() <-chan struct{} {
	return g.done
}

func (g *GatewayLeg) markDone() {
	g.closeOnce.Do(func() { close(g.done) })
}
