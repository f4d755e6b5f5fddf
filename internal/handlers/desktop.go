package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/termgate/termgate/internal/backend"
	"github.com/termgate/termgate/internal/database"
	"github.com/termgate/termgate/internal/guac"
	"github.com/termgate/termgate/internal/heartbeat"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/session"
)

// GatewayURL is the remote-desktop gateway base URL, set from main.go.
var GatewayURL string

// desktopRateLimit allows pointer-event bursts well above the terminal
// rate; frames past it are dropped.
const desktopRateLimit = 500
const desktopRateBurst = 500

// DesktopWS handles WebSocket connections for RDP and VNC sessions. Both
// legs speak framed instructions; the gateway does the actual protocol
// translation.
//
// Query parameters:
//   - resume: (optional) a suspend session id. When present the socket
//     reattaches to the suspended session instead of dialing the gateway.
//   - platform: heartbeat profile selection, as on the main socket.
//
// When SessionMgr is set, desktop sessions go through the session table and
// can be suspended like terminal sessions. When nil, the socket is bridged
// directly to the gateway and dies with the client.
func DesktopWS(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid connection ID", http.StatusBadRequest)
		return
	}
	if !middleware.CanAccessConnection(r, uint(id)) {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}
	user := middleware.GetUser(r)

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[desktop] failed to accept websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()
	clientConn.SetReadLimit(wsReadLimit)

	ctx := r.Context()

	profile := DesktopProfile
	if r.URL.Query().Get("platform") == "mobile" {
		profile = MobileProfile
	}
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	mon := &heartbeat.Monitor{
		Pinger:  wsPinger{clientConn},
		Profile: profile,
		OnTimeout: func() {
			clientConn.Close(livenessCloseCode, "liveness timeout")
		},
		Label: r.RemoteAddr,
	}
	go mon.Run(hbCtx)

	if SessionMgr != nil {
		handleManagedDesktop(ctx, clientConn, r, user, uint(id))
	} else {
		handleDirectDesktop(ctx, clientConn, uint(id))
	}
}

// handleManagedDesktop runs the desktop leg through the session table, so
// a suspend-marked session survives the socket.
func handleManagedDesktop(ctx context.Context, clientConn *websocket.Conn, r *http.Request, user *database.User, connectionID uint) {
	out := newDesktopWriter(ctx, clientConn)

	var s *session.Session
	if resumeID := r.URL.Query().Get("resume"); resumeID != "" {
		info, err := SessionMgr.SuspendedInfo(resumeID, user.ID)
		if err != nil {
			clientConn.Close(4404, "Suspended session not found")
			return
		}
		// Terminal sessions carry raw bytes, which the frame splitter
		// would withhold; they resume over the main socket.
		if info.Transport == session.TransportSSH {
			clientConn.Close(4400, "Suspended session is not a desktop session")
			return
		}
		s, err = SessionMgr.Resume(resumeID, user.ID, out)
		if err != nil {
			clientConn.Close(4404, "Suspended session not found")
			return
		}
		log.Printf("[desktop] resumed session %s (entry %s)", s.ID, resumeID)
	} else {
		connRec, err := database.GetConnectionByID(connectionID)
		if err != nil {
			clientConn.Close(4404, "Connection not found")
			return
		}
		leg, err := backend.DialGateway(ctx, GatewayURL, connRec)
		if err != nil {
			log.Printf("[desktop] gateway dial failed for connection %d: %v", connectionID, err)
			clientConn.Close(4500, "Failed to reach remote desktop gateway")
			return
		}
		s = SessionMgr.Create(user.ID, connRec.ID, connRec.Name, session.Transport(connRec.Kind), leg)
		if err := s.Attach(out); err != nil {
			SessionMgr.Terminate(s.ID)
			return
		}
	}
	defer SessionMgr.HandleClientClose(s.ID)

	// Tell the client its session id, in-protocol, so it can mark the
	// session for suspend over the main socket.
	infoCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	err := clientConn.Write(infoCtx, websocket.MessageText, []byte(guac.Build("session", s.ID)))
	cancel()
	if err != nil {
		return
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()
	go func() {
		select {
		case <-s.Done():
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := newTokenBucket(desktopRateBurst, desktopRateLimit)
	splitter := guac.NewFrameSplitter(func(frame string) {
		if guac.Parse(frame) == nil {
			log.Printf("[desktop] dropping malformed client frame (%d bytes)", len(frame))
			return
		}
		s.Input([]byte(frame))
	})

	for {
		_, data, err := clientConn.Read(relayCtx)
		if err != nil {
			return
		}
		if !limiter.allow() {
			continue
		}
		if _, err := splitter.Write(data); err != nil {
			log.Printf("[desktop] client frame stream corrupt: %v", err)
			return
		}
	}
}

// handleDirectDesktop bridges the socket straight to the gateway with no
// session bookkeeping.
func handleDirectDesktop(ctx context.Context, clientConn *websocket.Conn, connectionID uint) {
	connRec, err := database.GetConnectionByID(connectionID)
	if err != nil {
		clientConn.Close(4404, "Connection not found")
		return
	}
	leg, err := backend.DialGateway(ctx, GatewayURL, connRec)
	if err != nil {
		log.Printf("[desktop] gateway dial failed for connection %d: %v", connectionID, err)
		clientConn.Close(4500, "Failed to reach remote desktop gateway")
		return
	}
	defer leg.Close()

	bridge := &guac.Bridge{
		Client:   wsFrameConn{clientConn},
		Upstream: leg,
	}
	bridge.Run(ctx)
	clientConn.Close(websocket.StatusNormalClosure, "")
}

// wsFrameConn adapts a browser websocket to the bridge leg interface. One
// message carries one instruction frame.
type wsFrameConn struct {
	conn *websocket.Conn
}

func (c wsFrameConn) ReadFrame(ctx context.Context) (string, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c wsFrameConn) WriteFrame(ctx context.Context, frame string) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(frame))
}

// desktopWriter is the client sink for a managed desktop session. Session
// output arrives as a byte stream; the splitter re-chunks it so each
// websocket message carries exactly one instruction frame.
type desktopWriter struct {
	ctx      context.Context
	conn     *websocket.Conn
	splitter *guac.FrameSplitter
	err      error
}

func newDesktopWriter(ctx context.Context, conn *websocket.Conn) *desktopWriter {
	w := &desktopWriter{ctx: ctx, conn: conn}
	w.splitter = guac.NewFrameSplitter(func(frame string) {
		if w.err != nil {
			return
		}
		wctx, cancel := context.WithTimeout(w.ctx, guac.DefaultWriteTimeout)
		w.err = w.conn.Write(wctx, websocket.MessageText, []byte(frame))
		cancel()
	})
	return w
}

func (w *desktopWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if _, err := w.splitter.Write(p); err != nil {
		return 0, err
	}
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}
