package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/termgate/termgate/internal/backend"
	"github.com/termgate/termgate/internal/database"
	"github.com/termgate/termgate/internal/heartbeat"
	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/protocol"
	"github.com/termgate/termgate/internal/session"
	"github.com/termgate/termgate/internal/sshfiles"
	"github.com/termgate/termgate/internal/transfer"
)

// wsRateLimit defines the maximum number of messages allowed per second
// per WebSocket connection. Messages beyond this rate are dropped.
const wsRateLimit = 200

// wsRateBurst is the token bucket burst size, allowing short bursts of
// rapid input (e.g., paste operations) before rate limiting kicks in.
const wsRateBurst = 200

// wsReadLimit must clear the largest legal frame: a base64 upload chunk
// plus envelope overhead.
const wsReadLimit = 4 * 1024 * 1024

const wsWriteTimeout = 15 * time.Second

// livenessCloseCode is sent when the heartbeat monitor gives up on a
// client.
const livenessCloseCode = websocket.StatusCode(4008)

// transferSweepInterval is how often each socket checks its uploads for
// idle-timeout.
const transferSweepInterval = 30 * time.Second

// Tunables set from main.go during init.
var (
	DesktopProfile      = heartbeat.DefaultDesktop
	MobileProfile       = heartbeat.DefaultMobile
	TransferIdleTimeout = 2 * time.Minute
)

// tokenBucket implements a simple token bucket rate limiter for gateway
// messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// wsPinger adapts a websocket connection to the heartbeat probe.
type wsPinger struct {
	conn *websocket.Conn
}

func (p wsPinger) Ping(ctx context.Context) error {
	return p.conn.Ping(ctx)
}

// client is the per-socket state of one gateway WebSocket: the sessions it
// owns, its SFTP clients, and its upload controller. All of it dies with
// the socket except sessions marked for suspend.
type client struct {
	conn *websocket.Conn
	ctx  context.Context
	user *database.User

	writeMu sync.Mutex

	mu      sync.Mutex
	owned   map[string]bool
	files   map[string]*sshfiles.Client
	uploads *transfer.Controller
}

// send marshals and writes one envelope. requestId is echoed when present.
func (c *client) send(msgType string, payload interface{}, requestID string) error {
	env := map[string]interface{}{"type": msgType}
	if payload != nil {
		env["payload"] = payload
	}
	if requestID != "" {
		env["requestId"] = requestID
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *client) sendError(code protocol.ErrorCode, message, requestID string, fields []protocol.FieldError) {
	payload := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	c.send("error", payload, requestID)
}

// terminalWriter relays session output to the socket as terminal:output
// frames. Until bind is called, output queues; bind flushes the queue and
// switches to pass-through. This lets the session be attached (and its
// pending tail flushed) before the client has been told the session id.
type terminalWriter struct {
	write func(sessionID string, p []byte) error

	mu        sync.Mutex
	sessionID string
	queued    [][]byte
}

func newTerminalWriter(c *client) *terminalWriter {
	return &terminalWriter{write: c.writeOutput}
}

func (t *terminalWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.sessionID == "" {
		buf := make([]byte, len(p))
		copy(buf, p)
		t.queued = append(t.queued, buf)
		t.mu.Unlock()
		return len(p), nil
	}
	id := t.sessionID
	t.mu.Unlock()

	if err := t.write(id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *terminalWriter) bind(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
	for _, buf := range t.queued {
		if err := t.write(sessionID, buf); err != nil {
			log.Printf("[ws] dropped queued output for session %s: %v", sessionID, err)
			break
		}
	}
	t.queued = nil
}

func (c *client) writeOutput(sessionID string, p []byte) error {
	return c.send("terminal:output", map[string]string{
		"sessionId": sessionID,
		"data":      base64.StdEncoding.EncodeToString(p),
	}, "")
}

// GatewayWS is the main WebSocket endpoint. Every in-band operation
// (terminal, SFTP, uploads, Docker control, suspend/resume) flows through
// this socket as validated JSON envelopes.
//
// Query parameters:
//   - platform: "mobile" selects the mobile heartbeat profile; anything
//     else gets the desktop profile.
func GatewayWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[ws] failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	c := &client{
		conn:    conn,
		ctx:     ctx,
		user:    user,
		owned:   make(map[string]bool),
		files:   make(map[string]*sshfiles.Client),
		uploads: transfer.NewController(TransferIdleTimeout),
	}
	defer c.cleanup()

	profile := DesktopProfile
	if r.URL.Query().Get("platform") == "mobile" {
		profile = MobileProfile
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	mon := &heartbeat.Monitor{
		Pinger:  wsPinger{conn},
		Profile: profile,
		OnTimeout: func() {
			conn.Close(livenessCloseCode, "liveness timeout")
		},
		Label: r.RemoteAddr,
	}
	go mon.Run(hbCtx)
	go c.sweepTransfers(hbCtx)

	log.Printf("[ws] client connected: user=%s remote=%s profile=%s",
		user.Username, r.RemoteAddr, profileName(profile))

	limiter := newTokenBucket(wsRateBurst, wsRateLimit)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}

		// Rate limit: drop messages that exceed the allowed rate
		if !limiter.allow() {
			continue
		}

		msg, verr := protocol.Validate(data)
		if verr != nil {
			c.sendError(verr.Code, verr.Error(), "", verr.Fields)
			continue
		}
		c.dispatch(msg)
	}

	log.Printf("[ws] client disconnected: user=%s remote=%s", user.Username, r.RemoteAddr)
	conn.Close(websocket.StatusNormalClosure, "")
}

func profileName(p heartbeat.Profile) string {
	if p == MobileProfile {
		return "mobile"
	}
	return "desktop"
}

// sweepTransfers fails uploads that stall past the idle timeout.
func (c *client) sweepTransfers(ctx context.Context) {
	ticker := time.NewTicker(transferSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.uploads.SweepIdle() {
				c.sendError(protocol.ErrTransferTimeout, "upload "+id+" idle timeout", "", nil)
			}
		}
	}
}

// cleanup runs when the socket dies: uploads are cancelled, the session
// manager applies the disconnect transition to every owned session
// (suspend-marked sessions survive detached), and SFTP clients close.
func (c *client) cleanup() {
	c.uploads.CancelAll()

	c.mu.Lock()
	owned := make([]string, 0, len(c.owned))
	for id := range c.owned {
		owned = append(owned, id)
	}
	files := c.files
	c.files = make(map[string]*sshfiles.Client)
	c.mu.Unlock()

	for _, id := range owned {
		SessionMgr.HandleClientClose(id)
	}
	for _, fc := range files {
		fc.Close()
	}
}

// dispatch routes a validated message. The switch is exhaustive over the
// registered kinds; validation guarantees the payload type per kind.
func (c *client) dispatch(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindTerminalConnect:
		c.handleTerminalConnect(msg)
	case protocol.KindTerminalInput:
		c.handleTerminalInput(msg)
	case protocol.KindTerminalResize:
		c.handleTerminalResize(msg)
	case protocol.KindDockerStatus, protocol.KindDockerCommand, protocol.KindDockerStats:
		c.handleDocker(msg)
	case protocol.KindSFTPList, protocol.KindSFTPRead, protocol.KindSFTPMkdir,
		protocol.KindSFTPDelete, protocol.KindSFTPRename, protocol.KindSFTPDownload:
		c.handleSFTP(msg)
	case protocol.KindUploadStart:
		c.handleUploadStart(msg)
	case protocol.KindUploadChunk:
		c.handleUploadChunk(msg)
	case protocol.KindUploadCancel:
		c.handleUploadCancel(msg)
	case protocol.KindSuspendMark:
		c.handleSuspendMark(msg)
	case protocol.KindSuspendUnmark:
		c.handleSuspendUnmark(msg)
	case protocol.KindSuspendList:
		c.send("suspend:list", map[string]interface{}{
			"sessions": SessionMgr.ListSuspended(c.user.ID),
		}, msg.RequestID)
	case protocol.KindSuspendResume:
		c.handleSuspendResume(msg)
	case protocol.KindSuspendTerminate, protocol.KindSuspendRemove:
		c.handleSuspendTerminate(msg)
	case protocol.KindPing:
		c.send("pong", nil, msg.RequestID)
	}
}

// ownedSession resolves a session id against this socket's ownership set.
func (c *client) ownedSession(sessionID string) *session.Session {
	c.mu.Lock()
	owns := c.owned[sessionID]
	c.mu.Unlock()
	if !owns {
		return nil
	}
	return SessionMgr.Get(sessionID)
}

// userSession resolves a session id against the caller's principal rather
// than this socket. Suspend marking uses it so desktop sessions, which live
// on their own socket, can be marked from here.
func (c *client) userSession(sessionID string) *session.Session {
	s := SessionMgr.Get(sessionID)
	if s == nil || s.UserID != c.user.ID {
		return nil
	}
	return s
}

func (c *client) own(sessionID string) {
	c.mu.Lock()
	c.owned[sessionID] = true
	c.mu.Unlock()
}

func (c *client) disown(sessionID string) {
	c.mu.Lock()
	delete(c.owned, sessionID)
	fc := c.files[sessionID]
	delete(c.files, sessionID)
	c.mu.Unlock()
	if fc != nil {
		fc.Close()
	}
}

// watchSession notifies the client when a session's backend ends while
// this socket still owns it.
func (c *client) watchSession(s *session.Session) {
	select {
	case <-s.Done():
	case <-c.ctx.Done():
		return
	}
	c.mu.Lock()
	owns := c.owned[s.ID]
	c.mu.Unlock()
	if owns {
		c.send("terminal:closed", map[string]string{"sessionId": s.ID}, "")
		c.disown(s.ID)
	}
}

func (c *client) handleTerminalConnect(msg *protocol.Message) {
	p := msg.Payload.(protocol.TerminalConnectPayload)

	if !userCanAccess(c.user, p.ConnectionID) {
		c.sendError(protocol.ErrBackendUnavailable, "access denied", msg.RequestID, nil)
		return
	}
	connRec, err := database.GetConnectionByID(p.ConnectionID)
	if err != nil {
		c.sendError(protocol.ErrBackendUnavailable, "connection profile not found", msg.RequestID, nil)
		return
	}
	if connRec.Kind != "ssh" {
		c.sendError(protocol.ErrBackendUnavailable,
			"terminal sessions require an ssh connection", msg.RequestID, nil)
		return
	}

	cols, rows := p.Cols, p.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	sshClient, err := backend.DialSSH(connRec)
	if err != nil {
		log.Printf("[ws] ssh dial failed for connection %d: %v", connRec.ID, err)
		c.sendError(protocol.ErrBackendUnavailable, "failed to reach backend host", msg.RequestID, nil)
		return
	}
	shell, err := backend.OpenShell(sshClient, cols, rows)
	if err != nil {
		sshClient.Close()
		log.Printf("[ws] shell open failed for connection %d: %v", connRec.ID, err)
		c.sendError(protocol.ErrBackendUnavailable, "failed to start shell", msg.RequestID, nil)
		return
	}

	s := SessionMgr.Create(c.user.ID, connRec.ID, connRec.Name, session.TransportSSH, shell)
	tw := newTerminalWriter(c)
	if err := s.Attach(tw); err != nil {
		SessionMgr.Terminate(s.ID)
		c.sendError(protocol.ErrBackendUnavailable, "failed to attach session", msg.RequestID, nil)
		return
	}
	c.own(s.ID)
	go c.watchSession(s)

	c.send("terminal:connected", map[string]interface{}{
		"sessionId":    s.ID,
		"connectionId": connRec.ID,
	}, msg.RequestID)
	tw.bind(s.ID)
}

func (c *client) handleTerminalInput(msg *protocol.Message) {
	p := msg.Payload.(protocol.TerminalInputPayload)
	s := c.ownedSession(p.SessionID)
	if s == nil {
		c.sendError(protocol.ErrBackendUnavailable, "session not found", msg.RequestID, nil)
		return
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		c.sendError(protocol.ErrSchemaValidation, "data: invalid base64", msg.RequestID,
			[]protocol.FieldError{{Field: "data", Message: "invalid base64"}})
		return
	}
	if err := s.Input(data); err != nil {
		c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
	}
}

func (c *client) handleTerminalResize(msg *protocol.Message) {
	p := msg.Payload.(protocol.TerminalResizePayload)
	s := c.ownedSession(p.SessionID)
	if s == nil {
		c.sendError(protocol.ErrBackendUnavailable, "session not found", msg.RequestID, nil)
		return
	}
	if err := s.Resize(p.Cols, p.Rows); err != nil {
		c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
	}
}

func (c *client) handleSuspendMark(msg *protocol.Message) {
	p := msg.Payload.(protocol.SuspendMarkPayload)
	s := c.userSession(p.SessionID)
	if s == nil {
		c.sendError(protocol.ErrBackendUnavailable, "session not found", msg.RequestID, nil)
		return
	}
	var buf []byte
	if p.Buffer != "" {
		var err error
		buf, err = base64.StdEncoding.DecodeString(p.Buffer)
		if err != nil {
			c.sendError(protocol.ErrSchemaValidation, "buffer: invalid base64", msg.RequestID,
				[]protocol.FieldError{{Field: "buffer", Message: "invalid base64"}})
			return
		}
	}
	if err := s.MarkForSuspend(buf); err != nil {
		c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
		return
	}
	c.send("suspend:mark", map[string]string{
		"sessionId": p.SessionID,
		"status":    "marked",
	}, msg.RequestID)
}

func (c *client) handleSuspendUnmark(msg *protocol.Message) {
	p := msg.Payload.(protocol.SuspendUnmarkPayload)
	s := c.userSession(p.SessionID)
	if s == nil {
		c.sendError(protocol.ErrBackendUnavailable, "session not found", msg.RequestID, nil)
		return
	}
	if err := s.UnmarkSuspend(); err != nil {
		c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
		return
	}
	c.send("suspend:unmark", map[string]string{
		"sessionId": p.SessionID,
		"status":    "unmarked",
	}, msg.RequestID)
}

func (c *client) handleSuspendResume(msg *protocol.Message) {
	p := msg.Payload.(protocol.SuspendIDPayload)

	info, err := SessionMgr.SuspendedInfo(p.SuspendSessionID, c.user.ID)
	if err != nil {
		c.sendError(protocol.ErrSuspendEntryNotFound, "suspended session not found", msg.RequestID, nil)
		return
	}
	// Desktop sessions speak instruction frames, not terminal bytes; they
	// resume on their own endpoint.
	if info.Transport != session.TransportSSH {
		c.sendError(protocol.ErrBackendUnavailable,
			"suspended session is not a terminal session", msg.RequestID, nil)
		return
	}

	tw := newTerminalWriter(c)
	s, err := SessionMgr.Resume(p.SuspendSessionID, c.user.ID, tw)
	if err != nil {
		if errors.Is(err, session.ErrSuspendEntryNotFound) {
			c.sendError(protocol.ErrSuspendEntryNotFound, "suspended session not found", msg.RequestID, nil)
		} else {
			c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
		}
		return
	}
	c.own(s.ID)
	go c.watchSession(s)

	c.send("suspend:resume", map[string]interface{}{
		"suspendSessionId": p.SuspendSessionID,
		"sessionId":        s.ID,
		"connectionId":     s.ConnectionID,
		"transport":        s.Transport,
	}, msg.RequestID)
	tw.bind(s.ID)
}

func (c *client) handleSuspendTerminate(msg *protocol.Message) {
	p := msg.Payload.(protocol.SuspendIDPayload)
	if err := SessionMgr.TerminateSuspended(p.SuspendSessionID, c.user.ID); err != nil {
		c.sendError(protocol.ErrSuspendEntryNotFound, "suspended session not found", msg.RequestID, nil)
		return
	}
	c.send(msg.Kind.String(), map[string]string{
		"suspendSessionId": p.SuspendSessionID,
		"status":           "terminated",
	}, msg.RequestID)
}

func (c *client) handleDocker(msg *protocol.Message) {
	var connectionID uint
	switch p := msg.Payload.(type) {
	case protocol.DockerStatusPayload:
		connectionID = p.ConnectionID
	case protocol.DockerCommandPayload:
		connectionID = p.ConnectionID
	case protocol.DockerStatsPayload:
		connectionID = p.ConnectionID
	}

	if !userCanAccess(c.user, connectionID) {
		c.sendError(protocol.ErrBackendUnavailable, "access denied", msg.RequestID, nil)
		return
	}
	connRec, err := database.GetConnectionByID(connectionID)
	if err != nil {
		c.sendError(protocol.ErrBackendUnavailable, "connection profile not found", msg.RequestID, nil)
		return
	}
	ctl, err := dockerControlFor(connRec)
	if err != nil {
		log.Printf("[ws] docker control unavailable for connection %d: %v", connectionID, err)
		c.sendError(protocol.ErrBackendUnavailable, "docker control unavailable", msg.RequestID, nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
	defer cancel()

	switch p := msg.Payload.(type) {
	case protocol.DockerStatusPayload:
		containers, err := ctl.Status(ctx)
		if err != nil {
			c.sendError(protocol.ErrBackendUnavailable, "failed to list containers", msg.RequestID, nil)
			return
		}
		c.send("docker:status", map[string]interface{}{
			"connectionId": p.ConnectionID,
			"containers":   containers,
		}, msg.RequestID)

	case protocol.DockerCommandPayload:
		if err := ctl.Command(ctx, p.ContainerID, p.Command); err != nil {
			c.sendError(protocol.ErrBackendUnavailable, "container command failed", msg.RequestID, nil)
			return
		}
		c.send("docker:command", map[string]string{
			"containerId": p.ContainerID,
			"command":     p.Command,
			"status":      "ok",
		}, msg.RequestID)

	case protocol.DockerStatsPayload:
		stats, err := ctl.Stats(ctx, p.ContainerID)
		if err != nil {
			c.sendError(protocol.ErrBackendUnavailable, "failed to read container stats", msg.RequestID, nil)
			return
		}
		c.send("docker:stats", map[string]interface{}{
			"containerId": p.ContainerID,
			"stats":       stats,
		}, msg.RequestID)
	}
}

// filesFor returns (creating if needed) the SFTP client for an owned SSH
// session.
func (c *client) filesFor(sessionID string) (*sshfiles.Client, bool) {
	s := c.ownedSession(sessionID)
	if s == nil {
		return nil, false
	}
	shell, ok := s.Channel().(*backend.SSHShell)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	fc := c.files[sessionID]
	c.mu.Unlock()
	if fc != nil {
		return fc, true
	}

	fc, err := sshfiles.NewClient(shell.SSHClient())
	if err != nil {
		log.Printf("[ws] sftp subsystem failed for session %s: %v", sessionID, err)
		return nil, false
	}
	c.mu.Lock()
	c.files[sessionID] = fc
	c.mu.Unlock()
	return fc, true
}

func (c *client) handleSFTP(msg *protocol.Message) {
	if msg.Kind == protocol.KindSFTPRename {
		p := msg.Payload.(protocol.SFTPRenamePayload)
		fc, ok := c.filesFor(p.SessionID)
		if !ok {
			c.sendError(protocol.ErrBackendUnavailable, "session not available for file operations", msg.RequestID, nil)
			return
		}
		if err := fc.Rename(p.OldPath, p.NewPath); err != nil {
			c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
			return
		}
		c.send("sftp:rename", map[string]string{
			"sessionId": p.SessionID,
			"oldPath":   p.OldPath,
			"newPath":   p.NewPath,
			"status":    "ok",
		}, msg.RequestID)
		return
	}

	p := msg.Payload.(protocol.SFTPPathPayload)
	fc, ok := c.filesFor(p.SessionID)
	if !ok {
		c.sendError(protocol.ErrBackendUnavailable, "session not available for file operations", msg.RequestID, nil)
		return
	}

	switch msg.Kind {
	case protocol.KindSFTPList:
		entries, err := fc.List(p.Path)
		if err != nil {
			c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
			return
		}
		c.send("sftp:list", map[string]interface{}{
			"sessionId": p.SessionID,
			"path":      p.Path,
			"entries":   entries,
		}, msg.RequestID)

	case protocol.KindSFTPRead, protocol.KindSFTPDownload:
		data, err := fc.Read(p.Path)
		if err != nil {
			c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
			return
		}
		c.send(msg.Kind.String(), map[string]string{
			"sessionId": p.SessionID,
			"path":      p.Path,
			"data":      base64.StdEncoding.EncodeToString(data),
		}, msg.RequestID)

	case protocol.KindSFTPMkdir:
		if err := fc.Mkdir(p.Path); err != nil {
			c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
			return
		}
		c.send("sftp:mkdir", map[string]string{
			"sessionId": p.SessionID, "path": p.Path, "status": "ok",
		}, msg.RequestID)

	case protocol.KindSFTPDelete:
		if err := fc.Delete(p.Path); err != nil {
			c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
			return
		}
		c.send("sftp:delete", map[string]string{
			"sessionId": p.SessionID, "path": p.Path, "status": "ok",
		}, msg.RequestID)
	}
}

func (c *client) handleUploadStart(msg *protocol.Message) {
	p := msg.Payload.(protocol.UploadStartPayload)
	fc, ok := c.filesFor(p.SessionID)
	if !ok {
		c.sendError(protocol.ErrBackendUnavailable, "session not available for file operations", msg.RequestID, nil)
		return
	}

	file, fullPath, err := fc.Create(p.TargetPath, p.FileName)
	if err != nil {
		c.sendError(protocol.ErrBackendUnavailable, err.Error(), msg.RequestID, nil)
		return
	}
	discard := func() error { return fc.Remove(fullPath) }

	if _, err := c.uploads.Start(p.UploadID, p.FileName, p.TargetPath, p.FileSize, p.ChunkSize, file, discard); err != nil {
		file.Close()
		fc.Remove(fullPath)
		c.sendError(protocol.ErrTransferMismatch, err.Error(), msg.RequestID, nil)
		return
	}

	c.send("upload:start", map[string]string{
		"uploadId": p.UploadID,
		"status":   "receiving",
	}, msg.RequestID)
}

func (c *client) handleUploadChunk(msg *protocol.Message) {
	p := msg.Payload.(protocol.UploadChunkPayload)

	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		c.sendError(protocol.ErrSchemaValidation, "data: invalid base64", msg.RequestID,
			[]protocol.FieldError{{Field: "data", Message: "invalid base64"}})
		return
	}

	done, err := c.uploads.Chunk(p.UploadID, p.ChunkIndex, data)
	if err != nil {
		c.sendError(protocol.ErrTransferMismatch, err.Error(), msg.RequestID, nil)
		return
	}
	if done {
		c.send("upload:complete", map[string]string{"uploadId": p.UploadID}, msg.RequestID)
		return
	}
	c.send("upload:progress", map[string]interface{}{
		"uploadId":   p.UploadID,
		"chunkIndex": p.ChunkIndex,
	}, msg.RequestID)
}

func (c *client) handleUploadCancel(msg *protocol.Message) {
	p := msg.Payload.(protocol.UploadCancelPayload)
	if err := c.uploads.Cancel(p.UploadID); err != nil {
		c.sendError(protocol.ErrTransferMismatch, err.Error(), msg.RequestID, nil)
		return
	}
	c.send("upload:cancel", map[string]string{
		"uploadId": p.UploadID,
		"status":   "cancelled",
	}, msg.RequestID)
}
