// Package protocol defines the WebSocket message envelope spoken by the
// browser client and validates every inbound message against a closed
// registry of message kinds before anything is dispatched.
package protocol

// Kind enumerates every message type the gateway accepts. Dispatch is an
// exhaustive switch over this type; the raw wire string is resolved once by
// KindOf and never used for lookup afterwards.
type Kind int

const (
	KindUnknown Kind = iota
	KindTerminalConnect
	KindTerminalInput
	KindTerminalResize
	KindDockerStatus
	KindDockerCommand
	KindDockerStats
	KindSFTPList
	KindSFTPRead
	KindSFTPMkdir
	KindSFTPDelete
	KindSFTPRename
	KindSFTPDownload
	KindUploadStart
	KindUploadChunk
	KindUploadCancel
	KindSuspendMark
	KindSuspendUnmark
	KindSuspendList
	KindSuspendResume
	KindSuspendTerminate
	KindSuspendRemove
	KindPing
)

// KindOf maps a wire type string to its Kind. Only explicitly listed
// literals resolve; anything else is unsupported.
func KindOf(t string) (Kind, bool) {
	switch t {
	case "terminal:connect":
		return KindTerminalConnect, true
	case "terminal:input":
		return KindTerminalInput, true
	case "terminal:resize":
		return KindTerminalResize, true
	case "docker:status":
		return KindDockerStatus, true
	case "docker:command":
		return KindDockerCommand, true
	case "docker:stats":
		return KindDockerStats, true
	case "sftp:list":
		return KindSFTPList, true
	case "sftp:read":
		return KindSFTPRead, true
	case "sftp:mkdir":
		return KindSFTPMkdir, true
	case "sftp:delete":
		return KindSFTPDelete, true
	case "sftp:rename":
		return KindSFTPRename, true
	case "sftp:download":
		return KindSFTPDownload, true
	case "upload:start":
		return KindUploadStart, true
	case "upload:chunk":
		return KindUploadChunk, true
	case "upload:cancel":
		return KindUploadCancel, true
	case "suspend:mark":
		return KindSuspendMark, true
	case "suspend:unmark":
		return KindSuspendUnmark, true
	case "suspend:list":
		return KindSuspendList, true
	case "suspend:resume":
		return KindSuspendResume, true
	case "suspend:terminate":
		return KindSuspendTerminate, true
	case "suspend:remove":
		return KindSuspendRemove, true
	case "ping":
		return KindPing, true
	}
	return KindUnknown, false
}

func (k Kind) String() string {
	switch k {
	case KindTerminalConnect:
		return "terminal:connect"
	case KindTerminalInput:
		return "terminal:input"
	case KindTerminalResize:
		return "terminal:resize"
	case KindDockerStatus:
		return "docker:status"
	case KindDockerCommand:
		return "docker:command"
	case KindDockerStats:
		return "docker:stats"
	case KindSFTPList:
		return "sftp:list"
	case KindSFTPRead:
		return "sftp:read"
	case KindSFTPMkdir:
		return "sftp:mkdir"
	case KindSFTPDelete:
		return "sftp:delete"
	case KindSFTPRename:
		return "sftp:rename"
	case KindSFTPDownload:
		return "sftp:download"
	case KindUploadStart:
		return "upload:start"
	case KindUploadChunk:
		return "upload:chunk"
	case KindUploadCancel:
		return "upload:cancel"
	case KindSuspendMark:
		return "suspend:mark"
	case KindSuspendUnmark:
		return "suspend:unmark"
	case KindSuspendList:
		return "suspend:list"
	case KindSuspendResume:
		return "suspend:resume"
	case KindSuspendTerminate:
		return "suspend:terminate"
	case KindSuspendRemove:
		return "suspend:remove"
	case KindPing:
		return "ping"
	}
	return "unknown"
}

// Payload structs. Field names match the client wire format.

type TerminalConnectPayload struct {
	ConnectionID uint   `json:"connectionId"`
	Cols         uint16 `json:"cols"`
	Rows         uint16 `json:"rows"`
}

type TerminalInputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type TerminalResizePayload struct {
	SessionID string `json:"sessionId"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

type DockerStatusPayload struct {
	ConnectionID uint `json:"connectionId"`
}

type DockerCommandPayload struct {
	ConnectionID uint   `json:"connectionId"`
	ContainerID  string `json:"containerId"`
	Command      string `json:"command"` // start | stop | restart
}

type DockerStatsPayload struct {
	ConnectionID uint   `json:"connectionId"`
	ContainerID  string `json:"containerId"`
}

type SFTPPathPayload struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

type SFTPRenamePayload struct {
	SessionID string `json:"sessionId"`
	OldPath   string `json:"oldPath"`
	NewPath   string `json:"newPath"`
}

type UploadStartPayload struct {
	SessionID  string `json:"sessionId"`
	UploadID   string `json:"uploadId"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	ChunkSize  int64  `json:"chunkSize"`
	TargetPath string `json:"targetPath"`
}

type UploadChunkPayload struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"` // base64
}

type UploadCancelPayload struct {
	UploadID string `json:"uploadId"`
}

type SuspendMarkPayload struct {
	SessionID string `json:"sessionId"`
	// Buffer is the client-echoed terminal tail used to prime the pending
	// output buffer when the socket later disconnects.
	Buffer string `json:"buffer"`
}

type SuspendUnmarkPayload struct {
	SessionID string `json:"sessionId"`
}

type SuspendIDPayload struct {
	SuspendSessionID string `json:"suspendSessionId"`
}
