package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorCode is the client-visible error taxonomy. Validation codes are
// non-fatal to the connection; the rest are produced by downstream
// components and share the same wire shape.
type ErrorCode string

const (
	ErrMalformedMessage     ErrorCode = "MALFORMED_MESSAGE"
	ErrUnsupportedType      ErrorCode = "UNSUPPORTED_TYPE"
	ErrSchemaValidation     ErrorCode = "SCHEMA_VALIDATION_ERROR"
	ErrBackendUnavailable   ErrorCode = "BACKEND_UNAVAILABLE"
	ErrTransferMismatch     ErrorCode = "TRANSFER_MISMATCH"
	ErrTransferTimeout      ErrorCode = "TRANSFER_TIMEOUT"
	ErrSuspendEntryNotFound ErrorCode = "SUSPEND_ENTRY_NOT_FOUND"
	ErrLivenessTimeout      ErrorCode = "LIVENESS_TIMEOUT"
)

// Size and dimension bounds enforced per message kind. They cap memory per
// frame; a violation is a client error, never a retryable condition.
const (
	MaxInputSize     = 64 * 1024        // terminal input bytes per frame
	MaxChunkBase64   = 2 * 1024 * 1024  // upload chunk payload, base64 form
	MaxFileSize      = 10 << 30         // declared upload size
	MaxPathLen       = 4096             // remote path bytes
	MaxCols          = 500
	MaxRows          = 200
)

// FieldError names one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is a structured validation failure.
type ValidationError struct {
	Code   ErrorCode    `json:"code"`
	Fields []FieldError `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return string(e.Code)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Code, strings.Join(parts, "; "))
}

// Message is a validated inbound message: resolved kind, echoable request
// id, and a payload holding one of the typed payload structs.
type Message struct {
	Kind      Kind
	RequestID string
	Payload   any
}

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId"`
}

// Validate checks a raw client frame against the message registry. It is a
// pure function: no side effects, every outcome is in the return values.
func Validate(raw []byte) (*Message, *ValidationError) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Code: ErrMalformedMessage}
	}
	if env.Type == "" {
		return nil, &ValidationError{
			Code:   ErrMalformedMessage,
			Fields: []FieldError{{Field: "type", Message: "missing or empty"}},
		}
	}

	kind, ok := KindOf(env.Type)
	if !ok {
		return nil, &ValidationError{Code: ErrUnsupportedType}
	}

	payload, verr := decodePayload(kind, env.Payload)
	if verr != nil {
		return nil, verr
	}

	return &Message{Kind: kind, RequestID: env.RequestID, Payload: payload}, nil
}

// decodePayload applies the registered schema for the kind. The switch is
// exhaustive over every registered Kind.
func decodePayload(kind Kind, raw json.RawMessage) (any, *ValidationError) {
	switch kind {
	case KindTerminalConnect:
		var p TerminalConnectPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.ConnectionID == 0 {
			fields = append(fields, FieldError{"connectionId", "required"})
		}
		fields = append(fields, checkDims(p.Cols, p.Rows)...)
		return p, schemaErr(fields)

	case KindTerminalInput:
		var p TerminalInputPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.SessionID == "" {
			fields = append(fields, FieldError{"sessionId", "required"})
		}
		if len(p.Data) > MaxInputSize {
			fields = append(fields, FieldError{"data", fmt.Sprintf("exceeds %d bytes", MaxInputSize)})
		}
		return p, schemaErr(fields)

	case KindTerminalResize:
		var p TerminalResizePayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.SessionID == "" {
			fields = append(fields, FieldError{"sessionId", "required"})
		}
		if p.Cols == 0 || p.Rows == 0 {
			fields = append(fields, FieldError{"cols", "must be positive"})
		}
		fields = append(fields, checkDims(p.Cols, p.Rows)...)
		return p, schemaErr(fields)

	case KindDockerStatus:
		var p DockerStatusPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		if p.ConnectionID == 0 {
			return nil, schemaErr([]FieldError{{"connectionId", "required"}})
		}
		return p, nil

	case KindDockerCommand:
		var p DockerCommandPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.ConnectionID == 0 {
			fields = append(fields, FieldError{"connectionId", "required"})
		}
		if p.ContainerID == "" {
			fields = append(fields, FieldError{"containerId", "required"})
		}
		switch p.Command {
		case "start", "stop", "restart":
		default:
			fields = append(fields, FieldError{"command", "must be start, stop or restart"})
		}
		return p, schemaErr(fields)

	case KindDockerStats:
		var p DockerStatsPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.ConnectionID == 0 {
			fields = append(fields, FieldError{"connectionId", "required"})
		}
		if p.ContainerID == "" {
			fields = append(fields, FieldError{"containerId", "required"})
		}
		return p, schemaErr(fields)

	case KindSFTPList, KindSFTPRead, KindSFTPMkdir, KindSFTPDelete, KindSFTPDownload:
		var p SFTPPathPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.SessionID == "" {
			fields = append(fields, FieldError{"sessionId", "required"})
		}
		fields = append(fields, checkPath("path", p.Path)...)
		return p, schemaErr(fields)

	case KindSFTPRename:
		var p SFTPRenamePayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.SessionID == "" {
			fields = append(fields, FieldError{"sessionId", "required"})
		}
		fields = append(fields, checkPath("oldPath", p.OldPath)...)
		fields = append(fields, checkPath("newPath", p.NewPath)...)
		return p, schemaErr(fields)

	case KindUploadStart:
		var p UploadStartPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.SessionID == "" {
			fields = append(fields, FieldError{"sessionId", "required"})
		}
		if p.UploadID == "" {
			fields = append(fields, FieldError{"uploadId", "required"})
		}
		if p.FileName == "" || strings.ContainsAny(p.FileName, "/\x00") {
			fields = append(fields, FieldError{"fileName", "required, no path separators"})
		}
		if p.FileSize <= 0 || p.FileSize > MaxFileSize {
			fields = append(fields, FieldError{"fileSize", fmt.Sprintf("must be 1..%d", int64(MaxFileSize))})
		}
		if p.ChunkSize <= 0 || p.ChunkSize > MaxChunkBase64 {
			fields = append(fields, FieldError{"chunkSize", fmt.Sprintf("must be 1..%d", MaxChunkBase64)})
		}
		fields = append(fields, checkPath("targetPath", p.TargetPath)...)
		return p, schemaErr(fields)

	case KindUploadChunk:
		var p UploadChunkPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.UploadID == "" {
			fields = append(fields, FieldError{"uploadId", "required"})
		}
		if p.ChunkIndex < 0 {
			fields = append(fields, FieldError{"chunkIndex", "must be non-negative"})
		}
		if p.Data == "" {
			fields = append(fields, FieldError{"data", "required"})
		} else if len(p.Data) > MaxChunkBase64 {
			fields = append(fields, FieldError{"data", fmt.Sprintf("exceeds %d base64 bytes", MaxChunkBase64)})
		}
		return p, schemaErr(fields)

	case KindUploadCancel:
		var p UploadCancelPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		if p.UploadID == "" {
			return nil, schemaErr([]FieldError{{"uploadId", "required"}})
		}
		return p, nil

	case KindSuspendMark:
		var p SuspendMarkPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		var fields []FieldError
		if p.SessionID == "" {
			fields = append(fields, FieldError{"sessionId", "required"})
		}
		if len(p.Buffer) > MaxChunkBase64 {
			fields = append(fields, FieldError{"buffer", fmt.Sprintf("exceeds %d bytes", MaxChunkBase64)})
		}
		return p, schemaErr(fields)

	case KindSuspendUnmark:
		var p SuspendUnmarkPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		if p.SessionID == "" {
			return nil, schemaErr([]FieldError{{"sessionId", "required"}})
		}
		return p, nil

	case KindSuspendResume, KindSuspendTerminate, KindSuspendRemove:
		var p SuspendIDPayload
		if verr := unmarshal(raw, &p); verr != nil {
			return nil, verr
		}
		if p.SuspendSessionID == "" {
			return nil, schemaErr([]FieldError{{"suspendSessionId", "required"}})
		}
		return p, nil

	case KindSuspendList, KindPing:
		// No payload.
		return nil, nil
	}

	return nil, &ValidationError{Code: ErrUnsupportedType}
}

func unmarshal(raw json.RawMessage, v any) *ValidationError {
	if len(raw) == 0 {
		return &ValidationError{
			Code:   ErrSchemaValidation,
			Fields: []FieldError{{Field: "payload", Message: "required"}},
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ValidationError{
			Code:   ErrSchemaValidation,
			Fields: []FieldError{{Field: "payload", Message: err.Error()}},
		}
	}
	return nil
}

func schemaErr(fields []FieldError) *ValidationError {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Code: ErrSchemaValidation, Fields: fields}
}

func checkDims(cols, rows uint16) []FieldError {
	var fields []FieldError
	if cols > MaxCols {
		fields = append(fields, FieldError{"cols", fmt.Sprintf("exceeds %d", MaxCols)})
	}
	if rows > MaxRows {
		fields = append(fields, FieldError{"rows", fmt.Sprintf("exceeds %d", MaxRows)})
	}
	return fields
}

func checkPath(field, path string) []FieldError {
	var fields []FieldError
	switch {
	case path == "":
		fields = append(fields, FieldError{field, "required"})
	case len(path) > MaxPathLen:
		fields = append(fields, FieldError{field, fmt.Sprintf("exceeds %d bytes", MaxPathLen)})
	case strings.ContainsRune(path, '\x00'):
		fields = append(fields, FieldError{field, "contains NUL"})
	case !strings.HasPrefix(path, "/"):
		fields = append(fields, FieldError{field, "must be absolute"})
	}
	return fields
}
