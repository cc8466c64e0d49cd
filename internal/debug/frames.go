// Package debug implements the realtime pipeline debug session client.
//
// # Wire Protocol Overview
//
// The client speaks JSON text frames over a WebSocket at
// /api/v1/pipelines/{pipeline_id}/chat/ws. Every frame in both directions
// uses the same envelope:
//
//	{
//	    "type": "frame_type",
//	    "data": { ... }  // Optional, type-specific payload
//	}
package debug

import (
	"encoding/json"
	"time"

	"github.com/arkova/pipechat/internal/chat"
)

// Frame is the envelope for every WebSocket frame in both directions.
type Frame struct {
	Type string          `json:"type"`           // Frame type (see FrameType* constants)
	Data json.RawMessage `json:"data,omitempty"` // Type-specific payload
}

// ParseFrame parses raw frame bytes into a Frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// =============================================================================
// Client → Server Frame Types
// =============================================================================

const (
	// FrameTypeConnect opens a debug session on the pipeline.
	// Sent immediately after the transport opens.
	// Data: { "pipeline_uuid": string, "session_type": string, "token": string }
	FrameTypeConnect = "connect"

	// FrameTypeSendMessage sends a user message into the pipeline.
	// Data: { "message_chain": []segment, "client_message_id": string }
	FrameTypeSendMessage = "send_message"

	// FrameTypeLoadHistory requests prior messages of the session.
	// Data: { "before_message_id": int (optional), "limit": int (optional) }
	FrameTypeLoadHistory = "load_history"

	// FrameTypeInterrupt requests interruption of a streaming reply.
	// Data: { "message_id": int }
	FrameTypeInterrupt = "interrupt"

	// FrameTypePing is the application-level heartbeat.
	// Data: { "timestamp": int64 (Unix ms) }
	FrameTypePing = "ping"
)

// =============================================================================
// Server → Client Frame Types
// =============================================================================

const (
	// FrameTypeConnected confirms the session is open.
	// Data: { "connection_id": string, "session_type": string, "pipeline_uuid": string }
	FrameTypeConnected = "connected"

	// FrameTypeHistory carries a page of prior messages.
	// Data: { "messages": []message, "has_more": bool }
	FrameTypeHistory = "history"

	// FrameTypeMessageSent acknowledges a send_message and assigns the
	// server-side message id.
	// Data: { "client_message_id": string, "server_message_id": int, "timestamp": string }
	FrameTypeMessageSent = "message_sent"

	// FrameTypeMessageStart opens a streamed assistant reply.
	// Data: { "message_id": int, "role": string, "timestamp": string, "reply_to": int (optional) }
	FrameTypeMessageStart = "message_start"

	// FrameTypeMessageChunk carries a cumulative snapshot of a streaming
	// reply. Content and message_chain replace the previous snapshot; they
	// are never deltas.
	// Data: { "message_id": int, "content": string, "message_chain": []segment, "timestamp": string }
	FrameTypeMessageChunk = "message_chunk"

	// FrameTypeMessageComplete carries the terminal snapshot of a reply.
	// Data: { "message_id": int, "final_content": string, "message_chain": []segment, "timestamp": string }
	FrameTypeMessageComplete = "message_complete"

	// FrameTypeMessageError reports a failure of a streaming reply. The
	// placeholder message is left in place for inspection.
	// Data: { "message_id": int, "error": string, "error_code": string (optional) }
	FrameTypeMessageError = "message_error"

	// FrameTypeInterrupted confirms an interrupt request.
	// Data: { "message_id": int, "partial_content": string }
	FrameTypeInterrupted = "interrupted"

	// FrameTypePluginMessage carries an out-of-band assistant message pushed
	// by a plugin, not tied to any send_message.
	// Data: { "message_id": int, "role": string, "content": string,
	//         "message_chain": []segment, "timestamp": string, "source": string }
	FrameTypePluginMessage = "plugin_message"

	// FrameTypeError reports a session-level error. The connection stays open.
	// Data: { "error": string, "error_code": string, "details": object (optional) }
	FrameTypeError = "error"

	// FrameTypePong answers a ping. Transport bookkeeping only; no handler
	// is dispatched.
	// Data: { "timestamp": int64 }
	FrameTypePong = "pong"
)

// --- Client → server payloads ---

type connectPayload struct {
	PipelineUUID string `json:"pipeline_uuid"`
	SessionType  string `json:"session_type"`
	Token        string `json:"token"`
}

type sendMessagePayload struct {
	MessageChain    chat.Chain `json:"message_chain"`
	ClientMessageID string     `json:"client_message_id"`
}

type loadHistoryPayload struct {
	BeforeMessageID int64 `json:"before_message_id,omitempty"`
	Limit           int   `json:"limit,omitempty"`
}

type interruptPayload struct {
	MessageID int64 `json:"message_id"`
}

type pingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// --- Server → client payloads ---

type connectedData struct {
	ConnectionID string `json:"connection_id"`
	SessionType  string `json:"session_type"`
	PipelineUUID string `json:"pipeline_uuid"`
}

type historyData struct {
	Messages []wireMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

type messageSentData struct {
	ClientMessageID string `json:"client_message_id"`
	ServerMessageID int64  `json:"server_message_id"`
	Timestamp       string `json:"timestamp"`
}

type messageStartData struct {
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	ReplyTo   *int64 `json:"reply_to,omitempty"`
}

type messageChunkData struct {
	MessageID    int64      `json:"message_id"`
	Content      string     `json:"content"`
	MessageChain chat.Chain `json:"message_chain,omitempty"`
	Timestamp    string     `json:"timestamp"`
}

type messageCompleteData struct {
	MessageID    int64      `json:"message_id"`
	FinalContent string     `json:"final_content"`
	MessageChain chat.Chain `json:"message_chain,omitempty"`
	Timestamp    string     `json:"timestamp"`
}

type messageErrorData struct {
	MessageID int64  `json:"message_id"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code,omitempty"`
}

type interruptedData struct {
	MessageID      int64  `json:"message_id"`
	PartialContent string `json:"partial_content"`
}

type pluginMessageData struct {
	MessageID    int64      `json:"message_id"`
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	MessageChain chat.Chain `json:"message_chain,omitempty"`
	Timestamp    string     `json:"timestamp"`
	Source       string     `json:"source,omitempty"`
}

type errorData struct {
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type pongData struct {
	Timestamp int64 `json:"timestamp"`
}

// wireMessage is a chat message as represented on the wire, with its
// RFC 3339 timestamp still a string.
type wireMessage struct {
	ID        int64      `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Chain     chat.Chain `json:"message_chain,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// toMessage converts a wire message to the in-memory model. An unparsable
// timestamp is left at its zero value rather than failing the whole frame.
func (w wireMessage) toMessage() chat.Message {
	ts, _ := time.Parse(time.RFC3339, w.Timestamp)
	return chat.Message{
		ID:        w.ID,
		Role:      chat.Role(w.Role),
		Content:   w.Content,
		Chain:     w.Chain,
		Timestamp: ts,
	}
}
