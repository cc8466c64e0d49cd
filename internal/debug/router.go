package debug

import (
	"encoding/json"
	"time"

	"github.com/arkova/pipechat/internal/chat"
)

// dispatch routes one inbound frame to its handler. A bad frame is logged
// and dropped; it never closes the transport or blocks later frames.
func (c *Client) dispatch(raw []byte) {
	f, err := ParseFrame(raw)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch f.Type {
	case FrameTypeConnected:
		var d connectedData
		if !c.decode(f, &d) {
			return
		}
		c.session.setConnectionID(d.ConnectionID)
		c.logger.Info("session confirmed", "connection_id", d.ConnectionID)
		if h := c.handlers.OnConnected; h != nil {
			h(d.ConnectionID)
		}
		// Catch up on prior messages before anything streams.
		if err := c.writeFrame(FrameTypeLoadHistory, loadHistoryPayload{Limit: c.historyLimit}); err != nil {
			c.logger.Warn("history request failed", "error", err)
		}

	case FrameTypeHistory:
		var d historyData
		if !c.decode(f, &d) {
			return
		}
		msgs := make([]chat.Message, len(d.Messages))
		for i, wm := range d.Messages {
			msgs[i] = wm.toMessage()
		}
		merged := c.session.mergeHistory(msgs, d.HasMore)
		if h := c.handlers.OnHistory; h != nil {
			h(merged, d.HasMore)
		}

	case FrameTypeMessageSent:
		var d messageSentData
		if !c.decode(f, &d) {
			return
		}
		if !c.session.reconcile(d.ClientMessageID, d.ServerMessageID) {
			// Duplicate or late acknowledgement; nothing to mutate.
			c.logger.Debug("ignoring acknowledgement with no pending entry",
				"client_message_id", d.ClientMessageID)
			return
		}
		if h := c.handlers.OnMessageSent; h != nil {
			h(d.ClientMessageID, d.ServerMessageID)
		}

	case FrameTypeMessageStart:
		var d messageStartData
		if !c.decode(f, &d) {
			return
		}
		if c.session.isTerminal(d.MessageID) {
			c.logger.Debug("ignoring start for finished message", "message_id", d.MessageID)
			return
		}
		ts, _ := time.Parse(time.RFC3339, d.Timestamp)
		msg, created := c.session.startReply(d.MessageID, d.Role, ts)
		if !created {
			c.logger.Debug("ignoring duplicate start", "message_id", d.MessageID)
			return
		}
		if h := c.handlers.OnMessageStart; h != nil {
			h(msg)
		}

	case FrameTypeMessageChunk:
		var d messageChunkData
		if !c.decode(f, &d) {
			return
		}
		msg, ok := c.session.applySnapshot(d.MessageID, d.Content, d.MessageChain)
		if !ok {
			c.logger.Debug("dropping chunk for unknown or finished message",
				"message_id", d.MessageID)
			return
		}
		if h := c.handlers.OnMessageChunk; h != nil {
			h(msg)
		}

	case FrameTypeMessageComplete:
		var d messageCompleteData
		if !c.decode(f, &d) {
			return
		}
		msg, ok := c.session.applySnapshot(d.MessageID, d.FinalContent, d.MessageChain)
		c.session.markTerminal(d.MessageID)
		if !ok {
			c.logger.Debug("dropping completion for unknown or finished message",
				"message_id", d.MessageID)
			return
		}
		if h := c.handlers.OnMessageComplete; h != nil {
			h(msg)
		}

	case FrameTypeMessageError:
		var d messageErrorData
		if !c.decode(f, &d) {
			return
		}
		if c.session.isTerminal(d.MessageID) {
			return
		}
		// The placeholder stays in the session so partial output remains
		// inspectable.
		c.session.markTerminal(d.MessageID)
		c.logger.Warn("message failed", "message_id", d.MessageID, "error", d.Error)
		if h := c.handlers.OnMessageError; h != nil {
			h(d.MessageID, d.Error, d.ErrorCode)
		}

	case FrameTypeInterrupted:
		var d interruptedData
		if !c.decode(f, &d) {
			return
		}
		c.session.markTerminal(d.MessageID)
		if h := c.handlers.OnInterrupted; h != nil {
			h(d.MessageID, d.PartialContent)
		}

	case FrameTypePluginMessage:
		var d pluginMessageData
		if !c.decode(f, &d) {
			return
		}
		ts, _ := time.Parse(time.RFC3339, d.Timestamp)
		role := chat.Role(d.Role)
		if role == "" {
			role = chat.RoleAssistant
		}
		msg := chat.Message{
			ID:        d.MessageID,
			Role:      role,
			Content:   d.Content,
			Chain:     d.MessageChain,
			Timestamp: ts,
		}
		c.session.appendMessage(msg)
		if h := c.handlers.OnPluginMessage; h != nil {
			h(msg, d.Source)
		}

	case FrameTypeError:
		var d errorData
		if !c.decode(f, &d) {
			return
		}
		c.logger.Warn("server error", "error", d.Error, "code", d.ErrorCode)
		if h := c.handlers.OnError; h != nil {
			h(d.Error, d.ErrorCode)
		}

	case FrameTypePong:
		var d pongData
		if !c.decode(f, &d) {
			return
		}
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

	default:
		c.logger.Warn("dropping frame with unknown type", "type", f.Type)
	}
}

// decode unmarshals a frame payload, logging and rejecting bad payloads.
// A missing payload decodes to the zero value.
func (c *Client) decode(f Frame, v any) bool {
	if len(f.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.logger.Warn("dropping frame with malformed payload", "type", f.Type, "error", err)
		return false
	}
	return true
}
