package debug

import (
	"time"

	"github.com/arkova/pipechat/internal/chat"
)

// Handlers defines callbacks for debug session events.
// All callbacks are optional; nil callbacks are ignored. At most one handler
// exists per event type. Callbacks are invoked from the client's read loop,
// so they must not block.
type Handlers struct {
	// OnConnected is called when the server confirms the session, with the
	// server-assigned connection id.
	OnConnected func(connectionID string)

	// OnHistory is called when a page of prior messages has been merged
	// into the session. hasMore indicates older pages exist.
	OnHistory func(messages []chat.Message, hasMore bool)

	// OnMessageSent is called when a send is acknowledged and the
	// provisional message has been reconciled to its server id.
	OnMessageSent func(clientMessageID string, serverMessageID int64)

	// OnMessageStart is called when a streamed assistant reply opens.
	OnMessageStart func(msg chat.Message)

	// OnMessageChunk is called after a snapshot chunk has been applied.
	// msg carries the full accumulated content so far.
	OnMessageChunk func(msg chat.Message)

	// OnMessageComplete is called when a reply reaches its terminal content.
	OnMessageComplete func(msg chat.Message)

	// OnMessageError is called when a reply fails. The placeholder message
	// is left in the session untouched.
	OnMessageError func(messageID int64, errMsg, code string)

	// OnInterrupted is called when the server confirms an interrupt. The
	// client does not finalize the message content; rendering the partial
	// state is the caller's decision.
	OnInterrupted func(messageID int64, partialContent string)

	// OnPluginMessage is called when a plugin pushes an out-of-band message.
	// source names the plugin that produced it; it may be empty.
	OnPluginMessage func(msg chat.Message, source string)

	// OnError is called for session-level errors. The connection stays open.
	OnError func(errMsg, code string)

	// OnDisconnected is called when the transport closes, with the causing
	// error (nil on clean closure).
	OnDisconnected func(err error)

	// OnReconnecting is called when an automatic reconnect attempt has been
	// scheduled. attempt is 1-based.
	OnReconnecting func(attempt int, delay time.Duration)
}
