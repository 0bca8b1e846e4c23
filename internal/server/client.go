package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/pitchside-ai/pitchside/internal/conversation"
)

// client is one websocket connection. A connection owns at most one session
// at a time; opening a second session before the first terminates is a
// protocol error.
type client struct {
	srv  *Server
	conn *websocket.Conn

	// writeMu serialises frame writes; events arrive from session actor
	// goroutines concurrently with command replies.
	writeMu sync.Mutex

	// sessionMu guards sessionID.
	sessionMu sync.Mutex
	sessionID string
}

// serve runs the read loop until the connection drops or ctx is cancelled.
// A still-open session is cancelled on the way out, which terminates it as
// abandoned and archives the partial record.
func (c *client) serve(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "bye")

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.hangup(err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			c.handleChunk(ctx, data)
		case websocket.MessageText:
			c.handleCommand(ctx, data)
		}
	}
}

// hangup handles the end of the read loop: an open session means the user
// disconnected mid-conversation, which counts as abandonment.
func (c *client) hangup(readErr error) {
	sid := c.session()
	if sid == "" {
		return
	}

	status := websocket.CloseStatus(readErr)
	if status == -1 && !errors.Is(readErr, context.Canceled) {
		slog.Debug("websocket read failed", "session_id", sid, "err", readErr)
	}

	c.detach(sid)
	c.srv.unregister(sid, c)
	if err := c.srv.manager.Cancel(sid); err != nil && !errors.Is(err, conversation.ErrSessionNotFound) {
		slog.Warn("cancel on disconnect failed", "session_id", sid, "err", err)
	}
}

func (c *client) handleChunk(ctx context.Context, data []byte) {
	sid := c.session()
	if sid == "" {
		c.writeError("", "no open session for audio")
		return
	}
	if err := c.srv.manager.PushChunk(ctx, sid, data); err != nil {
		c.writeError(sid, err.Error())
	}
}

func (c *client) handleCommand(ctx context.Context, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.writeError("", "malformed command: "+err.Error())
		return
	}

	switch cmd.Type {
	case cmdOpen:
		c.open(ctx, cmd)
	case cmdEndUtterance:
		c.endUtterance(ctx)
	case cmdCancel:
		c.cancel()
	case cmdStatus:
		c.status()
	default:
		c.writeError(c.session(), "unknown command type "+cmd.Type)
	}
}

func (c *client) open(ctx context.Context, cmd command) {
	c.sessionMu.Lock()
	if c.sessionID != "" {
		sid := c.sessionID
		c.sessionMu.Unlock()
		c.writeError(sid, "a session is already open on this connection")
		return
	}
	c.sessionMu.Unlock()

	sid, err := c.srv.manager.Open(ctx, cmd.UserID, cmd.ActivityType)
	if err != nil {
		c.writeError("", err.Error())
		return
	}

	c.sessionMu.Lock()
	c.sessionID = sid
	c.sessionMu.Unlock()
	c.srv.register(sid, c)

	c.writeEvent(event{Type: evtOpened, SessionID: sid})
}

// endUtterance triggers turn processing in a separate goroutine so the read
// loop stays free: a spoken answer can take seconds of transcription and
// extraction, and the user must still be able to cancel meanwhile.
func (c *client) endUtterance(ctx context.Context) {
	sid := c.session()
	if sid == "" {
		c.writeError("", "no open session")
		return
	}
	go func() {
		if err := c.srv.manager.EndUtterance(ctx, sid); err != nil &&
			!errors.Is(err, conversation.ErrSessionNotFound) {
			c.writeError(sid, err.Error())
		}
	}()
}

func (c *client) cancel() {
	sid := c.session()
	if sid == "" {
		c.writeError("", "no open session")
		return
	}
	if err := c.srv.manager.Cancel(sid); err != nil &&
		!errors.Is(err, conversation.ErrSessionNotFound) {
		c.writeError(sid, err.Error())
	}
}

func (c *client) status() {
	sid := c.session()
	if sid == "" {
		c.writeError("", "no open session")
		return
	}
	st, err := c.srv.manager.Status(sid)
	if err != nil {
		c.writeError(sid, err.Error())
		return
	}
	c.writeEvent(event{Type: evtStatus, SessionID: sid, Status: &st})
}

// session returns the connection's current session id, or "".
func (c *client) session() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.sessionID
}

// detach clears the connection's session binding if it still points at sid,
// freeing the connection for a new "open" command.
func (c *client) detach(sid string) {
	c.sessionMu.Lock()
	if c.sessionID == sid {
		c.sessionID = ""
	}
	c.sessionMu.Unlock()
}

func (c *client) writeError(sessionID, msg string) {
	c.writeEvent(event{Type: evtError, SessionID: sessionID, Text: msg})
}

// writeEvent marshals and sends one text frame. Write failures are logged and
// swallowed; the read loop notices the broken connection and cleans up.
func (c *client) writeEvent(evt event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("event marshal failed", "type", evt.Type, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("event write failed", "type", evt.Type, "err", err)
	}
}
