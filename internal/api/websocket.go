package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Operations a client may send.
const (
	OpWatch    = "watch"
	OpUnwatch  = "unwatch"
	OpActivate = "activate"
	OpPing     = "ping"
)

// Frame kinds the server sends.
const (
	KindAck   = "ack"
	KindError = "error"
	KindPong  = "pong"

	// KindSlotChanged carries a SlotChangedEvent after every activation.
	KindSlotChanged = "slot.changed"
)

// Request is a client frame. Slots and Slot use "<contract>/<slot>" keys;
// the slot part may be the id or its slug.
type Request struct {
	Op  string `json:"op"`
	Ref string `json:"ref,omitempty"`

	// Slots filters watch and unwatch; empty means every slot.
	Slots []string `json:"slots,omitempty"`

	// Slot, Implementation and Settings are the activate arguments, with
	// the same meaning as the PUT /slots body.
	Slot           string         `json:"slot,omitempty"`
	Implementation *string        `json:"implementation,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
}

// Frame is a server frame. Ref echoes the request it answers.
type Frame struct {
	Kind string    `json:"kind"`
	Ref  string    `json:"ref,omitempty"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// FrameError is the Data of an error frame.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SlotChangedEvent is the Data of a slot.changed frame.
type SlotChangedEvent struct {
	Contract       string `json:"contract"`
	Slot           string `json:"slot"`
	Implementation string `json:"implementation"`
	DisplayName    string `json:"display_name"`
	Error          string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are filtered by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// watchSlots publishes every container change to the hub until the
// returned function is called.
func (s *Server) watchSlots() func() {
	return s.container.OnChange(func(ch component.Change) {
		event := SlotChangedEvent{
			Contract:       ch.Slot.Contract.Key(),
			Slot:           ch.Slot.ID,
			Implementation: ch.Implementation,
			DisplayName:    disabledChoice,
		}
		if impl, ok := s.container.Implementation(ch.Implementation); ok {
			event.DisplayName = impl.Describe().Name
		}
		if ch.Err != nil {
			event.Error = ch.Err.Error()
		}
		s.hub.Publish(ch.Slot.Key(), KindSlotChanged, event)
	})
}

// handleWebSocket upgrades the connection. With authentication enabled a
// ticket from POST /auth/ws-ticket is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		if !s.tickets.consume(ticket) {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(uuid.NewString())
	if !s.hub.add(client) {
		//nolint:errcheck // Best-effort close of a connection we cannot serve
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go s.writeLoop(conn, client)
	go s.readLoop(conn, client)
}

func (s *Server) wsTimeouts() (ping, pong time.Duration) {
	ping = time.Duration(s.wsCfg.PingInterval) * time.Second
	pong = time.Duration(s.wsCfg.PongTimeout) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

func (s *Server) readLoop(conn *websocket.Conn, c *wsClient) {
	defer func() {
		s.hub.remove(c)
		close(c.quit)
		conn.Close()
	}()

	ping, pong := s.wsTimeouts()
	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(ping + pong)) }
	if s.wsCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	//nolint:errcheck // A failed deadline surfaces as a read error
	extend("")
	conn.SetPongHandler(extend)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // A failed deadline surfaces as a read error
		extend("")

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(Frame{Kind: KindError, Data: FrameError{Code: ErrCodeBadRequest, Message: "invalid JSON frame"}})
			continue
		}
		c.reply(s.handleRequest(c, req))
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, c *wsClient) {
	ping, pong := s.wsTimeouts()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // A failed deadline surfaces as a write error
		conn.SetWriteDeadline(time.Now().Add(pong))
		return conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case data, ok := <-c.events:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			err = write(websocket.TextMessage, data)
		case data := <-c.replies:
			err = write(websocket.TextMessage, data)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		case <-c.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

// handleRequest executes one client request and returns the answer.
func (s *Server) handleRequest(c *wsClient, req Request) Frame {
	switch req.Op {
	case OpPing:
		return Frame{Kind: KindPong, Ref: req.Ref}

	case OpWatch, OpUnwatch:
		keys, views, err := s.resolveSlotKeys(req.Slots)
		if err != nil {
			return errorFrame(req.Ref, err)
		}
		if req.Op == OpUnwatch {
			c.unwatch(keys)
			return Frame{Kind: KindAck, Ref: req.Ref}
		}
		c.watch(keys)
		return Frame{Kind: KindAck, Ref: req.Ref, Data: map[string]any{"slots": views}}

	case OpActivate:
		info, err := s.findSlotKey(req.Slot)
		if err != nil {
			return errorFrame(req.Ref, err)
		}
		name := ""
		if req.Implementation != nil {
			name = *req.Implementation
		}
		if err := s.container.ActivateFlat(info.Ref.Contract, info.Ref.ID, name, req.Settings); err != nil {
			return errorFrame(req.Ref, err)
		}
		s.logger.Info("slot changed via websocket", "slot", info.Ref.Key(), "implementation", name, "client", c.id)
		for _, now := range s.container.Slots() {
			if now.Ref == info.Ref {
				return Frame{Kind: KindAck, Ref: req.Ref, Data: viewOf(now)}
			}
		}
		return Frame{Kind: KindAck, Ref: req.Ref}
	}
	return Frame{Kind: KindError, Ref: req.Ref, Data: FrameError{Code: ErrCodeBadRequest, Message: "unknown op: " + req.Op}}
}

// resolveSlotKeys canonicalises slot keys and returns the views of the
// slots they name. No keys selects every slot.
func (s *Server) resolveSlotKeys(keys []string) ([]string, []SlotView, error) {
	if len(keys) == 0 {
		slots := s.container.Slots()
		views := make([]SlotView, 0, len(slots))
		for _, info := range slots {
			views = append(views, viewOf(info))
		}
		return nil, views, nil
	}

	canonical := make([]string, 0, len(keys))
	views := make([]SlotView, 0, len(keys))
	for _, k := range keys {
		info, err := s.findSlotKey(k)
		if err != nil {
			return nil, nil, err
		}
		canonical = append(canonical, info.Ref.Key())
		views = append(views, viewOf(info))
	}
	return canonical, views, nil
}

func errorFrame(ref string, err error) Frame {
	_, code := containerErrorStatus(err)
	return Frame{Kind: KindError, Ref: ref, Data: FrameError{Code: code, Message: err.Error()}}
}
