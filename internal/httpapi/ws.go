package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gamereview/api/internal/analysis"
	"github.com/gamereview/api/internal/game"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 30 * time.Second
)

// wsMessage is one server-to-client frame. Type is "progress", "ply",
// "result", or "error".
type wsMessage struct {
	Type     string                 `json:"type"`
	State    analysis.State         `json:"state,omitempty"`
	Done     int                    `json:"done,omitempty"`
	Total    int                    `json:"total,omitempty"`
	Ply      *analysis.PlyAnalysis  `json:"ply,omitempty"`
	Analysis *analysis.GameAnalysis `json:"analysis,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// analyzeWS streams one analysis over a websocket: the client sends a
// single analyze request, the server streams progress and per-ply
// verdicts, then the full result, then closes.
func (h *Handler) analyzeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxPGNBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

	var req analyzeRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.wsSend(conn, wsMessage{Type: "error", Error: "invalid request: " + err.Error()})
		return
	}
	if req.PGN == "" {
		h.wsSend(conn, wsMessage{Type: "error", Error: "pgn is required"})
		return
	}

	g, err := game.Parse(req.PGN)
	if err != nil {
		h.wsSend(conn, wsMessage{Type: "error", Error: "invalid pgn: " + err.Error()})
		return
	}

	// Surface client disconnects as context cancellation so the
	// pipeline stops burning engine time.
	_ = conn.SetReadDeadline(time.Time{})
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	result, err := h.analyzer.Analyze(ctx, g, func(ev analysis.ProgressEvent) {
		msg := wsMessage{Type: "progress", State: ev.State, Done: ev.Done, Total: ev.Total}
		if ev.Ply != nil {
			msg.Type = "ply"
			msg.Ply = ev.Ply
		}
		h.wsSend(conn, msg)
	}, req.options()...)
	if err != nil {
		if ctx.Err() == nil {
			h.wsSend(conn, wsMessage{Type: "error", Error: "analysis failed: " + err.Error()})
		}
		return
	}

	h.served.Add(1)
	h.save(ctx, result)
	h.wsSend(conn, wsMessage{Type: "result", State: result.State, Analysis: result})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

func (h *Handler) wsSend(conn *websocket.Conn, msg wsMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug().Err(err).Msg("websocket write failed")
	}
}
