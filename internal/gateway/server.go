package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/session"
)

// Server exposes the gateway over HTTP: the websocket endpoint plus a health
// probe.
type Server struct {
	gw       *Gateway
	reg      *room.Registry
	sessions *session.Manager
	started  time.Time
}

func NewServer(gw *Gateway, reg *room.Registry, sessions *session.Manager) *Server {
	return &Server{gw: gw, reg: reg, sessions: sessions, started: time.Now()}
}

// Routes returns the HTTP mux for the arena server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// serveWS upgrades the connection and pumps frames into the gateway until the
// socket dies. Disconnect handling runs exactly once on exit.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}

	c := newWSConn(conn)
	ctx := r.Context()

	obslog.L().Info("ws_open", zap.String("conn_id", c.ID()))
	s.gw.HandleConnect(ctx, c)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			break
		}
		s.gw.Dispatch(ctx, c, raw)
	}

	s.gw.HandleDisconnect(c.ID())
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	obslog.L().Info("ws_close", zap.String("conn_id", c.ID()))
}

// Health is the /healthz payload.
type Health struct {
	Status    string `json:"status"`
	Rooms     int    `json:"rooms"`
	Sessions  int    `json:"sessions"`
	UptimeSec int64  `json:"uptimeSec"`
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Status:    "ok",
		Rooms:     s.reg.RoomCount(),
		Sessions:  s.sessions.Count(),
		UptimeSec: int64(time.Since(s.started).Seconds()),
	})
}
