package gateway

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/session"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Gateway owns the socket table and translates wire frames into registry and
// session operations. It is the only layer that knows about JSON or
// connections; everything below it works with ids and typed results.
type Gateway struct {
	mu    sync.RWMutex
	conns map[string]Conn

	reg      *room.Registry
	sessions *session.Manager
	cat      *msgcat.Catalog
}

func New(reg *room.Registry, sessions *session.Manager, cat *msgcat.Catalog) *Gateway {
	g := &Gateway{
		conns:    make(map[string]Conn),
		reg:      reg,
		sessions: sessions,
		cat:      cat,
	}
	sessions.OnTick = g.onClockTick
	sessions.OnFlagFall = g.onFlagFall
	return g
}

// HandleConnect registers the socket and greets it.
func (g *Gateway) HandleConnect(ctx context.Context, c Conn) {
	g.mu.Lock()
	g.conns[c.ID()] = c
	g.mu.Unlock()

	g.send(ctx, c.ID(), arenadto.Connected{Type: arenadto.TypeConnected})
}

// HandleDisconnect runs when a socket closes for any reason. A player in a
// started game keeps their seat and enters the reconnection grace window;
// everyone else is removed outright.
func (g *Gateway) HandleDisconnect(connID string) {
	g.mu.Lock()
	delete(g.conns, connID)
	g.mu.Unlock()

	roomID, p, ok := g.reg.Resolve(connID)
	if !ok {
		return
	}

	if p.Role == arenadto.RolePlayer && g.reg.PlayerCount(roomID) == 2 && g.sessions.Exists(roomID) {
		g.reg.MarkDisconnected(connID, g.onGraceExpired)
		return
	}

	deletedRoom, deleted := g.reg.RemoveClient(connID)
	if deleted {
		g.sessions.Remove(deletedRoom)
	}
}

// onGraceExpired fires from the registry's grace timer. State is re-resolved
// from scratch; a room torn down in the meantime makes this a no-op.
func (g *Gateway) onGraceExpired(roomID, userID string) {
	p, ok := g.reg.PlayerByUser(roomID, userID)
	if !ok {
		return
	}

	if g.reg.PlayerCount(roomID) == 2 {
		if loser, ended := g.sessions.ForceTimeoutLoss(roomID, p.Color); ended {
			g.broadcast(roomID, arenadto.GameOver{
				Type:   arenadto.TypeGameOver,
				Reason: arenadto.ReasonTimeout,
				Winner: loser.Opponent(),
				Loser:  loser,
			})
			g.teardownRoom(roomID)
			return
		}
	}

	deletedRoom, deleted := g.reg.RemoveClient(p.ConnID)
	if deleted {
		g.sessions.Remove(deletedRoom)
	}
}

// Dispatch routes one decoded frame. Frames that fail to decode for a known
// type are dropped; the client is already off-protocol.
func (g *Gateway) Dispatch(ctx context.Context, c Conn, raw json.RawMessage) {
	var env arenadto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Type {
	case arenadto.TypeCreate:
		g.handleCreate(ctx, c, raw)
	case arenadto.TypeJoin:
		g.handleJoin(ctx, c, raw)
	case arenadto.TypeMove:
		g.handleMove(ctx, c, raw)
	case arenadto.TypeResign:
		g.handleResign(ctx, c)
	case arenadto.TypeDrawOffer:
		g.handleDrawOffer(ctx, c)
	case arenadto.TypeDrawResponse:
		g.handleDrawResponse(ctx, c, raw)
	case arenadto.TypeReconnect:
		g.handleReconnect(ctx, c, raw)
	case arenadto.TypeStatusCheck:
		g.handleStatus(ctx, c)
	case arenadto.TypeLeave:
		g.handleLeave(ctx, c)
	default:
		g.sendError(ctx, c.ID(), "error.unknown_type")
	}
}

func (g *Gateway) handleCreate(ctx context.Context, c Conn, raw json.RawMessage) {
	var req arenadto.CreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	tc := req.TimeControl
	if tc.Time <= 0 {
		tc.Time = 300
	}
	if tc.Increment < 0 {
		tc.Increment = 0
	}

	color := arenadto.White
	switch strings.ToLower(strings.TrimSpace(req.ColorChoice)) {
	case "black":
		color = arenadto.Black
	case "random":
		color = randomColor()
	}

	roomID, err := g.reg.CreateRoom(c.ID(), tc, color, strings.TrimSpace(req.UserID), strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, room.ErrRoomLimit) {
			g.sendError(ctx, c.ID(), "error.server_full")
			return
		}
		g.sendError(ctx, c.ID(), "error.room_not_found")
		return
	}
	g.sessions.Create(roomID, tc)

	g.send(ctx, c.ID(), arenadto.RoomCreated{Type: arenadto.TypeRoomCreated, RoomID: roomID})
}

func (g *Gateway) handleJoin(ctx context.Context, c Conn, raw json.RawMessage) {
	var req arenadto.JoinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	roomID := strings.TrimSpace(req.RoomID)
	res := g.reg.JoinRoom(c.ID(), roomID, strings.TrimSpace(req.UserID), strings.TrimSpace(req.Name))
	if !res.Found {
		g.sendError(ctx, c.ID(), "error.room_not_found")
		return
	}

	g.send(ctx, c.ID(), arenadto.Joined{Type: arenadto.TypeJoined, Role: res.Role, RoomID: roomID})

	if res.Rejoined {
		g.sendReconnected(ctx, c.ID(), roomID, res.Color)
		return
	}

	if res.GameReady {
		g.broadcastGameStart(ctx, roomID)
		return
	}

	if res.Role == arenadto.RoleSpectator {
		// Late spectators get the live position so they can render the
		// board without waiting for the next move.
		g.sendGameStartTo(ctx, c.ID(), roomID, "")
	}
}

// broadcastGameStart sends a per-recipient game_start: players learn their
// own color, spectators get none.
func (g *Gateway) broadcastGameStart(ctx context.Context, roomID string) {
	players := g.reg.Players(roomID)
	if len(players) < 2 {
		return
	}
	snap, ok := g.sessions.CurrentSnapshot(roomID)
	if !ok {
		return
	}

	base := arenadto.GameStart{
		Type:         arenadto.TypeGameStart,
		Position:     snap.Position,
		TimeControl:  snap.TimeControl,
		Player1:      players[0].Name,
		Player2:      players[1].Name,
		Player1Color: players[0].Color,
		Player2Color: players[1].Color,
	}

	for _, connID := range g.reg.ConnIDs(roomID) {
		msg := base
		for _, p := range players {
			if p.ConnID == connID {
				msg.Color = p.Color
				break
			}
		}
		g.send(ctx, connID, msg)
	}

	obslog.L().Info("gateway_game_start",
		zap.String("room_id", roomID),
		zap.String("player1", players[0].Name),
		zap.String("player2", players[1].Name),
	)
}

func (g *Gateway) sendGameStartTo(ctx context.Context, connID, roomID string, color arenadto.Color) {
	players := g.reg.Players(roomID)
	if len(players) < 2 {
		return
	}
	snap, ok := g.sessions.CurrentSnapshot(roomID)
	if !ok {
		return
	}
	g.send(ctx, connID, arenadto.GameStart{
		Type:         arenadto.TypeGameStart,
		Position:     snap.Position,
		Color:        color,
		TimeControl:  snap.TimeControl,
		Player1:      players[0].Name,
		Player2:      players[1].Name,
		Player1Color: players[0].Color,
		Player2Color: players[1].Color,
	})
}

func (g *Gateway) handleMove(ctx context.Context, c Conn, raw json.RawMessage) {
	var req arenadto.MoveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	roomID, p, ok := g.reg.Resolve(c.ID())
	if !ok || p.Role != arenadto.RolePlayer {
		g.sendError(ctx, c.ID(), "error.player_not_found")
		return
	}

	res := g.sessions.MakeMove(roomID, req.From, req.To, req.Promotion, p.Color)
	switch res.Code {
	case session.MoveSessionNotFound:
		g.sendError(ctx, c.ID(), "error.game_not_found")
	case session.MoveNotYourTurn:
		g.sendError(ctx, c.ID(), "error.not_your_turn")
	case session.MoveIllegal:
		g.sendError(ctx, c.ID(), "error.illegal_move")
	case session.MoveTimedOut:
		g.broadcast(roomID, arenadto.GameOver{
			Type:   arenadto.TypeGameOver,
			Reason: arenadto.ReasonTimeout,
			Winner: res.Winner,
			Loser:  res.Winner.Opponent(),
		})
		g.teardownRoom(roomID)
	case session.MoveOK:
		g.broadcast(roomID, arenadto.MoveMade{
			Type: arenadto.TypeMoveMade,
			Move: arenadto.MoveDetail{
				From:      res.Move.From,
				To:        res.Move.To,
				Promotion: res.Move.Promotion,
				Piece:     res.Move.Piece,
				SAN:       res.Move.SAN,
				Captured:  res.Move.Captured,
			},
			Position:      res.Position,
			RemainingTime: res.Remaining,
			History:       res.History,
		})
		if !res.GameOver {
			return
		}
		if res.Draw {
			g.broadcast(roomID, arenadto.GameOver{
				Type:       arenadto.TypeGameOver,
				Reason:     arenadto.ReasonDraw,
				DrawReason: string(res.DrawReason),
			})
		} else {
			g.broadcast(roomID, arenadto.GameOver{
				Type:   arenadto.TypeGameOver,
				Reason: arenadto.ReasonCheckmate,
				Winner: res.Winner,
				Loser:  res.Winner.Opponent(),
			})
		}
		g.teardownRoom(roomID)
	}
}

func (g *Gateway) handleResign(ctx context.Context, c Conn) {
	roomID, p, ok := g.reg.Resolve(c.ID())
	if !ok || p.Role != arenadto.RolePlayer {
		g.sendError(ctx, c.ID(), "error.player_not_found")
		return
	}

	winner, ended := g.sessions.Resign(roomID, p.Color)
	if !ended {
		g.sendError(ctx, c.ID(), "error.game_not_found")
		return
	}

	g.broadcast(roomID, arenadto.GameOver{
		Type:   arenadto.TypeGameOver,
		Reason: arenadto.ReasonResign,
		Winner: winner,
		Loser:  p.Color,
	})
	g.teardownRoom(roomID)
}

func (g *Gateway) handleDrawOffer(ctx context.Context, c Conn) {
	roomID, p, ok := g.reg.Resolve(c.ID())
	if !ok || p.Role != arenadto.RolePlayer {
		g.sendError(ctx, c.ID(), "error.player_not_found")
		return
	}
	if !g.sessions.Exists(roomID) {
		g.sendError(ctx, c.ID(), "error.game_not_found")
		return
	}
	if !g.reg.SetDrawOffer(roomID, p.Color) {
		return
	}

	if opp, found := g.reg.PlayerByColor(roomID, p.Color.Opponent()); found && !opp.Disconnected {
		g.send(ctx, opp.ConnID, arenadto.DrawOffer{Type: arenadto.TypeDrawOffer})
	}
}

func (g *Gateway) handleDrawResponse(ctx context.Context, c Conn, raw json.RawMessage) {
	var req arenadto.DrawResponseRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	roomID, p, ok := g.reg.Resolve(c.ID())
	if !ok || p.Role != arenadto.RolePlayer {
		g.sendError(ctx, c.ID(), "error.player_not_found")
		return
	}

	offer, valid := g.reg.TakeDrawOffer(roomID, p.Color)
	if !valid {
		return
	}

	if !req.Accepted {
		if offerer, found := g.reg.PlayerByColor(roomID, offer.OfferedBy); found && !offerer.Disconnected {
			g.send(ctx, offerer.ConnID, arenadto.DrawRejected{Type: arenadto.TypeDrawRejected})
		}
		return
	}

	if g.sessions.EndInDraw(roomID) {
		g.broadcast(roomID, arenadto.GameOver{
			Type:   arenadto.TypeGameOver,
			Reason: arenadto.ReasonDraw,
		})
		g.teardownRoom(roomID)
	}
}

func (g *Gateway) handleReconnect(ctx context.Context, c Conn, raw json.RawMessage) {
	var req arenadto.ReconnectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	p, err := g.reg.Reconnect(strings.TrimSpace(req.RoomID), strings.TrimSpace(req.UserID), c.ID())
	if err != nil {
		g.sendError(ctx, c.ID(), "error.reconnect_failed")
		return
	}

	g.send(ctx, c.ID(), arenadto.Joined{Type: arenadto.TypeJoined, Role: arenadto.RolePlayer, RoomID: req.RoomID})
	g.sendReconnected(ctx, c.ID(), strings.TrimSpace(req.RoomID), p.Color)
}

func (g *Gateway) sendReconnected(ctx context.Context, connID, roomID string, color arenadto.Color) {
	snap, ok := g.sessions.CurrentSnapshot(roomID)
	if !ok {
		return
	}
	g.send(ctx, connID, arenadto.Reconnected{
		Type:          arenadto.TypeReconnected,
		Color:         color,
		Position:      snap.Position,
		TimeControl:   snap.TimeControl,
		RemainingTime: snap.Remaining,
		History:       snap.History,
	})
}

func (g *Gateway) handleStatus(ctx context.Context, c Conn) {
	roomID, _, ok := g.reg.Resolve(c.ID())
	if !ok {
		g.send(ctx, c.ID(), arenadto.Status{Type: arenadto.TypeStatus})
		return
	}

	msg := arenadto.Status{
		Type:   arenadto.TypeStatus,
		InGame: g.sessions.Exists(roomID),
		RoomID: roomID,
	}
	if tc, found := g.reg.TimeControl(roomID); found {
		msg.TimeControl = &tc
	}
	if white, found := g.reg.PlayerByColor(roomID, arenadto.White); found {
		msg.WhiteName = white.Name
		msg.WhitePlayerUserID = white.UserID
	}
	if black, found := g.reg.PlayerByColor(roomID, arenadto.Black); found {
		msg.BlackName = black.Name
		msg.BlackPlayerUserID = black.UserID
	}
	if msg.WhiteName != "" || msg.BlackName != "" {
		msg.Players = &arenadto.StatusPlayers{White: msg.WhiteName, Black: msg.BlackName}
	}

	g.send(ctx, c.ID(), msg)
}

// handleLeave is an explicit exit. Leaving a live two-player game counts as a
// resignation; otherwise the seat is simply released.
func (g *Gateway) handleLeave(ctx context.Context, c Conn) {
	roomID, p, ok := g.reg.Resolve(c.ID())
	if !ok {
		return
	}

	if p.Role == arenadto.RolePlayer && g.reg.PlayerCount(roomID) == 2 {
		if winner, ended := g.sessions.Resign(roomID, p.Color); ended {
			g.broadcast(roomID, arenadto.GameOver{
				Type:   arenadto.TypeGameOver,
				Reason: arenadto.ReasonResign,
				Winner: winner,
				Loser:  p.Color,
			})
			g.teardownRoom(roomID)
			return
		}
	}

	deletedRoom, deleted := g.reg.RemoveClient(c.ID())
	if deleted {
		g.sessions.Remove(deletedRoom)
	}
}

// ---- session callbacks ----

func (g *Gateway) onClockTick(roomID string, remaining arenadto.RemainingTime) {
	g.broadcast(roomID, arenadto.ClockTick{Type: arenadto.TypeClockTick, RemainingTime: remaining})
}

// onFlagFall runs after the session already tore itself down; only the
// announcement and room cleanup remain.
func (g *Gateway) onFlagFall(roomID string, loser arenadto.Color) {
	g.broadcast(roomID, arenadto.GameOver{
		Type:   arenadto.TypeGameOver,
		Reason: arenadto.ReasonTimeout,
		Winner: loser.Opponent(),
		Loser:  loser,
	})
	g.teardownRoom(roomID)
}

// teardownRoom finishes a room whose game has ended. The broadcast of the
// outcome must happen before this; afterwards the bindings are gone.
func (g *Gateway) teardownRoom(roomID string) {
	g.sessions.Remove(roomID)
	g.reg.RemoveRoom(roomID)
}

// ---- plumbing ----

func (g *Gateway) send(ctx context.Context, connID string, msg any) {
	g.mu.RLock()
	c := g.conns[connID]
	g.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.Send(ctx, msg); err != nil {
		obslog.L().Debug("gateway_send_failed",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
	}
}

func (g *Gateway) broadcast(roomID string, msg any) {
	for _, connID := range g.reg.ConnIDs(roomID) {
		g.send(context.Background(), connID, msg)
	}
}

func (g *Gateway) sendError(ctx context.Context, connID, key string) {
	g.send(ctx, connID, arenadto.ErrorMessage{Type: arenadto.TypeError, Message: g.cat.Text(key)})
}

func randomColor() arenadto.Color {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err == nil && n.Int64() == 1 {
		return arenadto.Black
	}
	return arenadto.White
}
