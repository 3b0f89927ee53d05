package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/session"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// fakeConn records every frame the gateway sends it.
type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []any
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(_ context.Context, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

// take drains and returns everything received since the last call.
func (f *fakeConn) take() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out
}

func msgsOfType[T any](msgs []any) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func oneOfType[T any](t *testing.T, msgs []any) T {
	t.Helper()
	got := msgsOfType[T](msgs)
	require.Len(t, got, 1, "messages: %#v", msgs)
	return got[0]
}

type testRig struct {
	gw       *Gateway
	reg      *room.Registry
	sessions *session.Manager
}

func newTestRig(t *testing.T, grace time.Duration) *testRig {
	t.Helper()
	cat, err := msgcat.New("")
	require.NoError(t, err)
	reg := room.NewRegistry(grace, 0, 6)
	sessions := session.NewManager(time.Hour)
	return &testRig{gw: New(reg, sessions, cat), reg: reg, sessions: sessions}
}

func (r *testRig) connect(c *fakeConn) {
	r.gw.HandleConnect(context.Background(), c)
}

func (r *testRig) dispatch(c *fakeConn, frame string) {
	r.gw.Dispatch(context.Background(), c, json.RawMessage(frame))
}

// startGame creates a room on a (white, Alice/u1), joins b (black, Bob/u2)
// and drains both mailboxes past the game_start handshake.
func (r *testRig) startGame(t *testing.T, a, b *fakeConn) string {
	t.Helper()
	r.connect(a)
	r.connect(b)

	r.dispatch(a, `{"type":"create","timeControl":{"time":300,"increment":0},"colorChoice":"white","userId":"u1","name":"Alice"}`)
	created := oneOfType[arenadto.RoomCreated](t, a.take())
	require.NotEmpty(t, created.RoomID)

	r.dispatch(b, fmt.Sprintf(`{"type":"join","roomId":%q,"userId":"u2","name":"Bob"}`, created.RoomID))
	b.take()
	a.take()
	return created.RoomID
}

func TestConnectGreeting(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	rig.connect(a)

	greet := oneOfType[arenadto.Connected](t, a.take())
	require.Equal(t, arenadto.TypeConnected, greet.Type)
}

func TestFullGameScript(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	rig.connect(a)
	rig.connect(b)
	a.take()
	b.take()

	rig.dispatch(a, `{"type":"create","timeControl":{"time":300,"increment":0},"colorChoice":"white","userId":"u1","name":"Alice"}`)
	created := oneOfType[arenadto.RoomCreated](t, a.take())
	roomID := created.RoomID
	require.Len(t, roomID, 6)
	require.Equal(t, 1, rig.reg.RoomCount())

	rig.dispatch(b, fmt.Sprintf(`{"type":"join","roomId":%q,"userId":"u2","name":"Bob"}`, roomID))
	bMsgs := b.take()
	joined := oneOfType[arenadto.Joined](t, bMsgs)
	require.Equal(t, arenadto.RolePlayer, joined.Role)
	require.Equal(t, roomID, joined.RoomID)

	bStart := oneOfType[arenadto.GameStart](t, bMsgs)
	require.Equal(t, arenadto.Black, bStart.Color)
	aStart := oneOfType[arenadto.GameStart](t, a.take())
	require.Equal(t, arenadto.White, aStart.Color)
	require.Equal(t, "Alice", aStart.Player1)
	require.Equal(t, "Bob", aStart.Player2)
	require.Equal(t, arenadto.White, aStart.Player1Color)
	require.NotEmpty(t, aStart.Position)

	// White plays the opening move; it costs no time.
	rig.dispatch(a, `{"type":"move","from":"e2","to":"e4"}`)
	aMove := oneOfType[arenadto.MoveMade](t, a.take())
	bMove := oneOfType[arenadto.MoveMade](t, b.take())
	require.Equal(t, aMove, bMove)
	require.Equal(t, "e4", aMove.Move.SAN)
	require.Equal(t, float64(300), aMove.RemainingTime.White)
	require.Equal(t, []string{"e2e4"}, aMove.History)

	// Black tries white's move again: rejected, nothing broadcast.
	rig.dispatch(b, `{"type":"move","from":"e2","to":"e4"}`)
	bErr := oneOfType[arenadto.ErrorMessage](t, b.take())
	require.Equal(t, "Illegal move", bErr.Message)
	require.Empty(t, a.take())

	// Black moving out of turn is a different rejection.
	rig.dispatch(a, `{"type":"move","from":"d2","to":"d4"}`)
	rig.dispatch(a, `{"type":"move","from":"e7","to":"e5"}`)
	for _, msg := range msgsOfType[arenadto.ErrorMessage](a.take()) {
		require.Contains(t, []string{"Not your turn", "Illegal move"}, msg.Message)
	}

	rig.dispatch(b, `{"type":"resign"}`)
	aOver := oneOfType[arenadto.GameOver](t, a.take())
	bOver := oneOfType[arenadto.GameOver](t, b.take())
	require.Equal(t, aOver, bOver)
	require.Equal(t, arenadto.ReasonResign, aOver.Reason)
	require.Equal(t, arenadto.White, aOver.Winner)
	require.Equal(t, arenadto.Black, aOver.Loser)

	require.Equal(t, 0, rig.reg.RoomCount())
	require.Equal(t, 0, rig.sessions.Count())

	rig.dispatch(a, `{"type":"status_check"}`)
	status := oneOfType[arenadto.Status](t, a.take())
	require.False(t, status.InGame)
	require.Empty(t, status.RoomID)
}

func TestJoinUnknownRoom(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	rig.connect(a)
	a.take()

	rig.dispatch(a, `{"type":"join","roomId":"nosuch"}`)
	msg := oneOfType[arenadto.ErrorMessage](t, a.take())
	require.Equal(t, "Room not found", msg.Message)
}

func TestUnknownMessageType(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	rig.connect(a)
	a.take()

	rig.dispatch(a, `{"type":"teleport"}`)
	msg := oneOfType[arenadto.ErrorMessage](t, a.take())
	require.Equal(t, "Unknown message type", msg.Message)
}

func TestStatusDuringGame(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	roomID := rig.startGame(t, a, b)

	rig.dispatch(a, `{"type":"status_check"}`)
	status := oneOfType[arenadto.Status](t, a.take())
	require.True(t, status.InGame)
	require.Equal(t, roomID, status.RoomID)
	require.NotNil(t, status.Players)
	require.Equal(t, "Alice", status.Players.White)
	require.Equal(t, "Bob", status.Players.Black)
	require.Equal(t, "u1", status.WhitePlayerUserID)
	require.Equal(t, "u2", status.BlackPlayerUserID)
	require.NotNil(t, status.TimeControl)
	require.Equal(t, 300, status.TimeControl.Time)
}

func TestReconnectRestoresState(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	roomID := rig.startGame(t, a, b)

	rig.dispatch(a, `{"type":"move","from":"e2","to":"e4"}`)
	a.take()
	b.take()

	rig.gw.HandleDisconnect("B")
	require.Equal(t, 1, rig.reg.RoomCount())

	c := &fakeConn{id: "C"}
	rig.connect(c)
	rig.dispatch(c, fmt.Sprintf(`{"type":"reconnect","roomId":%q,"userId":"u2"}`, roomID))

	msgs := c.take()
	joined := oneOfType[arenadto.Joined](t, msgs)
	require.Equal(t, arenadto.RolePlayer, joined.Role)
	rec := oneOfType[arenadto.Reconnected](t, msgs)
	require.Equal(t, arenadto.Black, rec.Color)
	require.Equal(t, []string{"e2e4"}, rec.History)
	require.NotEmpty(t, rec.Position)
	require.Equal(t, 300, rec.TimeControl.Time)

	// The restored seat can move.
	rig.dispatch(c, `{"type":"move","from":"e7","to":"e5"}`)
	move := oneOfType[arenadto.MoveMade](t, c.take())
	require.Equal(t, []string{"e2e4", "e7e5"}, move.History)
}

func TestRejoinViaJoinMessage(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	roomID := rig.startGame(t, a, b)

	rig.gw.HandleDisconnect("B")

	c := &fakeConn{id: "C"}
	rig.connect(c)
	rig.dispatch(c, fmt.Sprintf(`{"type":"join","roomId":%q,"userId":"u2","name":"Bob"}`, roomID))

	msgs := c.take()
	oneOfType[arenadto.Joined](t, msgs)
	rec := oneOfType[arenadto.Reconnected](t, msgs)
	require.Equal(t, arenadto.Black, rec.Color)
	// A rejoin must not replay the game_start handshake.
	require.Empty(t, msgsOfType[arenadto.GameStart](msgs))
	require.Empty(t, a.take())
}

func TestDrawOfferFlow(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	rig.startGame(t, a, b)

	rig.dispatch(a, `{"type":"draw_offer"}`)
	oneOfType[arenadto.DrawOffer](t, b.take())
	require.Empty(t, a.take())

	rig.dispatch(b, `{"type":"draw_response","accepted":false}`)
	oneOfType[arenadto.DrawRejected](t, a.take())
	require.Empty(t, b.take())

	// A fresh offer from black, accepted by white, ends the game.
	rig.dispatch(b, `{"type":"draw_offer"}`)
	oneOfType[arenadto.DrawOffer](t, a.take())
	rig.dispatch(a, `{"type":"draw_response","accepted":true}`)

	aOver := oneOfType[arenadto.GameOver](t, a.take())
	bOver := oneOfType[arenadto.GameOver](t, b.take())
	require.Equal(t, aOver, bOver)
	require.Equal(t, arenadto.ReasonDraw, aOver.Reason)
	require.Equal(t, 0, rig.reg.RoomCount())
}

func TestDrawResponseWithoutOffer(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	rig.startGame(t, a, b)

	rig.dispatch(b, `{"type":"draw_response","accepted":true}`)
	require.Empty(t, a.take())
	require.Equal(t, 1, rig.reg.RoomCount())
}

func TestGraceExpiryForfeitsGame(t *testing.T) {
	rig := newTestRig(t, 20*time.Millisecond)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	rig.startGame(t, a, b)

	rig.gw.HandleDisconnect("B")

	deadline := time.After(time.Second)
	for {
		if overs := msgsOfType[arenadto.GameOver](a.take()); len(overs) > 0 {
			require.Equal(t, arenadto.ReasonTimeout, overs[0].Reason)
			require.Equal(t, arenadto.Black, overs[0].Loser)
			require.Equal(t, arenadto.White, overs[0].Winner)
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no forfeit broadcast after grace expiry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	require.Equal(t, 0, rig.reg.RoomCount())
	require.Equal(t, 0, rig.sessions.Count())
}

func TestLoneCreatorDisconnectDeletesRoom(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	rig.connect(a)
	a.take()

	rig.dispatch(a, `{"type":"create","timeControl":{"time":300},"userId":"u1","name":"Alice"}`)
	oneOfType[arenadto.RoomCreated](t, a.take())
	require.Equal(t, 1, rig.reg.RoomCount())

	rig.gw.HandleDisconnect("A")
	require.Equal(t, 0, rig.reg.RoomCount())
	require.Equal(t, 0, rig.sessions.Count())
}

func TestLeaveMidGameResigns(t *testing.T) {
	rig := newTestRig(t, time.Hour)
	a := &fakeConn{id: "A"}
	b := &fakeConn{id: "B"}
	rig.startGame(t, a, b)

	rig.dispatch(b, `{"type":"leave"}`)
	over := oneOfType[arenadto.GameOver](t, a.take())
	require.Equal(t, arenadto.ReasonResign, over.Reason)
	require.Equal(t, arenadto.White, over.Winner)
	require.Equal(t, 0, rig.reg.RoomCount())
}
