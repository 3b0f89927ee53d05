package room

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/pkg/arenadto"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrRoomLimit      = errors.New("room limit reached")
)

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Registry owns every live Room and the connection-to-room binding. All
// lookups the gateway performs resolve through here, keyed by connection id
// rather than client-supplied identifiers.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	byConn map[string]string // connID -> roomID

	grace    time.Duration
	maxRooms int
	idLen    int
}

func NewRegistry(grace time.Duration, maxRooms, idLen int) *Registry {
	if idLen <= 0 {
		idLen = 6
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		byConn:   make(map[string]string),
		grace:    grace,
		maxRooms: maxRooms,
		idLen:    idLen,
	}
}

// CreateRoom makes a new room with the creator as its sole player. The
// caller resolves a "random" color choice before calling; color here is
// always concrete.
func (reg *Registry) CreateRoom(connID string, tc arenadto.TimeControl, color arenadto.Color, userID, name string) (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.maxRooms > 0 && len(reg.rooms) >= reg.maxRooms {
		return "", ErrRoomLimit
	}

	id := reg.newRoomID()
	r := &Room{
		ID:          id,
		TimeControl: tc,
		CreatedAt:   time.Now(),
	}
	r.Players = append(r.Players, &Participant{
		ConnID: connID,
		UserID: userID,
		Name:   name,
		Role:   arenadto.RolePlayer,
		Color:  color,
	})
	reg.rooms[id] = r
	reg.byConn[connID] = id

	obslog.L().Info("room_create",
		zap.String("room_id", id),
		zap.String("conn_id", connID),
		zap.String("color", string(color)),
		zap.Int("time", tc.Time),
		zap.Int("increment", tc.Increment),
	)
	return id, nil
}

// JoinResult reports how a join request was resolved.
type JoinResult struct {
	Found    bool
	Role     arenadto.Role
	Color    arenadto.Color // players only
	Rejoined bool           // reconnection fast-path hit
	// GameReady is true exactly when this join filled the second player
	// slot; the caller must broadcast game_start.
	GameReady bool
}

// JoinRoom binds connID into roomID. A known userId marked disconnected is
// rebound in place (grace timer cancelled); otherwise the connection becomes
// the second player, or a spectator once both seats are taken.
func (reg *Registry) JoinRoom(connID, roomID, userID, name string) JoinResult {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return JoinResult{}
	}

	if p := r.playerByUser(userID); p != nil {
		reg.rebindLocked(r, p, connID)
		return JoinResult{Found: true, Role: arenadto.RolePlayer, Color: p.Color, Rejoined: true}
	}

	if len(r.Players) >= 2 {
		r.Spectators = append(r.Spectators, &Participant{
			ConnID: connID,
			UserID: userID,
			Name:   name,
			Role:   arenadto.RoleSpectator,
		})
		reg.byConn[connID] = roomID
		return JoinResult{Found: true, Role: arenadto.RoleSpectator}
	}

	color := arenadto.White
	if len(r.Players) > 0 {
		color = r.Players[0].Color.Opponent()
	}
	r.Players = append(r.Players, &Participant{
		ConnID: connID,
		UserID: userID,
		Name:   name,
		Role:   arenadto.RolePlayer,
		Color:  color,
	})
	reg.byConn[connID] = roomID

	obslog.L().Info("room_join",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.String("color", string(color)),
	)
	return JoinResult{Found: true, Role: arenadto.RolePlayer, Color: color, GameReady: len(r.Players) == 2}
}

// Reconnect rebinds a fresh connection to the player identified by
// (roomID, userID). This is the only operation that trusts a
// client-supplied identity pair.
func (reg *Registry) Reconnect(roomID, userID, connID string) (Participant, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, ErrRoomNotFound
	}
	p := r.playerByUser(userID)
	if p == nil {
		return Participant{}, ErrPlayerNotFound
	}
	reg.rebindLocked(r, p, connID)

	obslog.L().Info("room_reconnect",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("conn_id", connID),
	)
	return *p, nil
}

func (reg *Registry) rebindLocked(r *Room, p *Participant, connID string) {
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
	delete(reg.byConn, p.ConnID)
	p.ConnID = connID
	p.Disconnected = false
	reg.byConn[connID] = r.ID
}

// MarkDisconnected flags the owning player and arms the grace timer. If the
// timer expires before a reconnect cancels it, onExpired fires once with the
// room and user ids. The callback re-resolves all state through the
// registry, so expiry after teardown is a no-op.
func (reg *Registry) MarkDisconnected(connID string, onExpired func(roomID, userID string)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.byConn[connID]
	if !ok {
		return
	}
	r, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	p := r.playerByConn(connID)
	if p == nil {
		return
	}

	p.Disconnected = true
	userID := p.UserID
	p.grace = time.AfterFunc(reg.grace, func() {
		if !reg.stillDisconnected(roomID, userID) {
			return
		}
		obslog.L().Info("room_grace_expired",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
		)
		onExpired(roomID, userID)
	})

	obslog.L().Info("room_disconnect",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Duration("grace", reg.grace),
	)
}

func (reg *Registry) stillDisconnected(roomID, userID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	p := r.playerByUser(userID)
	return p != nil && p.Disconnected
}

// RemoveClient unbinds a connection and drops its participant entry. The
// room is deleted once its player list empties; the bool reports that.
func (reg *Registry) RemoveClient(connID string) (roomID string, roomDeleted bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.byConn[connID]
	if !ok {
		return "", false
	}
	delete(reg.byConn, connID)
	r, ok := reg.rooms[roomID]
	if !ok {
		return roomID, false
	}

	for i, p := range r.Players {
		if p.ConnID == connID {
			if p.grace != nil {
				p.grace.Stop()
			}
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}
	for i, s := range r.Spectators {
		if s.ConnID == connID {
			r.Spectators = append(r.Spectators[:i], r.Spectators[i+1:]...)
			break
		}
	}

	if len(r.Players) == 0 {
		reg.deleteRoomLocked(r)
		return roomID, true
	}
	return roomID, false
}

// RemoveRoom tears a room down unconditionally, releasing every binding and
// pending grace timer. Deletion is terminal.
func (reg *Registry) RemoveRoom(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		reg.deleteRoomLocked(r)
		obslog.L().Info("room_remove", zap.String("room_id", roomID))
	}
}

func (reg *Registry) deleteRoomLocked(r *Room) {
	for _, p := range r.Players {
		if p.grace != nil {
			p.grace.Stop()
		}
		delete(reg.byConn, p.ConnID)
	}
	for _, s := range r.Spectators {
		delete(reg.byConn, s.ConnID)
	}
	delete(reg.rooms, r.ID)
}

// ---- lookups ----

// Resolve maps a connection to its room and participant snapshot.
func (reg *Registry) Resolve(connID string) (roomID string, p Participant, ok bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, bound := reg.byConn[connID]
	if !bound {
		return "", Participant{}, false
	}
	r, found := reg.rooms[roomID]
	if !found {
		return "", Participant{}, false
	}
	if pl := r.playerByConn(connID); pl != nil {
		return roomID, *pl, true
	}
	for _, s := range r.Spectators {
		if s.ConnID == connID {
			return roomID, *s, true
		}
	}
	return "", Participant{}, false
}

// Players returns snapshots of the room's player entries, creator first.
func (reg *Registry) Players(roomID string) []Participant {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Participant, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, *p)
	}
	return out
}

// PlayerByColor returns the player holding the given color.
func (reg *Registry) PlayerByColor(roomID string, c arenadto.Color) (Participant, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	if p := r.playerByColor(c); p != nil {
		return *p, true
	}
	return Participant{}, false
}

// PlayerByUser returns the player entry for a userId within a room.
func (reg *Registry) PlayerByUser(roomID, userID string) (Participant, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	if p := r.playerByUser(userID); p != nil {
		return *p, true
	}
	return Participant{}, false
}

// ConnIDs enumerates every connected socket in the room for broadcast,
// players and spectators alike.
func (reg *Registry) ConnIDs(roomID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	return r.connIDs()
}

// PlayerCount returns the number of player seats taken in the room.
func (reg *Registry) PlayerCount(roomID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if r, ok := reg.rooms[roomID]; ok {
		return len(r.Players)
	}
	return 0
}

// TimeControl returns the room's configured time control.
func (reg *Registry) TimeControl(roomID string) (arenadto.TimeControl, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if r, ok := reg.rooms[roomID]; ok {
		return r.TimeControl, true
	}
	return arenadto.TimeControl{}, false
}

// RoomCount reports the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// ---- draw offers ----

// SetDrawOffer records a pending offer by color. A second offer while one
// is pending is ignored.
func (reg *Registry) SetDrawOffer(roomID string, c arenadto.Color) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok || r.DrawOffer != nil {
		return false
	}
	r.DrawOffer = &DrawOffer{OfferedBy: c, OfferedAt: time.Now()}
	return true
}

// TakeDrawOffer clears and returns the pending offer, but only when the
// responder holds the opposite color of the offerer.
func (reg *Registry) TakeDrawOffer(roomID string, responder arenadto.Color) (DrawOffer, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok || r.DrawOffer == nil || r.DrawOffer.OfferedBy != responder.Opponent() {
		return DrawOffer{}, false
	}
	offer := *r.DrawOffer
	r.DrawOffer = nil
	return offer, true
}

// newRoomID draws short ids until one misses the live-room table. Callers
// hold the registry lock.
func (reg *Registry) newRoomID() string {
	for {
		b := make([]byte, reg.idLen)
		for i := range b {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomIDAlphabet))))
			if err != nil {
				// crypto/rand failing is effectively fatal; fall back
				// to the first alphabet rune rather than panic.
				b[i] = roomIDAlphabet[0]
				continue
			}
			b[i] = roomIDAlphabet[n.Int64()]
		}
		id := string(b)
		if _, exists := reg.rooms[id]; !exists {
			return id
		}
	}
}
