package room

import (
	"time"

	"github.com/park285/chess-arena/pkg/arenadto"
)

// Participant is one connection bound into a room. For players the entry
// outlives its socket: a disconnect only flips Disconnected and arms the
// grace timer, so a reconnect can rebind a fresh connection to it.
type Participant struct {
	ConnID       string
	UserID       string
	Name         string
	Role         arenadto.Role
	Color        arenadto.Color // players only
	Disconnected bool

	grace *time.Timer
}

// DrawOffer is a pending draw proposal, cleared by any response.
type DrawOffer struct {
	OfferedBy arenadto.Color
	OfferedAt time.Time
}

// Room holds at most two players plus any number of spectators.
type Room struct {
	ID          string
	Players     []*Participant
	Spectators  []*Participant
	TimeControl arenadto.TimeControl
	CreatedAt   time.Time
	DrawOffer   *DrawOffer
}

func (r *Room) playerByConn(connID string) *Participant {
	for _, p := range r.Players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) playerByUser(userID string) *Participant {
	if userID == "" {
		return nil
	}
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) playerByColor(c arenadto.Color) *Participant {
	for _, p := range r.Players {
		if p.Color == c {
			return p
		}
	}
	return nil
}

func (r *Room) connIDs() []string {
	ids := make([]string, 0, len(r.Players)+len(r.Spectators))
	for _, p := range r.Players {
		if !p.Disconnected {
			ids = append(ids, p.ConnID)
		}
	}
	for _, s := range r.Spectators {
		ids = append(ids, s.ConnID)
	}
	return ids
}
