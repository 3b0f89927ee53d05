package arenadto

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Role of a participant inside a room.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// TimeControl is the per-game time budget, in seconds.
type TimeControl struct {
	Time      int `json:"time"`
	Increment int `json:"increment,omitempty"`
}

// RemainingTime carries both clocks, in seconds.
type RemainingTime struct {
	White float64 `json:"white"`
	Black float64 `json:"black"`
}

// MoveDetail describes a move as applied by the rules engine.
type MoveDetail struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Piece     string `json:"piece"`
	SAN       string `json:"san"`
	Captured  string `json:"captured,omitempty"`
}
