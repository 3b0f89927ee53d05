package arenadto

// Wire message discriminators. Every frame carries a "type" field.
const (
	TypeCreate       = "create"
	TypeJoin         = "join"
	TypeMove         = "move"
	TypeLeave        = "leave"
	TypeResign       = "resign"
	TypeDrawOffer    = "draw_offer"
	TypeDrawResponse = "draw_response"
	TypeReconnect    = "reconnect"
	TypeStatusCheck  = "status_check"

	TypeConnected    = "connected"
	TypeRoomCreated  = "room_created"
	TypeJoined       = "joined"
	TypeGameStart    = "game_start"
	TypeMoveMade     = "move_made"
	TypeClockTick    = "clock_tick"
	TypeDrawRejected = "draw_rejected"
	TypeGameOver     = "game_over"
	TypeReconnected  = "reconnected"
	TypeStatus       = "status"
	TypeError        = "error"
)

// Game-over reasons.
const (
	ReasonCheckmate = "checkmate"
	ReasonResign    = "resign"
	ReasonTimeout   = "timeout"
	ReasonDraw      = "draw"
)

// Envelope is the minimal shape read off the wire before full decoding.
type Envelope struct {
	Type string `json:"type"`
}

// ---- Client -> Server ----

type CreateRequest struct {
	Type        string      `json:"type"`
	TimeControl TimeControl `json:"timeControl"`
	ColorChoice string      `json:"colorChoice,omitempty"` // "white" | "black" | "random"
	UserID      string      `json:"userId,omitempty"`
	Name        string      `json:"name,omitempty"`
}

type JoinRequest struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
}

type MoveRequest struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type DrawResponseRequest struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
}

type ReconnectRequest struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// ---- Server -> Client ----

type Connected struct {
	Type string `json:"type"`
}

type RoomCreated struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type Joined struct {
	Type   string `json:"type"`
	Role   Role   `json:"role"`
	RoomID string `json:"roomId"`
}

type GameStart struct {
	Type         string      `json:"type"`
	Position     string      `json:"position"`
	Color        Color       `json:"color,omitempty"` // empty for spectators
	TimeControl  TimeControl `json:"timeControl"`
	Player1      string      `json:"player1"`
	Player2      string      `json:"player2"`
	Player1Color Color       `json:"player1Color"`
	Player2Color Color       `json:"player2Color"`
}

type MoveMade struct {
	Type          string        `json:"type"`
	Move          MoveDetail    `json:"move"`
	Position      string        `json:"position"`
	RemainingTime RemainingTime `json:"remainingTime"`
	History       []string      `json:"history"`
}

type ClockTick struct {
	Type          string        `json:"type"`
	RemainingTime RemainingTime `json:"remainingTime"`
}

type DrawOffer struct {
	Type string `json:"type"`
}

type DrawRejected struct {
	Type string `json:"type"`
}

type GameOver struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"` // checkmate | resign | timeout | draw
	Winner     Color  `json:"winner,omitempty"`
	Loser      Color  `json:"loser,omitempty"`
	DrawReason string `json:"drawReason,omitempty"`
}

type Reconnected struct {
	Type          string        `json:"type"`
	Color         Color         `json:"color"`
	Position      string        `json:"position"`
	TimeControl   TimeControl   `json:"timeControl"`
	RemainingTime RemainingTime `json:"remainingTime"`
	History       []string      `json:"history"`
}

type StatusPlayers struct {
	White string `json:"white"`
	Black string `json:"black"`
}

type Status struct {
	Type              string         `json:"type"`
	InGame            bool           `json:"inGame"`
	RoomID            string         `json:"roomId"`
	Players           *StatusPlayers `json:"players,omitempty"`
	WhiteName         string         `json:"whiteName,omitempty"`
	BlackName         string         `json:"blackName,omitempty"`
	TimeControl       *TimeControl   `json:"timeControl,omitempty"`
	WhitePlayerUserID string         `json:"whitePlayerUserId,omitempty"`
	BlackPlayerUserID string         `json:"blackPlayerUserId,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
