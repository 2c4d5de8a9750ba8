// Package chessdto holds the JSON shapes the local bridge exchanges with
// the rendering front end.
package chessdto

type SquareView struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type PieceView struct {
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Color    string `json:"color"`
	Kind     string `json:"kind"`
	HasMoved bool   `json:"hasMoved"`
}

type MoveView struct {
	From SquareView `json:"from"`
	To   SquareView `json:"to"`
}

// SessionView is what a player sees of a session at one instant.
type SessionView struct {
	SessionID   string       `json:"sessionId"`
	Player      string       `json:"player"`
	Color       string       `json:"color"`
	Seq         uint64       `json:"seq"`
	WhiteToMove bool         `json:"whiteToMove"`
	YourTurn    bool         `json:"yourTurn"`
	Board       []PieceView  `json:"board"`
	Selected    *SquareView  `json:"selected,omitempty"`
	Highlighted []SquareView `json:"highlighted"`
	LastMove    *MoveView    `json:"lastMove,omitempty"`
	InCheck     bool         `json:"inCheck"`
	Pending     bool         `json:"pending"`
}

// ClickResponse carries the click outcome and the view after it.
type ClickResponse struct {
	Outcome string       `json:"outcome"`
	View    *SessionView `json:"view"`
}
