package chessdto

// ClickRequest is one board interaction by Player on (Row, Col).
type ClickRequest struct {
	Player string `json:"player"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
}
