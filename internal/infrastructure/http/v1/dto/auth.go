package dto

// TerminalLoginRequest exchanges a terminal secret for a token.
type TerminalLoginRequest struct {
	TerminalID string `json:"terminalId" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}
