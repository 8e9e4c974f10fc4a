package model

// Principal identifies the authenticated caller of an operation.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
