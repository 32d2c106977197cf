package models

// LoginRequest is the body of the login endpoint
type LoginRequest struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// LoginResponse carries the session token issued by the server
type LoginResponse struct {
	JWT string `json:"jwt"`
}
