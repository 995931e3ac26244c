package domain

// TokenClaims are the verified contents of an access or refresh token.
type TokenClaims struct {
	UserID    string `json:"sub"`
	Email     string `json:"email"`
	SessionID string `json:"sid,omitempty"`
	TokenID   string `json:"jti,omitempty"`
	Type      string `json:"typ,omitempty"`
	Exp       int64  `json:"exp"`
	Iat       int64  `json:"iat"`
}

// Tokens is what a client receives after login, registration, verification or refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
