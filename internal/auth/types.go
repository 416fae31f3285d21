package auth

// AuthError is a structured authentication error carried to API clients
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Well-known authentication errors
var (
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "authentication required"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or malformed token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid email or password"}
	ErrEmailTaken         = AuthError{Code: "EMAIL_TAKEN", Message: "email is already registered"}
	ErrWeakPassword       = AuthError{Code: "WEAK_PASSWORD", Message: "password does not meet requirements"}
)

// UserClaims is the identity carried inside an access token
type UserClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// TokenPair is issued on login and refresh
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}
