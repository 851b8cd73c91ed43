package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TokenTypeSession TokenType = "session"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims extends jwt.RegisteredClaims with custom fields. For session tokens
// the registered ID (jti) doubles as the opaque token stored on the session
// row, so the datastore never sees the signed token itself.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	CodeID    string    `json:"code_id,omitempty"`
}

type Manager struct {
	signingKey      []byte
	issuer          string
	sessionTokenTTL time.Duration
	adminTokenTTL   time.Duration
}

func NewManager(signingKey string, issuer string, sessionTTL, adminTTL time.Duration) *Manager {
	return &Manager{
		signingKey:      []byte(signingKey),
		issuer:          issuer,
		sessionTokenTTL: sessionTTL,
		adminTokenTTL:   adminTTL,
	}
}

// GenerateSessionToken creates a signed viewer token bound to a session and
// its access code. jti is the opaque token persisted with the session.
func (m *Manager) GenerateSessionToken(sessionID, codeID uuid.UUID, jti string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionTokenTTL)),
			ID:        jti,
		},
		TokenType: TokenTypeSession,
		CodeID:    codeID.String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// GenerateAdminToken creates a signed operator token.
func (m *Manager) GenerateAdminToken(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.adminTokenTTL)),
			ID:        uuid.New().String(),
		},
		TokenType: TokenTypeAdmin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// Validate parses and validates a token string, returning claims.
func (m *Manager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.Issuer != m.issuer {
		return nil, errors.New("invalid issuer")
	}

	return claims, nil
}

// ValidateSessionToken validates a token and requires the session type.
func (m *Manager) ValidateSessionToken(tokenStr string) (*Claims, error) {
	claims, err := m.Validate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeSession {
		return nil, errors.New("invalid token type")
	}
	return claims, nil
}

// ValidateAdminToken validates a token and requires the admin type.
func (m *Manager) ValidateAdminToken(tokenStr string) (*Claims, error) {
	claims, err := m.Validate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAdmin {
		return nil, errors.New("invalid token type")
	}
	return claims, nil
}
