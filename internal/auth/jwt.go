package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL bounds how long a table session token stays valid. A meal
// rarely outlasts it; staff tokens are issued with the same lifetime.
const SessionTTL = 6 * time.Hour

// Claims identify a participant seated at one table, or a staff member.
type Claims struct {
	TableID       string `json:"table_id"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret, tableID, participantID, name, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		TableID:       tableID,
		ParticipantID: participantID,
		Name:          name,
		Role:          role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.ParticipantID == "" {
		return nil, fmt.Errorf("token has no participant")
	}
	return claims, nil
}
