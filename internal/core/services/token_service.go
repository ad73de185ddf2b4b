package services

import (
	"errors"
	"time"

	"peercall/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenService issues and validates call-scoped access tokens. A token admits
// its bearer to exactly one call.
type TokenService interface {
	GenerateCallToken(callID domain.CallID) (string, error)
	ValidateCallToken(tokenString string) (*CallClaims, error)
}

type CallClaims struct {
	CallID domain.CallID `json:"call_id"`
	jwt.RegisteredClaims
}

type tokenService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewTokenService(jwtSecret string, tokenTTL time.Duration) TokenService {
	return &tokenService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *tokenService) GenerateCallToken(callID domain.CallID) (string, error) {
	claims := &CallClaims{
		CallID: callID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *tokenService) ValidateCallToken(tokenString string) (*CallClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*CallClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
