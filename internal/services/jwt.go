package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/dgrijalva/jwt-go"
)

// JWTService issues and checks the HS256 tokens carried by API callers and
// websocket terminals. Only the identity is taken from a token; permissions
// are always looked up.
type JWTService interface {
	GenerateToken(user mxm.User) (string, error)
	ValidateToken(tokenString string) (uint, error)
}

type jwtService struct {
	issuer string
	key    []byte
	ttl    time.Duration
}

func NewJWTService(issuer string, key []byte) JWTService {
	return &jwtService{issuer: issuer, key: key, ttl: 24 * time.Hour}
}

func (j *jwtService) GenerateToken(user mxm.User) (string, error) {
	if len(j.key) == 0 {
		return "", errors.New("jwt key not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":    j.issuer,
		"userid": user.ID,
		"openid": user.OpenID,
		"exp":    now.Add(j.ttl).Unix(),
		"iat":    now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.key)
}

// ValidateToken accepts the token with or without a "Bearer " prefix and
// returns the user id it was issued for.
func (j *jwtService) ValidateToken(tokenString string) (uint, error) {
	if len(j.key) == 0 {
		return 0, errors.New("jwt key not configured")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.key, nil
	})
	if err != nil {
		return 0, fmt.Errorf("token parse failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid token claims")
	}
	if !claims.VerifyIssuer(j.issuer, true) {
		return 0, errors.New("issuer validation failed")
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return 0, errors.New("token expired")
	}

	// JSON numbers decode as float64
	userID, ok := claims["userid"].(float64)
	if !ok || userID <= 0 {
		return 0, errors.New("userid claim missing or invalid type")
	}
	return uint(userID), nil
}
