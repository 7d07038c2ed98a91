package auth

import (
	"errors"

	"github.com/golang-jwt/jwt"
)

type Claims struct {
	UserID uint `json:"user_id"`
	jwt.StandardClaims
}

// UserIDFromToken извлекает стабильный id текущего пользователя из
// access-токена мессенджера. Подпись здесь не проверяется: токен выдан
// бэкендом и проверяется бэкендом, движку нужен только user_id —
// он определяет, чьи сообщения подтверждать квитанциями.
func UserIDFromToken(tokenStr string) (uint, error) {
	if tokenStr == "" {
		return 0, errors.New("token cannot be empty")
	}

	claims := &Claims{}
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return 0, err
	}

	if claims.UserID == 0 {
		return 0, errors.New("token has no user_id claim")
	}

	return claims.UserID, nil
}
