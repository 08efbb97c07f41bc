package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Ключи Redis, которые ведёт сервис аккаунтов.
const (
	prefixToken = "jwt:blacklist:"   // jwt:blacklist:{jti}
	prefixUser  = "jwt:invalidated:" // jwt:invalidated:{userID} = unix-время массового отзыва
)

// Revocations читает списки отзыва токенов из общего Redis.
type Revocations struct {
	redis *redis.Client
}

// NewRevocations создаёт проверку отзыва.
func NewRevocations(client *redis.Client) *Revocations {
	return &Revocations{redis: client}
}

// Verify возвращает ErrTokenRevoked, если токен отозван по jti
// или выдан раньше массового отзыва токенов пользователя.
func (r *Revocations) Verify(ctx context.Context, claims *Claims) error {
	if claims.ID != "" {
		n, err := r.redis.Exists(ctx, prefixToken+claims.ID).Result()
		if err != nil {
			return fmt.Errorf("ошибка проверки отзыва токена: %w", err)
		}
		if n > 0 {
			return ErrTokenRevoked
		}
	}

	if claims.IssuedAt == nil {
		return nil
	}

	val, err := r.redis.Get(ctx, prefixUser+claims.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка проверки отзыва токенов пользователя: %w", err)
	}

	invalidatedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("ошибка разбора времени отзыва: %w", err)
	}
	if claims.IssuedAt.Unix() < invalidatedAt {
		return ErrTokenRevoked
	}
	return nil
}
