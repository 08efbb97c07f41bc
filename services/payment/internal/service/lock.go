package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// createLockPrefix — префикс ключа блокировки создания платежа.
const createLockPrefix = "payment:create-lock:"

// Locker — короткая распределённая блокировка.
type Locker interface {
	// TryLock пытается занять ключ на ttl. ok=false — ключ занят другим.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker — блокировка через SET NX с токеном владельца.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker создаёт блокировку поверх Redis.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock занимает ключ SET NX PX.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// Снимаем блокировку даже если ctx запроса уже отменён.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return unlock, true, nil
}

func createLockKey(orderID string, method string) string {
	return createLockPrefix + orderID + ":" + method
}
