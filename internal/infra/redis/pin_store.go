package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PinStore reserves join PINs in Redis so multiple service instances never
// hand out the same PIN concurrently. Reservations carry a TTL as a safety
// net against instances that die without releasing; a healthy instance
// releases the PIN when the session is retired.
type PinStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPinStore(client *redis.Client, ttl time.Duration) *PinStore {
	return &PinStore{client: client, ttl: ttl}
}

// Reserve claims the PIN. Returns false when another instance holds it or
// Redis is unreachable; the registry then draws a different PIN.
func (s *PinStore) Reserve(pin string) bool {
	ok, err := s.client.SetNX(context.Background(), s.key(pin), "1", s.ttl).Result()
	return err == nil && ok
}

// Release frees the PIN for reuse. Best effort; the TTL covers failures.
func (s *PinStore) Release(pin string) {
	_ = s.client.Del(context.Background(), s.key(pin)).Err()
}

func (s *PinStore) key(pin string) string {
	return "game:pin:" + pin
}
