package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/genimage/internal/chat"
)

type Store struct {
	rdb     *redis.Client
	lockTTL time.Duration
}

func New(addr, password string, db int, lockTTL time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, lockTTL), nil
}

func NewWithClient(rdb *redis.Client, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Store{rdb: rdb, lockTTL: lockTTL}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func lockKey(ownerID uint64) string {
	return fmt.Sprintf("genimage:generating:%d", ownerID)
}

// deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryAcquire takes the per-owner generation lock. The lock expires after the
// configured TTL even if release is never called.
func (s *Store) TryAcquire(ctx context.Context, ownerID uint64) (func(), bool, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, false, err
	}
	token := hex.EncodeToString(b[:])
	key := lockKey(ownerID)

	ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(cctx, s.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}

func channel(chatID string) string {
	return "genimage:chat:" + chatID
}

type StatusEvent struct {
	ChatID string      `json:"chat_id"`
	Status chat.Status `json:"status"`
}

// PublishStatus announces a terminal transition to stream subscribers.
func (s *Store) PublishStatus(ctx context.Context, chatID string, status chat.Status) error {
	body, err := json.Marshal(StatusEvent{ChatID: chatID, Status: status})
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, channel(chatID), body).Err()
}

// SubscribeStatus delivers status events for one chat until ctx is done or
// the returned close func is called.
func (s *Store) SubscribeStatus(ctx context.Context, chatID string) (<-chan StatusEvent, func(), error) {
	sub := s.rdb.Subscribe(ctx, channel(chatID))
	// confirm the subscription before returning
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan StatusEvent, 4)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

var (
	_ chat.GenerationGuard = (*Store)(nil)
	_ chat.Notifier        = (*Store)(nil)
)
