package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceRepository tracks which users have a live connection in a subject room,
// across every gateway instance sharing the Redis database. Each connection is a
// sorted-set member scored by its expiry, so a connection lost without a Remove
// (instance crash) drops out once it stops being touched.
type PresenceRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewPresenceRepository constructs the repository. A nil client makes every call a no-op.
func NewPresenceRepository(client *redis.Client, prefix string, ttl time.Duration) *PresenceRepository {
	if prefix == "" {
		prefix = "classlinker:chat"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PresenceRepository{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Enabled reports whether presence is shared through Redis.
func (r *PresenceRepository) Enabled() bool {
	return r.client != nil
}

func (r *PresenceRepository) roomKey(subjectID string) string {
	return fmt.Sprintf("%s:presence:subject:%s", r.prefix, subjectID)
}

// member encodes a connection; connection IDs never contain the separator.
func member(userID, connID string) string {
	return connID + ":" + userID
}

func userOf(m string) string {
	if i := strings.IndexByte(m, ':'); i >= 0 {
		return m[i+1:]
	}
	return m
}

// Add records connID of userID as live in the subject room. Adding the same
// connection again only refreshes its expiry.
func (r *PresenceRepository) Add(ctx context.Context, subjectID, userID, connID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.refresh(ctx, subjectID, userID, connID); err != nil {
		return fmt.Errorf("redis presence add: %w", err)
	}
	return nil
}

// Touch extends the expiry of a live connection. Called on every keepalive pong.
func (r *PresenceRepository) Touch(ctx context.Context, subjectID, userID, connID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.refresh(ctx, subjectID, userID, connID); err != nil {
		return fmt.Errorf("redis presence touch: %w", err)
	}
	return nil
}

func (r *PresenceRepository) refresh(ctx context.Context, subjectID, userID, connID string) error {
	key := r.roomKey(subjectID)
	expiresAt := r.now().Add(r.ttl).UnixMilli()
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt), Member: member(userID, connID)})
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove drops one connection; the user stays online while another connection remains.
func (r *PresenceRepository) Remove(ctx context.Context, subjectID, userID, connID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.ZRem(ctx, r.roomKey(subjectID), member(userID, connID)).Err(); err != nil {
		return fmt.Errorf("redis presence remove: %w", err)
	}
	return nil
}

// Online lists distinct user IDs with at least one unexpired connection in the room.
func (r *PresenceRepository) Online(ctx context.Context, subjectID string) ([]string, error) {
	if r.client == nil {
		return []string{}, nil
	}
	key := r.roomKey(subjectID)
	now := strconv.FormatInt(r.now().UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+now)
	live := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis presence members: %w", err)
	}

	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, m := range live.Val() {
		u := userOf(m)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}
