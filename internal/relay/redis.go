package relay

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"go-chat-sync/internal/event"
)

const presenceKey = "presence:connections"

// toggleScript flips ARGV[1] in the set at KEYS[1] and returns the new members.
var toggleScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  redis.call('SREM', KEYS[1], ARGV[1])
else
  redis.call('SADD', KEYS[1], ARGV[1])
end
return redis.call('SMEMBERS', KEYS[1])
`)

type RedisReactions struct {
	rdb *redis.Client
}

func NewRedisReactions(rdb *redis.Client) *RedisReactions {
	return &RedisReactions{rdb: rdb}
}

func reactionKey(messageID int64, typ event.ReactionType) string {
	return fmt.Sprintf("reactions:%d:%s", messageID, typ)
}

func (s *RedisReactions) Toggle(ctx context.Context, messageID int64, typ event.ReactionType, userID int64) (event.Reaction, error) {
	members, err := toggleScript.Run(ctx, s.rdb, []string{reactionKey(messageID, typ)}, userID).StringSlice()
	if err != nil {
		return event.Reaction{}, fmt.Errorf("toggle reaction: %w", err)
	}
	return buildReaction(messageID, typ, members)
}

func (s *RedisReactions) Remove(ctx context.Context, messageID int64, typ event.ReactionType, userID int64) (event.Reaction, error) {
	key := reactionKey(messageID, typ)
	var members *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, key, userID)
		members = pipe.SMembers(ctx, key)
		return nil
	})
	if err != nil {
		return event.Reaction{}, fmt.Errorf("remove reaction: %w", err)
	}
	return buildReaction(messageID, typ, members.Val())
}

func (s *RedisReactions) ForMessage(ctx context.Context, messageID int64) ([]event.Reaction, error) {
	cmds := make([]*redis.StringSliceCmd, len(event.ReactionTypes))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, typ := range event.ReactionTypes {
			cmds[i] = pipe.SMembers(ctx, reactionKey(messageID, typ))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load reactions of message %d: %w", messageID, err)
	}

	var out []event.Reaction
	for i, typ := range event.ReactionTypes {
		r, err := buildReaction(messageID, typ, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if r.Count > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisReactions) Drop(ctx context.Context, messageID int64) error {
	keys := make([]string, len(event.ReactionTypes))
	for i, typ := range event.ReactionTypes {
		keys[i] = reactionKey(messageID, typ)
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func buildReaction(messageID int64, typ event.ReactionType, members []string) (event.Reaction, error) {
	ids, err := parseIDs(members)
	if err != nil {
		return event.Reaction{}, err
	}
	return event.Reaction{MessageID: messageID, Type: typ, Count: len(ids), UserIDs: ids}, nil
}

func parseIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// RedisPresence keeps a connection count per user in one hash, so a user
// with sockets on several relay instances stays online until the last one
// closes.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) Connect(ctx context.Context, userID int64) (bool, error) {
	n, err := p.rdb.HIncrBy(ctx, presenceKey, strconv.FormatInt(userID, 10), 1).Result()
	if err != nil {
		return false, fmt.Errorf("mark %d online: %w", userID, err)
	}
	return n == 1, nil
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID int64) (bool, error) {
	field := strconv.FormatInt(userID, 10)
	n, err := p.rdb.HIncrBy(ctx, presenceKey, field, -1).Result()
	if err != nil {
		return false, fmt.Errorf("mark %d offline: %w", userID, err)
	}
	if n > 0 {
		return false, nil
	}
	if err := p.rdb.HDel(ctx, presenceKey, field).Err(); err != nil {
		return true, fmt.Errorf("clear %d presence: %w", userID, err)
	}
	return true, nil
}

func (p *RedisPresence) Online(ctx context.Context) ([]int64, error) {
	fields, err := p.rdb.HKeys(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	return parseIDs(fields)
}
