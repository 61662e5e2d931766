package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"sweatbot/internal/achievement"
	"sweatbot/internal/registry"
	"sweatbot/internal/tracker"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "sweatbot"

// RedisConfig configures a Redis connection
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps per-user state in Redis hashes:
//
//	{prefix}:streak:{user}        hash of streak fields
//	{prefix}:pr:{user}            exercise|metric -> JSON record
//	{prefix}:achievements:{user}  achievement id -> JSON unlock
//	{prefix}:progress:{user}      achievement id -> JSON progress
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ StateStore = (*RedisStore)(nil)

// KEYS[1] is the record hash; ARGV holds field, value and the JSON record.
// The record is written only when value beats the stored one.
var savePRScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], ARGV[1])
if cur then
	local rec = cjson.decode(cur)
	if tonumber(rec["value"]) >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(kind, userID string) string {
	return r.prefix + ":" + kind + ":" + userID
}

func prField(exerciseKey string, metric registry.Metric) string {
	return exerciseKey + "|" + string(metric)
}

func (r *RedisStore) GetStreak(ctx context.Context, userID string) (tracker.UserStreak, error) {
	fields, err := r.client.HGetAll(ctx, r.key("streak", userID)).Result()
	if err != nil {
		return tracker.UserStreak{}, fmt.Errorf("getting streak: %w", err)
	}
	if len(fields) == 0 {
		return tracker.UserStreak{}, ErrStreakNotFound
	}

	s := tracker.UserStreak{UserID: userID, LastActiveDate: fields["last_active_date"]}
	for name, dst := range map[string]*int{
		"current":      &s.Current,
		"best":         &s.Best,
		"grace_tokens": &s.GraceTokens,
	} {
		if v, ok := fields[name]; ok {
			if *dst, err = strconv.Atoi(v); err != nil {
				return tracker.UserStreak{}, fmt.Errorf("parsing streak %s %q: %w", name, v, err)
			}
		}
	}
	return s, nil
}

func (r *RedisStore) SaveStreak(ctx context.Context, s tracker.UserStreak) error {
	err := r.client.HSet(ctx, r.key("streak", s.UserID),
		"current", s.Current,
		"best", s.Best,
		"last_active_date", s.LastActiveDate,
		"grace_tokens", s.GraceTokens,
	).Err()
	if err != nil {
		return fmt.Errorf("saving streak: %w", err)
	}
	return nil
}

func (r *RedisStore) GetPersonalRecord(ctx context.Context, userID, exerciseKey string, metric registry.Metric) (*tracker.PersonalRecord, error) {
	val, err := r.client.HGet(ctx, r.key("pr", userID), prField(exerciseKey, metric)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPersonalRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting personal record: %w", err)
	}

	var pr tracker.PersonalRecord
	if err := json.Unmarshal([]byte(val), &pr); err != nil {
		return nil, fmt.Errorf("decoding personal record: %w", err)
	}
	return &pr, nil
}

func (r *RedisStore) SavePersonalRecord(ctx context.Context, pr tracker.PersonalRecord) error {
	data, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("encoding personal record: %w", err)
	}
	keys := []string{r.key("pr", pr.UserID)}
	if err := savePRScript.Run(ctx, r.client, keys, prField(pr.ExerciseKey, pr.Metric), pr.Value, string(data)).Err(); err != nil {
		return fmt.Errorf("saving personal record: %w", err)
	}
	return nil
}

func (r *RedisStore) ListPersonalRecords(ctx context.Context, userID string) ([]tracker.PersonalRecord, error) {
	vals, err := r.client.HVals(ctx, r.key("pr", userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing personal records: %w", err)
	}
	out, err := decodeAll[tracker.PersonalRecord](vals)
	if err != nil {
		return nil, fmt.Errorf("decoding personal records: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExerciseKey != out[j].ExerciseKey {
			return out[i].ExerciseKey < out[j].ExerciseKey
		}
		return out[i].Metric < out[j].Metric
	})
	return out, nil
}

func (r *RedisStore) ListUserAchievements(ctx context.Context, userID string) ([]achievement.UserAchievement, error) {
	vals, err := r.client.HVals(ctx, r.key("achievements", userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	out, err := decodeAll[achievement.UserAchievement](vals)
	if err != nil {
		return nil, fmt.Errorf("decoding achievements: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out, nil
}

func (r *RedisStore) AddUserAchievement(ctx context.Context, ua achievement.UserAchievement) error {
	data, err := json.Marshal(ua)
	if err != nil {
		return fmt.Errorf("encoding achievement: %w", err)
	}
	added, err := r.client.HSetNX(ctx, r.key("achievements", ua.UserID), ua.AchievementID, string(data)).Result()
	if err != nil {
		return fmt.Errorf("adding achievement: %w", err)
	}
	if !added {
		return ErrAchievementAlreadyUnlocked
	}
	return nil
}

func (r *RedisStore) SaveAchievementProgress(ctx context.Context, progress []achievement.AchievementProgress) error {
	if len(progress) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range progress {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encoding progress: %w", err)
			}
			pipe.HSet(ctx, r.key("progress", p.UserID), p.AchievementID, string(data))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}

func (r *RedisStore) ListAchievementProgress(ctx context.Context, userID string) ([]achievement.AchievementProgress, error) {
	vals, err := r.client.HVals(ctx, r.key("progress", userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	out, err := decodeAll[achievement.AchievementProgress](vals)
	if err != nil {
		return nil, fmt.Errorf("decoding progress: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

func decodeAll[T any](vals []string) ([]T, error) {
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		var item T
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
