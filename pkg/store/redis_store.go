package store

import (
	"context"
	"encoding/json"
	"time"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/config"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/postsession"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisOpTimeout = 5 * time.Second

// RedisStore keeps artifacts in Redis with a TTL. Scripts are indexed by
// call and insights by participant.
type RedisStore struct {
	client    redis.UniversalClient
	logger    *logrus.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg config.StoreConfig, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  redisOpTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis", map[string]interface{}{"address": cfg.Address})
	}

	logger.WithFields(logrus.Fields{
		"address":  cfg.Address,
		"database": cfg.Database,
		"ttl":      cfg.InsightTTL,
	}).Info("Redis insight store initialized")

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.InsightTTL, logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *logrus.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// SaveScript stores the script under its session id and adds it to the
// call index
func (r *RedisStore) SaveScript(ctx context.Context, script *postsession.MeetingScript) error {
	data, err := json.Marshal(script)
	if err != nil {
		metrics.RecordInsightStoreWrite("script", "error")
		return errors.Wrap(err, "failed to marshal meeting script")
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.scriptKey(script.SessionID), data, r.ttl)
	index := r.callIndexKey(script.CallID)
	pipe.SAdd(ctx, index, script.SessionID)
	pipe.Expire(ctx, index, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordInsightStoreWrite("script", "error")
		return errors.Wrap(err, "failed to store meeting script in Redis", map[string]interface{}{
			"session_id": script.SessionID,
		})
	}

	metrics.RecordInsightStoreWrite("script", "success")
	r.logger.WithFields(logrus.Fields{
		"session_id": script.SessionID,
		"call_id":    script.CallID,
		"bytes":      len(data),
	}).Debug("Meeting script stored in Redis")
	return nil
}

// SaveInsight stores the insight and appends it to the participant index
func (r *RedisStore) SaveInsight(ctx context.Context, insight *coaching.Insight) error {
	data, err := json.Marshal(insight)
	if err != nil {
		metrics.RecordInsightStoreWrite("insight", "error")
		return errors.Wrap(err, "failed to marshal coaching insight")
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	owner := insight.ParticipantID
	if owner == "" {
		owner = insight.CallID
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.insightKey(insight.ID), data, r.ttl)
	index := r.participantIndexKey(owner)
	pipe.RPush(ctx, index, insight.ID)
	pipe.Expire(ctx, index, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordInsightStoreWrite("insight", "error")
		return errors.Wrap(err, "failed to store coaching insight in Redis", map[string]interface{}{
			"insight_id": insight.ID,
		})
	}

	metrics.RecordInsightStoreWrite("insight", "success")
	r.logger.WithFields(logrus.Fields{
		"insight_id": insight.ID,
		"session_id": insight.SessionID,
	}).Debug("Coaching insight stored in Redis")
	return nil
}

// Script loads a stored script
func (r *RedisStore) Script(ctx context.Context, sessionID string) (*postsession.MeetingScript, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.scriptKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewNotFound("meeting script not found", map[string]interface{}{"session_id": sessionID})
		}
		return nil, errors.Wrap(err, "failed to get meeting script from Redis")
	}

	var script postsession.MeetingScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal meeting script")
	}
	return &script, nil
}

// SessionsForCall lists the session ids with a stored script for the call
func (r *RedisStore) SessionsForCall(ctx context.Context, callID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	ids, err := r.client.SMembers(ctx, r.callIndexKey(callID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list call scripts")
	}
	return ids, nil
}

// InsightIDs lists the insight ids recorded for a participant, oldest first
func (r *RedisStore) InsightIDs(ctx context.Context, participantID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	ids, err := r.client.LRange(ctx, r.participantIndexKey(participantID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list participant insights")
	}
	return ids, nil
}

// Health pings Redis
func (r *RedisStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) scriptKey(sessionID string) string {
	return r.keyPrefix + "script:" + sessionID
}

func (r *RedisStore) insightKey(id string) string {
	return r.keyPrefix + "insight:" + id
}

func (r *RedisStore) callIndexKey(callID string) string {
	return r.keyPrefix + "index:call:" + callID
}

func (r *RedisStore) participantIndexKey(participantID string) string {
	return r.keyPrefix + "index:participant:" + participantID
}
