package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// RedisStore implements Store on Redis for deployments that keep session
// rows out of the relational store. Rows are JSON values indexed by token,
// with per-principal and global index sets for the bulk operations.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRow struct {
	Token        string    `json:"token"`
	Role         string    `json:"role"`
	PrincipalID  int64     `json:"principal_id"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"ua"`
	LoginAt      time.Time `json:"login_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
	EndedReason  string    `json:"ended_reason"`
}

const redisIndexKey = "sessions:index"

func redisTokenKey(token string) string {
	return "session:" + token
}

func redisPrincipalKey(role shared.Role, principalID int64) string {
	return "sessions:principal:" + role.String() + ":" + strconv.FormatInt(principalID, 10)
}

func (s *RedisStore) Insert(ctx context.Context, sess Session) error {
	data, err := json.Marshal(toRedisRow(sess))
	if err != nil {
		return shared.StoreErrorf("marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisTokenKey(sess.Token), data, 0)
	pipe.SAdd(ctx, redisPrincipalKey(sess.Role, sess.PrincipalID), sess.Token)
	pipe.SAdd(ctx, redisIndexKey, sess.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.StoreErrorf("insert session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (Session, error) {
	data, err := s.client.Get(ctx, redisTokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, shared.StoreErrorf("get session: %w", err)
	}
	var row redisRow
	if err := json.Unmarshal(data, &row); err != nil {
		return Session{}, shared.StoreErrorf("decode session: %w", err)
	}
	return fromRedisRow(row)
}

func (s *RedisStore) Touch(ctx context.Context, token string, at time.Time) error {
	_, err := s.updateRow(ctx, token, func(sess *Session) bool {
		if !sess.Active {
			return false
		}
		sess.LastActivity = at.UTC()
		return true
	})
	if err != nil {
		return shared.StoreErrorf("touch session: %w", err)
	}
	return nil
}

func (s *RedisStore) End(ctx context.Context, token string, reason EndReason, at time.Time) error {
	_, err := s.updateRow(ctx, token, endRow(reason, at))
	if err != nil {
		return shared.StoreErrorf("end session: %w", err)
	}
	return nil
}

func (s *RedisStore) EndOthers(ctx context.Context, role shared.Role, principalID int64, keepToken string, reason EndReason, at time.Time) (int64, error) {
	tokens, err := s.client.SMembers(ctx, redisPrincipalKey(role, principalID)).Result()
	if err != nil {
		return 0, shared.StoreErrorf("list principal sessions: %w", err)
	}
	var ended int64
	for _, token := range tokens {
		if token == keepToken {
			continue
		}
		applied, err := s.updateRow(ctx, token, endRow(reason, at))
		if err != nil {
			return ended, shared.StoreErrorf("end session: %w", err)
		}
		if applied {
			ended++
		}
	}
	return ended, nil
}

func (s *RedisStore) SweepExpired(ctx context.Context, cutoff, at time.Time) (int64, error) {
	tokens, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, shared.StoreErrorf("list sessions: %w", err)
	}
	var swept int64
	for _, token := range tokens {
		applied, err := s.updateRow(ctx, token, func(sess *Session) bool {
			if !sess.Active || !sess.LastActivity.Before(cutoff) {
				return false
			}
			sess.Active = false
			sess.EndedReason = EndedExpired
			return true
		})
		if err != nil {
			return swept, shared.StoreErrorf("sweep session: %w", err)
		}
		if applied {
			swept++
		}
	}
	return swept, nil
}

// endRow builds the set-inactive mutation shared by End and EndOthers.
// Rows already inactive are left untouched so the ended timestamp and
// reason of the first transition survive.
func endRow(reason EndReason, at time.Time) func(*Session) bool {
	return func(sess *Session) bool {
		if !sess.Active {
			return false
		}
		sess.Active = false
		sess.EndedReason = reason
		sess.LastActivity = at.UTC()
		return true
	}
}

func (s *RedisStore) PurgeEnded(ctx context.Context, before time.Time) (int64, error) {
	tokens, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, shared.StoreErrorf("list sessions: %w", err)
	}
	var purged int64
	for _, token := range tokens {
		sess, err := s.Get(ctx, token)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				_ = s.client.SRem(ctx, redisIndexKey, token).Err()
				continue
			}
			return purged, err
		}
		if sess.Active || !sess.LastActivity.Before(before) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, redisTokenKey(token))
		pipe.SRem(ctx, redisPrincipalKey(sess.Role, sess.PrincipalID), token)
		pipe.SRem(ctx, redisIndexKey, token)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, shared.StoreErrorf("purge session: %w", err)
		}
		purged++
	}
	return purged, nil
}

// redisTxRetries bounds optimistic retries when a watched row changes
// between read and write.
const redisTxRetries = 10

// updateRow rewrites one row under WATCH. A concurrent write to the token
// key aborts the transaction and the read-modify-write is retried, so a
// stale full-row write can never revive a session another caller just
// ended. fn returns false to leave the row as is; missing rows are a no-op.
func (s *RedisStore) updateRow(ctx context.Context, token string, fn func(*Session) bool) (bool, error) {
	key := redisTokenKey(token)
	var applied bool
	txf := func(tx *redis.Tx) error {
		applied = false
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var row redisRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		sess, err := fromRedisRow(row)
		if err != nil {
			return err
		}
		if !fn(&sess) {
			return nil
		}
		buf, err := json.Marshal(toRedisRow(sess))
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		}); err != nil {
			return err
		}
		applied = true
		return nil
	}
	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return applied, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, err
	}
	return false, redis.TxFailedErr
}

func toRedisRow(sess Session) redisRow {
	return redisRow{
		Token:        sess.Token,
		Role:         sess.Role.String(),
		PrincipalID:  sess.PrincipalID,
		IP:           sess.IP,
		UserAgent:    sess.UserAgent,
		LoginAt:      sess.LoginAt.UTC(),
		LastActivity: sess.LastActivity.UTC(),
		Active:       sess.Active,
		EndedReason:  string(sess.EndedReason),
	}
}

func fromRedisRow(row redisRow) (Session, error) {
	role, err := shared.ParseRole(row.Role)
	if err != nil {
		return Session{}, shared.StoreErrorf("decode session: %w", err)
	}
	return Session{
		Token:        row.Token,
		Role:         role,
		PrincipalID:  row.PrincipalID,
		IP:           row.IP,
		UserAgent:    row.UserAgent,
		LoginAt:      row.LoginAt,
		LastActivity: row.LastActivity,
		Active:       row.Active,
		EndedReason:  EndReason(row.EndedReason),
	}, nil
}

var _ Store = (*RedisStore)(nil)
