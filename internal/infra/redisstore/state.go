package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	_ ports.StateStore  = (*StateStore)(nil)
	_ ports.StateReader = (*StateStore)(nil)
)

// StateStore keeps the state document under a single redis key, in the
// same JSON format as the state file.
type StateStore struct {
	C   *Client
	Key string
}

func NewStateStore(c *Client) *StateStore {
	return &StateStore{C: c, Key: c.Cfg.StateKey}
}

func (s *StateStore) Load(ctx context.Context) (*domain.State, error) {
	raw, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		log.Ctx(ctx).Info().Str("key", s.Key).Msg("no state in redis, starting fresh")
		return domain.NewState(), nil
	}

	st, err := domain.DecodeState([]byte(raw))
	if err == nil {
		return st, nil
	}

	quarantineKey := fmt.Sprintf("%s:corrupt:%s", s.Key, time.Now().Format("20060102T150405"))
	log.Ctx(ctx).Error().Err(err).Str("key", s.Key).Str("quarantine", quarantineKey).Msg("state in redis is corrupt, starting fresh")
	if qerr := s.C.Rdb.Set(ctx, quarantineKey, raw, 0).Err(); qerr != nil {
		log.Ctx(ctx).Error().Err(qerr).Msg("could not quarantine corrupt state")
	}
	return domain.NewState(), nil
}

// Read decodes the stored document without writing anything. Corrupt data
// is reported with domain.ErrCorruptState.
func (s *StateStore) Read(ctx context.Context) (*domain.State, error) {
	raw, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return domain.NewState(), nil
	}
	st, err := domain.DecodeState([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("redis key %s: %w", s.Key, err)
	}
	return st, nil
}

// get returns "" when the key does not exist.
func (s *StateStore) get(ctx context.Context) (string, error) {
	raw, err := s.C.Rdb.Get(ctx, s.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", s.Key, err)
	}
	return raw, nil
}

func (s *StateStore) Save(ctx context.Context, st *domain.State) error {
	content, err := domain.EncodeState(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.C.Rdb.Set(ctx, s.Key, content, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.Key, err)
	}
	return nil
}
