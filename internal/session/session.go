// Package session stores participant sessions in Redis.
//
// A session is created when a participant enters through their start
// URL and carries where they are in the sequence plus which treatment
// they were assigned; the treatment code is what match claiming filters
// on.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a token has no live session, either
// because it never existed or because the TTL expired.
var ErrNotFound = fmt.Errorf("session: not found")

// Session is a participant's server-side state for one play-through.
type Session struct {
	ParticipantID           int64  `json:"participant_id"`
	ParticipantCode         string `json:"participant_code"`
	SequenceID              int64  `json:"sequence_id"`
	SequenceCode            string `json:"sequence_code"`
	ExperimentID            int64  `json:"experiment_id"`
	ExperimentPosition      int    `json:"experiment_position"`
	ExperimentParticipantID int64  `json:"experiment_participant_id"`
	TreatmentID             int64  `json:"treatment_id"`
	TreatmentCode           string `json:"treatment_code"`
}

const keyPrefix = "session:participant:"

// Store reads and writes sessions against Redis with a fixed TTL.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a Store. ttl bounds how long a participant may sit
// idle before having to re-enter through their start URL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		redis: client,
		ttl:   ttl,
	}
}

// Create persists sess under a fresh token and returns the token.
func (s *Store) Create(ctx context.Context, sess *Session) (string, error) {
	token := uuid.New().String()
	if err := s.write(ctx, token, sess); err != nil {
		return "", err
	}
	return token, nil
}

// Get loads the session for token, refreshing its TTL so active
// participants are not expired mid-experiment.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := s.redis.GetEx(ctx, keyPrefix+token, s.ttl).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: loading %s: %w", token, err)
	}

	sess := &Session{}
	if err := json.Unmarshal([]byte(raw), sess); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", token, err)
	}
	return sess, nil
}

// Update overwrites the session stored under token.
func (s *Store) Update(ctx context.Context, token string, sess *Session) error {
	return s.write(ctx, token, sess)
}

// Delete removes the session for token. Deleting an absent token is
// not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.redis.Del(ctx, keyPrefix+token).Err()
}

func (s *Store) write(ctx context.Context, token string, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encoding: %w", err)
	}
	if err := s.redis.Set(ctx, keyPrefix+token, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: storing: %w", err)
	}
	return nil
}
