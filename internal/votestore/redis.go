package votestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"vote-aggregator/internal/models"
)

// ballot is the hash value stored per voter.
type ballot struct {
	Choice bool      `json:"choice"`
	Weight float64   `json:"weight"`
	CastAt time.Time `json:"cast_at"`
}

// Redis stores each subject's ballots in a hash keyed by voter, so a revote
// is a plain HSET overwrite, and tracks pending subjects in a set.
//
//	{prefix}:votes:{TYPE}:{ID}  hash  voterId -> ballot JSON
//	{prefix}:pending            set   TYPE:ID
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "voteagg"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) votesKey(s models.Subject) string {
	return r.prefix + ":votes:" + s.Key()
}

func (r *Redis) pendingKey() string {
	return r.prefix + ":pending"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (r *Redis) CastVote(ctx context.Context, vote models.Vote) error {
	payload, err := json.Marshal(ballot{Choice: vote.Choice, Weight: vote.Weight, CastAt: vote.CastAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode ballot: %w", err)
	}
	subject := vote.Subject()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.votesKey(subject), vote.VoterID, payload)
		pipe.SAdd(ctx, r.pendingKey(), subject.Key())
		return nil
	})
	if err != nil {
		return unavailable("cast vote", err)
	}
	return nil
}

func (r *Redis) Votes(ctx context.Context, subject models.Subject) ([]models.Vote, error) {
	raw, err := r.client.HGetAll(ctx, r.votesKey(subject)).Result()
	if err != nil {
		return nil, unavailable("read votes", err)
	}
	out := make([]models.Vote, 0, len(raw))
	for voter, data := range raw {
		var b ballot
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("decode ballot of %s on %s: %w", voter, subject, err)
		}
		out = append(out, models.Vote{
			SubjectType: subject.Type,
			SubjectID:   subject.ID,
			VoterID:     voter,
			Choice:      b.Choice,
			Weight:      b.Weight,
			CastAt:      b.CastAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

func (r *Redis) Tally(ctx context.Context, subject models.Subject) (models.Tally, error) {
	votes, err := r.Votes(ctx, subject)
	if err != nil {
		return models.Tally{}, err
	}
	return models.TallyVotes(votes), nil
}

func (r *Redis) PendingSubjects(ctx context.Context) ([]models.Subject, error) {
	members, err := r.client.SMembers(ctx, r.pendingKey()).Result()
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	out := make([]models.Subject, 0, len(members))
	for _, m := range members {
		s, err := models.ParseSubjectKey(m)
		if err != nil {
			// written by something other than CastVote; nothing can evaluate it
			continue
		}
		out = append(out, s)
	}
	sortSubjects(out)
	return out, nil
}

func (r *Redis) MarkProcessed(ctx context.Context, subject models.Subject) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.votesKey(subject))
		pipe.SRem(ctx, r.pendingKey(), subject.Key())
		return nil
	})
	if err != nil {
		return unavailable("mark processed", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

var _ Store = (*Redis)(nil)
