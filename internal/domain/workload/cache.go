package workload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/labforense/oficios/internal/domain/routing"
)

const keyPrefix = "oficios:workload:"

// CachedIndex is a read-through Redis cache in front of an Index. Each
// section has a version counter; lists are stored under the version current
// when the read started, and Invalidate bumps the counter after the mutator
// commits. A reader that loaded before the commit can only write its list
// under the old version, which no later read looks at. Entries live for ttl.
// Redis failures fall back to the source.
type CachedIndex struct {
	src    Index
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedIndex(src Index, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedIndex {
	return &CachedIndex{src: src, client: client, ttl: ttl, logger: logger}
}

func versionKey(section routing.Section) string {
	return keyPrefix + string(section) + ":ver"
}

func cacheKey(section routing.Section, version int64) string {
	return fmt.Sprintf("%s%s:v%d", keyPrefix, section, version)
}

func (c *CachedIndex) version(ctx context.Context, section routing.Section) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(section)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *CachedIndex) ForSection(ctx context.Context, section routing.Section) ([]Candidate, error) {
	ver, err := c.version(ctx, section)
	if err != nil {
		c.logger.Warn().Err(err).Str("section", string(section)).Msg("workload cache read failed")
		return c.src.ForSection(ctx, section)
	}
	key := cacheKey(section, ver)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []Candidate
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable workload cache entry")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("key", key).Msg("workload cache read failed")
	}

	out, err := c.src.ForSection(ctx, section)
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(out); jerr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Warn().Err(serr).Str("key", key).Msg("workload cache write failed")
		}
	}
	return out, nil
}

// Invalidate bumps the version of sections so their cached lists are no
// longer read.
func (c *CachedIndex) Invalidate(ctx context.Context, sections ...routing.Section) error {
	if len(sections) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, s := range sections {
			p.Incr(ctx, versionKey(s))
		}
		return nil
	})
	return err
}
