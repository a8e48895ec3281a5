// Package store keeps profiles and cards in Redis.
//
// Layout:
//
//	cardforge:profile:<userID>      JSON profile
//	cardforge:card:<cardID>         JSON card
//	cardforge:user:<userID>:cards   sorted set of card IDs scored by creation time
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/howard-nolan/cardforge/internal/card"
)

const keyPrefix = "cardforge:"

// Store implements card.ProfileStore and card.CardStore.
type Store struct {
	rdb redis.UniversalClient
}

var (
	_ card.ProfileStore = (*Store)(nil)
	_ card.CardStore    = (*Store)(nil)
)

// New wraps an existing Redis client.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Connect dials Redis and checks the connection with a PING.
func Connect(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return New(rdb), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func profileKey(userID string) string { return keyPrefix + "profile:" + userID }
func cardKey(cardID string) string    { return keyPrefix + "card:" + cardID }
func userCardsKey(userID string) string {
	return keyPrefix + "user:" + userID + ":cards"
}

// GetProfile returns card.ErrNotFound for an unknown user.
func (s *Store) GetProfile(ctx context.Context, userID string) (*card.Profile, error) {
	var p card.Profile
	if err := s.getJSON(ctx, profileKey(userID), &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, err)
	}
	return &p, nil
}

// SaveProfile creates or replaces the profile.
func (s *Store) SaveProfile(ctx context.Context, p *card.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	if err := s.rdb.Set(ctx, profileKey(p.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving profile %s: %w", p.ID, err)
	}
	return nil
}

// CreateCard stores c and adds it to its owner's index.
func (s *Store) CreateCard(ctx context.Context, c *card.Card) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling card: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cardKey(c.ID), data, 0)
		pipe.ZAdd(ctx, userCardsKey(c.Owner), redis.Z{
			Score:  float64(c.CreatedAt.UnixMilli()),
			Member: c.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating card %s: %w", c.ID, err)
	}
	return nil
}

// GetCard returns card.ErrNotFound for an unknown card.
func (s *Store) GetCard(ctx context.Context, cardID string) (*card.Card, error) {
	var c card.Card
	if err := s.getJSON(ctx, cardKey(cardID), &c); err != nil {
		return nil, fmt.Errorf("card %s: %w", cardID, err)
	}
	return &c, nil
}

// ListCards returns userID's cards, newest first. Index entries whose card
// has vanished are skipped.
func (s *Store) ListCards(ctx context.Context, userID string) ([]*card.Card, error) {
	ids, err := s.rdb.ZRevRange(ctx, userCardsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing cards for %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return []*card.Card{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cardKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading cards for %s: %w", userID, err)
	}

	cards := make([]*card.Card, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c card.Card
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decoding card %s: %w", ids[i], err)
		}
		cards = append(cards, &c)
	}
	return cards, nil
}

// UpdateCard replaces an existing card. The owner and creation time are not
// re-indexed.
func (s *Store) UpdateCard(ctx context.Context, c *card.Card) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling card: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, cardKey(c.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("updating card %s: %w", c.ID, err)
	}
	if !ok {
		return fmt.Errorf("card %s: %w", c.ID, card.ErrNotFound)
	}
	return nil
}

// DeleteCard removes the card and its index entry.
func (s *Store) DeleteCard(ctx context.Context, cardID string) error {
	c, err := s.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cardKey(cardID))
		pipe.ZRem(ctx, userCardsKey(c.Owner), cardID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting card %s: %w", cardID, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return card.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
