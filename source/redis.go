package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/binflow/binflow"
)

// RedisConfig provides configuration options for creating a Redis source.
type RedisConfig struct {
	// Client is an existing client to use. If nil, one is created from Addr.
	Client *redis.Client

	// Addr is the server address, used only when Client is nil.
	Addr string

	// Key is the list items are pulled from. This field is required.
	// Transferred items are pushed to "<key>:original" and "<key>:failure".
	Key string
}

// Validate checks if the RedisConfig is valid.
func (c RedisConfig) Validate() error {
	if c.Key == "" {
		return errors.New("key cannot be empty")
	}
	if c.Client == nil && c.Addr == "" {
		return errors.New("either client or addr must be set")
	}
	return nil
}

// Redis is a binflow.SessionFactory backed by a Redis list. Get pops items
// from the front of the list; Rollback pushes them back to the front in
// their original order; Commit pushes each transferred payload onto the
// destination list named "<key>:<relationship>".
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a new Redis source with the given configuration.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
	}

	return &Redis{
		client: client,
		key:    cfg.Key,
	}, nil
}

// CreateSession implements binflow.SessionFactory.
func (r *Redis) CreateSession() binflow.Session {
	return &redisSession{
		src:       r,
		payloads:  make(map[*binflow.Item]string),
		transfers: make(map[*binflow.Item]binflow.Relationship),
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSession struct {
	src       *Redis
	order     []*binflow.Item
	payloads  map[*binflow.Item]string
	transfers map[*binflow.Item]binflow.Relationship
	done      bool
}

// Get implements binflow.Session.
func (s *redisSession) Get(ctx context.Context, max int) ([]*binflow.Item, error) {
	vals, err := s.src.client.LPopCount(ctx, s.src.key, max).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	items := make([]*binflow.Item, 0, len(vals))
	for _, v := range vals {
		item := &binflow.Item{
			ID:   uuid.NewString(),
			Size: int64(len(v)),
			Data: []byte(v),
		}
		s.order = append(s.order, item)
		s.payloads[item] = v
		items = append(items, item)
	}

	return items, nil
}

// Migrate implements binflow.Session.
func (s *redisSession) Migrate(to binflow.Session, items ...*binflow.Item) {
	target, ok := to.(*redisSession)
	if !ok || target.src != s.src {
		panic("source: cannot migrate items to a session from a different source")
	}

	for _, item := range items {
		payload, owned := s.payloads[item]
		if !owned {
			continue
		}
		delete(s.payloads, item)
		s.removeFromOrder(item)

		target.order = append(target.order, item)
		target.payloads[item] = payload
		if rel, ok := s.transfers[item]; ok {
			target.transfers[item] = rel
			delete(s.transfers, item)
		}
	}
}

func (s *redisSession) removeFromOrder(item *binflow.Item) {
	for i, it := range s.order {
		if it == item {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Transfer implements binflow.Session.
func (s *redisSession) Transfer(item *binflow.Item, rel binflow.Relationship) {
	if _, owned := s.payloads[item]; !owned {
		return
	}
	s.transfers[item] = rel
}

// PutAllAttributes implements binflow.Session. Redis lists carry no
// metadata, so attributes live only on the in-memory item.
func (s *redisSession) PutAllAttributes(item *binflow.Item, attrs map[string]string) {
	if _, owned := s.payloads[item]; !owned {
		return
	}
	item.PutAllAttributes(attrs)
}

// Commit implements binflow.Session. Every item still owned by the session
// must have been transferred; otherwise Commit fails without side effects
// and the session can still be rolled back.
func (s *redisSession) Commit() error {
	if s.done {
		return nil
	}

	outbound := make(map[binflow.Relationship][]interface{})
	for _, item := range s.order {
		rel, ok := s.transfers[item]
		if !ok {
			return fmt.Errorf("item %s was not transferred to a relationship", item.ID)
		}
		outbound[rel] = append(outbound[rel], s.payloads[item])
	}

	ctx := context.Background()
	for rel, payloads := range outbound {
		dest := s.src.key + ":" + string(rel)
		if err := s.src.client.RPush(ctx, dest, payloads...).Err(); err != nil {
			return fmt.Errorf("push to %s: %w", dest, err)
		}
	}

	s.finish()
	return nil
}

// Rollback implements binflow.Session. The session's payloads are pushed
// back to the front of the list in their original order.
func (s *redisSession) Rollback() {
	if s.done {
		return
	}

	if len(s.order) > 0 {
		// LPush prepends, so pushing in reverse restores the original order.
		payloads := make([]interface{}, 0, len(s.order))
		for i := len(s.order) - 1; i >= 0; i-- {
			payloads = append(payloads, s.payloads[s.order[i]])
		}
		_ = s.src.client.LPush(context.Background(), s.src.key, payloads...).Err()
	}

	s.finish()
}

func (s *redisSession) finish() {
	s.order = nil
	s.payloads = make(map[*binflow.Item]string)
	s.transfers = make(map[*binflow.Item]binflow.Relationship)
	s.done = true
}
