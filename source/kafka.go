package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/binflow/binflow"
)

// defaultFetchWait bounds the poll for a single message when none is
// configured.
const defaultFetchWait = 100 * time.Millisecond

// KafkaConfig provides configuration options for creating a Kafka source.
type KafkaConfig struct {
	// Brokers is the list of broker addresses. This field is required.
	Brokers []string

	// Topic is the topic items are consumed from. This field is required.
	Topic string

	// GroupID is the consumer group used for offset tracking.
	// This field is required.
	GroupID string

	// OriginalTopic receives the payloads of items transferred to
	// RelOriginal. Empty disables producing for that relationship.
	OriginalTopic string

	// FailureTopic receives the payloads of items transferred to
	// RelFailure. Empty disables producing for that relationship.
	FailureTopic string

	// FetchWait bounds how long a Get waits for a single message.
	// If zero, defaultFetchWait is used.
	FetchWait time.Duration
}

// Validate checks if the KafkaConfig is valid.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("brokers cannot be empty")
	}
	if c.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	if c.GroupID == "" {
		return errors.New("group id cannot be empty")
	}
	return nil
}

// Kafka is a binflow.SessionFactory backed by a Kafka consumer group.
// Message headers become item attributes, so a GroupKeyFunc like
// binflow.GroupByAttribute can group items by a header value.
//
// Sessions are at-least-once. A consumer-group commit is a high watermark
// that acknowledges every earlier offset in the partition, so all sessions
// share an offset ledger: Commit produces any transferred payloads, marks
// the consumed offsets resolved, and commits to the broker only over the
// contiguous resolved prefix of each partition. Rolled-back messages are
// redelivered in-process from the ledger, and from the broker after a
// restart, because the watermark never passes them.
type Kafka struct {
	reader    *kafka.Reader
	writers   map[binflow.Relationship]*kafka.Writer
	ledger    *offsetLedger
	fetchWait time.Duration
}

// NewKafka creates a new Kafka source with the given configuration.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	writers := make(map[binflow.Relationship]*kafka.Writer)
	if cfg.OriginalTopic != "" {
		writers[binflow.RelOriginal] = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.OriginalTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	if cfg.FailureTopic != "" {
		writers[binflow.RelFailure] = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.FailureTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	fetchWait := cfg.FetchWait
	if fetchWait <= 0 {
		fetchWait = defaultFetchWait
	}

	return &Kafka{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		writers:   writers,
		ledger:    newOffsetLedger(),
		fetchWait: fetchWait,
	}, nil
}

// CreateSession implements binflow.SessionFactory.
func (k *Kafka) CreateSession() binflow.Session {
	return &kafkaSession{
		src:       k,
		msgs:      make(map[*binflow.Item]kafka.Message),
		transfers: make(map[*binflow.Item]binflow.Relationship),
	}
}

// Close closes the underlying reader and writers.
func (k *Kafka) Close() error {
	err := k.reader.Close()
	for _, w := range k.writers {
		if closeErr := w.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

type kafkaSession struct {
	src       *Kafka
	order     []*binflow.Item
	msgs      map[*binflow.Item]kafka.Message
	transfers map[*binflow.Item]binflow.Relationship
	done      bool
}

// Get implements binflow.Session. Rolled-back messages waiting for
// redelivery are served first; the broker is then fetched until max messages
// have been read or a poll comes back empty.
func (s *kafkaSession) Get(ctx context.Context, max int) ([]*binflow.Item, error) {
	var items []*binflow.Item

	for _, msg := range s.src.ledger.TakeRequeued(max) {
		items = append(items, s.track(msg))
	}

	for len(items) < max {
		fetchCtx, cancel := context.WithTimeout(ctx, s.src.fetchWait)
		msg, err := s.src.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return items, err
		}
		s.src.ledger.Fetched(msg)
		items = append(items, s.track(msg))
	}

	return items, nil
}

// track wraps a message as an item owned by this session.
func (s *kafkaSession) track(msg kafka.Message) *binflow.Item {
	attrs := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		attrs[h.Key] = string(h.Value)
	}

	item := &binflow.Item{
		ID:         uuid.NewString(),
		Size:       int64(len(msg.Value)),
		Attributes: attrs,
		Data:       msg.Value,
	}
	s.order = append(s.order, item)
	s.msgs[item] = msg
	return item
}

// Migrate implements binflow.Session.
func (s *kafkaSession) Migrate(to binflow.Session, items ...*binflow.Item) {
	target, ok := to.(*kafkaSession)
	if !ok || target.src != s.src {
		panic("source: cannot migrate items to a session from a different source")
	}

	for _, item := range items {
		msg, owned := s.msgs[item]
		if !owned {
			continue
		}
		delete(s.msgs, item)
		s.removeFromOrder(item)

		target.order = append(target.order, item)
		target.msgs[item] = msg
		if rel, ok := s.transfers[item]; ok {
			target.transfers[item] = rel
			delete(s.transfers, item)
		}
	}
}

func (s *kafkaSession) removeFromOrder(item *binflow.Item) {
	for i, it := range s.order {
		if it == item {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Transfer implements binflow.Session.
func (s *kafkaSession) Transfer(item *binflow.Item, rel binflow.Relationship) {
	if _, owned := s.msgs[item]; !owned {
		return
	}
	s.transfers[item] = rel
}

// PutAllAttributes implements binflow.Session. Attributes become headers on
// the produced message.
func (s *kafkaSession) PutAllAttributes(item *binflow.Item, attrs map[string]string) {
	if _, owned := s.msgs[item]; !owned {
		return
	}
	item.PutAllAttributes(attrs)
}

// Commit implements binflow.Session. Transferred payloads are produced to
// the relationship's topic, then the consumed offsets are marked resolved;
// the broker commit advances only over each partition's contiguous resolved
// prefix.
func (s *kafkaSession) Commit() error {
	if s.done {
		return nil
	}

	outbound := make(map[binflow.Relationship][]kafka.Message)
	for _, item := range s.order {
		rel, ok := s.transfers[item]
		if !ok {
			continue
		}
		if _, ok := s.src.writers[rel]; !ok {
			continue
		}

		headers := make([]kafka.Header, 0, len(item.Attributes))
		for k, v := range item.Attributes {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		outbound[rel] = append(outbound[rel], kafka.Message{
			Key:     s.msgs[item].Key,
			Value:   s.msgs[item].Value,
			Headers: headers,
			Time:    time.Now(),
		})
	}

	ctx := context.Background()
	for rel, msgs := range outbound {
		if err := s.src.writers[rel].WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("produce to %s: %w", rel, err)
		}
	}

	consumed := make([]kafka.Message, 0, len(s.order))
	for _, item := range s.order {
		consumed = append(consumed, s.msgs[item])
	}
	if len(consumed) > 0 {
		commits := s.src.ledger.Resolve(consumed...)
		if len(commits) > 0 {
			if err := s.src.reader.CommitMessages(ctx, commits...); err != nil {
				return fmt.Errorf("commit offsets: %w", err)
			}
			s.src.ledger.Committed(commits...)
		}
	}

	s.finish()
	return nil
}

// Rollback implements binflow.Session. The session's messages return to the
// ledger for in-process redelivery; their offsets stay unresolved, so the
// consumer group never commits past them.
func (s *kafkaSession) Rollback() {
	if s.done {
		return
	}

	if len(s.order) > 0 {
		msgs := make([]kafka.Message, 0, len(s.order))
		for _, item := range s.order {
			msgs = append(msgs, s.msgs[item])
		}
		s.src.ledger.Requeue(msgs...)
	}

	s.finish()
}

func (s *kafkaSession) finish() {
	s.order = nil
	s.msgs = make(map[*binflow.Item]kafka.Message)
	s.transfers = make(map[*binflow.Item]binflow.Relationship)
	s.done = true
}
