package source

import (
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetLedger tracks the resolution state of every fetched offset per
// partition. A consumer-group commit is a high watermark: committing an
// offset acknowledges every earlier offset in the partition, so the ledger
// releases a commit candidate only once all earlier fetched offsets have
// resolved. Rolled-back messages stay unresolved and are held for in-process
// redelivery, keeping the watermark behind them.
type offsetLedger struct {
	mu         sync.Mutex
	partitions map[string]*partitionOffsets
	requeue    []kafka.Message
}

type partitionOffsets struct {
	unresolved map[int64]struct{}
	resolved   map[int64]kafka.Message
}

func newOffsetLedger() *offsetLedger {
	return &offsetLedger{partitions: make(map[string]*partitionOffsets)}
}

func ledgerKey(msg kafka.Message) string {
	return msg.Topic + "/" + strconv.Itoa(msg.Partition)
}

func (l *offsetLedger) partition(key string) *partitionOffsets {
	p := l.partitions[key]
	if p == nil {
		p = &partitionOffsets{
			unresolved: make(map[int64]struct{}),
			resolved:   make(map[int64]kafka.Message),
		}
		l.partitions[key] = p
	}
	return p
}

// Fetched records messages handed to a session for the first time.
func (l *offsetLedger) Fetched(msgs ...kafka.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range msgs {
		l.partition(ledgerKey(msg)).unresolved[msg.Offset] = struct{}{}
	}
}

// Requeue returns rolled-back messages to the in-process delivery queue.
// Their offsets revert to unresolved, so no later commit can advance past
// them until they are fetched again and resolved.
func (l *offsetLedger) Requeue(msgs ...kafka.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range msgs {
		p := l.partition(ledgerKey(msg))
		delete(p.resolved, msg.Offset)
		p.unresolved[msg.Offset] = struct{}{}
		l.requeue = append(l.requeue, msg)
	}
}

// TakeRequeued removes and returns up to max previously rolled-back
// messages, oldest first.
func (l *offsetLedger) TakeRequeued(max int) []kafka.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if max > len(l.requeue) {
		max = len(l.requeue)
	}
	if max <= 0 {
		return nil
	}
	out := make([]kafka.Message, max)
	copy(out, l.requeue[:max])
	l.requeue = append([]kafka.Message(nil), l.requeue[max:]...)
	return out
}

// Resolve marks the messages' offsets resolved and returns, per touched
// partition, the highest message safe to commit: the largest resolved offset
// with no unresolved offset below it. The candidates stay in the ledger
// until Committed confirms the broker accepted them.
func (l *offsetLedger) Resolve(msgs ...kafka.Message) []kafka.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	touched := make(map[string]struct{})
	for _, msg := range msgs {
		key := ledgerKey(msg)
		p := l.partition(key)
		delete(p.unresolved, msg.Offset)
		p.resolved[msg.Offset] = msg
		touched[key] = struct{}{}
	}

	var commits []kafka.Message
	for key := range touched {
		p := l.partitions[key]

		var minUnresolved int64
		hasUnresolved := false
		for o := range p.unresolved {
			if !hasUnresolved || o < minUnresolved {
				minUnresolved = o
				hasUnresolved = true
			}
		}

		var best kafka.Message
		found := false
		for o, m := range p.resolved {
			if hasUnresolved && o >= minUnresolved {
				continue
			}
			if !found || o > best.Offset {
				best = m
				found = true
			}
		}
		if found {
			commits = append(commits, best)
		}
	}
	return commits
}

// Committed prunes resolved offsets covered by a successful broker commit.
func (l *offsetLedger) Committed(msgs ...kafka.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range msgs {
		p := l.partitions[ledgerKey(msg)]
		if p == nil {
			continue
		}
		for o := range p.resolved {
			if o <= msg.Offset {
				delete(p.resolved, o)
			}
		}
	}
}
