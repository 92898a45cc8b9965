package binflow

import (
	"context"
	"fmt"
)

// Relationship names a destination that items are transferred to when their
// session commits.
type Relationship string

const (
	// RelOriginal receives the items of a bin that was processed
	// successfully, annotated with the processor's attributes.
	RelOriginal Relationship = "original"

	// RelFailure receives items that could not be binned (group key
	// computation failed) or whose bin processing failed recoverably.
	RelFailure Relationship = "failure"
)

// Session is the transactional context items live in between being pulled
// from a source and being committed or rolled back. Each bin exclusively owns
// one session; all items appended to a bin are migrated into it.
//
// A session is not safe for concurrent use. The engine guarantees a bin's
// session is only ever touched by one activation at a time.
type Session interface {
	// Get pulls up to max items from the source. It returns an empty slice
	// when no items are available and must not block beyond a bounded poll.
	// Pulled items are owned by this session until committed, rolled back,
	// or migrated to another session.
	Get(ctx context.Context, max int) ([]*Item, error)

	// Migrate moves ownership of the given items, along with any pending
	// transfers or attributes staged for them, from this session to another
	// session created by the same factory.
	Migrate(to Session, items ...*Item)

	// Transfer routes an item to the given relationship. The transfer takes
	// effect when the session commits.
	Transfer(item *Item, rel Relationship)

	// PutAllAttributes stages attribute updates for an item. The updates are
	// applied when the session commits.
	PutAllAttributes(item *Item, attrs map[string]string)

	// Commit finalizes the session: staged attributes are applied and
	// transferred items are delivered to their relationships.
	Commit() error

	// Rollback abandons the session. Items return to the upstream source for
	// redelivery on a future Get.
	Rollback()
}

// SessionFactory creates sessions over a single underlying source. The
// engine creates one session per intake chunk and one per bin.
type SessionFactory interface {
	CreateSession() Session
}

// GroupKeyFunc computes the group key that decides which bin an item belongs
// to. An error routes the item to RelFailure without engine retry.
type GroupKeyFunc func(sess Session, item *Item) (string, error)

// PreprocessFunc may alter an item before its group key is computed. It is
// optional; see Engine.WithPreprocess.
type PreprocessFunc func(sess Session, item *Item) *Item

// GroupByAttribute returns a GroupKeyFunc that groups items by the value of
// the named attribute. Items missing the attribute fail key computation and
// are routed to RelFailure.
func GroupByAttribute(name string) GroupKeyFunc {
	return func(_ Session, item *Item) (string, error) {
		if item.Attributes != nil {
			if v, ok := item.Attributes[name]; ok {
				return v, nil
			}
		}
		return "", fmt.Errorf("item %s has no attribute %q", item.ID, name)
	}
}

// SingleGroup returns a GroupKeyFunc that places every item in the same bin
// group.
func SingleGroup() GroupKeyFunc {
	return func(_ Session, _ *Item) (string, error) {
		return "", nil
	}
}
