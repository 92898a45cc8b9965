package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/binflow/binflow"
)

// PostgresConfig provides configuration options for creating a Postgres
// source.
type PostgresConfig struct {
	// DB is the database handle. This field is required. The driver is
	// expected to be lib/pq.
	DB *sql.DB

	// Table is the outbox table items are pulled from. This field is
	// required. The expected schema:
	//
	//	CREATE TABLE outbox (
	//	    id          BIGSERIAL PRIMARY KEY,
	//	    group_key   TEXT NOT NULL DEFAULT '',
	//	    payload     BYTEA NOT NULL,
	//	    claimed_by  UUID NULL,
	//	    destination TEXT NULL,
	//	    processed_at TIMESTAMPTZ NULL
	//	);
	Table string
}

// Validate checks if the PostgresConfig is valid.
func (c PostgresConfig) Validate() error {
	if c.DB == nil {
		return errors.New("db cannot be nil")
	}
	if c.Table == "" {
		return errors.New("table cannot be empty")
	}
	return nil
}

// Postgres is a binflow.SessionFactory over an outbox table. Each session
// claims rows by writing its own id into claimed_by, so claims survive
// outside any single database transaction and sessions can hold rows across
// many engine activations. Commit records the destination relationship;
// Rollback releases the claim so the rows are pulled again.
//
// The claim is advisory: Commit updates rows by id regardless of claim
// state, so a lost claim update can at worst cause a row to be pulled twice.
type Postgres struct {
	db    *sql.DB
	table string
}

// NewPostgres creates a new Postgres source with the given configuration.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	return &Postgres{
		db:    cfg.DB,
		table: cfg.Table,
	}, nil
}

// CreateSession implements binflow.SessionFactory.
func (p *Postgres) CreateSession() binflow.Session {
	return &postgresSession{
		src:       p,
		sessionID: uuid.NewString(),
		rows:      make(map[*binflow.Item]int64),
		transfers: make(map[*binflow.Item]binflow.Relationship),
	}
}

type postgresSession struct {
	src       *Postgres
	sessionID string
	order     []*binflow.Item
	rows      map[*binflow.Item]int64
	transfers map[*binflow.Item]binflow.Relationship
	done      bool
}

// Get implements binflow.Session. Rows are claimed with FOR UPDATE SKIP
// LOCKED so concurrent sessions never pull the same row. The group_key
// column becomes the "group" attribute, for use with
// binflow.GroupByAttribute("group").
func (s *postgresSession) Get(ctx context.Context, max int) ([]*binflow.Item, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s SET claimed_by = $1
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE destination IS NULL AND claimed_by IS NULL
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, group_key, payload`, pq.QuoteIdentifier(s.src.table))

	rows, err := s.src.db.QueryContext(ctx, query, s.sessionID, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*binflow.Item
	for rows.Next() {
		var id int64
		var groupKey string
		var payload []byte
		if err := rows.Scan(&id, &groupKey, &payload); err != nil {
			return items, err
		}

		item := &binflow.Item{
			ID:         strconv.FormatInt(id, 10),
			Size:       int64(len(payload)),
			Attributes: map[string]string{"group": groupKey},
			Data:       payload,
		}
		s.order = append(s.order, item)
		s.rows[item] = id
		items = append(items, item)
	}

	return items, rows.Err()
}

// Migrate implements binflow.Session. The claim moves to the target session
// with a best-effort update; since commits address rows by id, a failed
// claim update cannot lose or duplicate a commit.
func (s *postgresSession) Migrate(to binflow.Session, items ...*binflow.Item) {
	target, ok := to.(*postgresSession)
	if !ok || target.src != s.src {
		panic("source: cannot migrate items to a session from a different source")
	}

	var ids []int64
	for _, item := range items {
		id, owned := s.rows[item]
		if !owned {
			continue
		}
		delete(s.rows, item)
		s.removeFromOrder(item)

		target.order = append(target.order, item)
		target.rows[item] = id
		if rel, ok := s.transfers[item]; ok {
			target.transfers[item] = rel
			delete(s.transfers, item)
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		query := fmt.Sprintf(`UPDATE %s SET claimed_by = $1 WHERE id = ANY($2)`,
			pq.QuoteIdentifier(s.src.table))
		_, _ = s.src.db.Exec(query, target.sessionID, pq.Array(ids))
	}
}

func (s *postgresSession) removeFromOrder(item *binflow.Item) {
	for i, it := range s.order {
		if it == item {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Transfer implements binflow.Session.
func (s *postgresSession) Transfer(item *binflow.Item, rel binflow.Relationship) {
	if _, owned := s.rows[item]; !owned {
		return
	}
	s.transfers[item] = rel
}

// PutAllAttributes implements binflow.Session. The table carries no
// attribute columns, so attributes live only on the in-memory item.
func (s *postgresSession) PutAllAttributes(item *binflow.Item, attrs map[string]string) {
	if _, owned := s.rows[item]; !owned {
		return
	}
	item.PutAllAttributes(attrs)
}

// Commit implements binflow.Session. Transferred rows get their destination
// recorded; rows never transferred have their claim released for
// redelivery.
func (s *postgresSession) Commit() error {
	if s.done {
		return nil
	}

	byRel := make(map[binflow.Relationship][]int64)
	var unclaimed []int64
	for _, item := range s.order {
		id := s.rows[item]
		if rel, ok := s.transfers[item]; ok {
			byRel[rel] = append(byRel[rel], id)
		} else {
			unclaimed = append(unclaimed, id)
		}
	}

	for rel, ids := range byRel {
		query := fmt.Sprintf(`UPDATE %s SET destination = $1, claimed_by = NULL, processed_at = NOW() WHERE id = ANY($2)`,
			pq.QuoteIdentifier(s.src.table))
		if _, err := s.src.db.Exec(query, string(rel), pq.Array(ids)); err != nil {
			return fmt.Errorf("record destination %s: %w", rel, err)
		}
	}
	if len(unclaimed) > 0 {
		query := fmt.Sprintf(`UPDATE %s SET claimed_by = NULL WHERE id = ANY($1)`,
			pq.QuoteIdentifier(s.src.table))
		if _, err := s.src.db.Exec(query, pq.Array(unclaimed)); err != nil {
			return fmt.Errorf("release claims: %w", err)
		}
	}

	s.finish()
	return nil
}

// Rollback implements binflow.Session. Claims are released with a
// best-effort update; a claim that outlives a crashed session must be
// cleared by the operator or a sweep job.
func (s *postgresSession) Rollback() {
	if s.done {
		return
	}

	if len(s.order) > 0 {
		ids := make([]int64, 0, len(s.order))
		for _, item := range s.order {
			ids = append(ids, s.rows[item])
		}
		query := fmt.Sprintf(`UPDATE %s SET claimed_by = NULL WHERE id = ANY($1)`,
			pq.QuoteIdentifier(s.src.table))
		_, _ = s.src.db.Exec(query, pq.Array(ids))
	}

	s.finish()
}

func (s *postgresSession) finish() {
	s.order = nil
	s.rows = make(map[*binflow.Item]int64)
	s.transfers = make(map[*binflow.Item]binflow.Relationship)
	s.done = true
}
