package data

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	insertDocument = `INSERT INTO documents (kind, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	updateDocument = `UPDATE documents SET body = ?, updated_at = ? WHERE kind = ? AND id = ?`
	selectDocument = `SELECT body FROM documents WHERE kind = ? AND id = ?`
	deleteDocument = `DELETE FROM documents WHERE kind = ? AND id = ?`
	listDocuments  = `SELECT body FROM documents WHERE kind = ? ORDER BY created_at, id`
)

// DocumentStore persists entities of one runtime type as JSON documents in
// the documents table, keyed by (kind, id).
type DocumentStore struct {
	db      *DbContext
	session *Session
	entity  reflect.Type
	kind    string
	now     func() time.Time
}

// NewDocumentStore returns a store for values of entity.
func NewDocumentStore(db *DbContext, entity reflect.Type) *DocumentStore {
	return &DocumentStore{
		db:     db,
		entity: entity,
		kind:   di.TypeID(entity),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Kind is the value stored in the kind column.
func (s *DocumentStore) Kind() string {
	return s.kind
}

func (s *DocumentStore) EntityType() reflect.Type {
	return s.entity
}

// WithSession returns a copy of the store writing through session.
func (s *DocumentStore) WithSession(session *Session) *DocumentStore {
	clone := *s
	clone.session = session
	return &clone
}

func (s *DocumentStore) querier(ctx context.Context) (Querier, error) {
	if s.session != nil {
		return s.session.Querier(ctx)
	}
	return s.db.DB()
}

func (s *DocumentStore) check(entity any) (Entity, error) {
	e, ok := entity.(Entity)
	if !ok || reflect.TypeOf(entity) != s.entity {
		return nil, fmt.Errorf("%w: store for %s got %T", errors.ErrTypeMismatch, s.entity, entity)
	}
	return e, nil
}

// Insert stores a new entity, assigning an ID when it has none.
func (s *DocumentStore) Insert(ctx context.Context, entity any) error {
	e, err := s.check(entity)
	if err != nil {
		return err
	}
	now := s.now()
	prepare(e, now)

	body, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.kind, err)
	}
	q, err := s.querier(ctx)
	if err != nil {
		return err
	}

	// Existence check first so a duplicate maps to ErrConflict on every driver.
	if _, err := s.load(ctx, q, e.GetID()); err == nil {
		return fmt.Errorf("%w: %s %s", ErrConflict, s.kind, e.GetID())
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	stamp := now.Format(time.RFC3339Nano)
	if _, err := q.ExecContext(ctx, insertDocument, s.kind, e.GetID(), string(body), stamp, stamp); err != nil {
		return fmt.Errorf("failed to insert %s: %w", s.kind, err)
	}
	return nil
}

// Replace overwrites an existing entity.
func (s *DocumentStore) Replace(ctx context.Context, entity any) error {
	e, err := s.check(entity)
	if err != nil {
		return err
	}
	if e.GetID() == "" {
		return fmt.Errorf("%w: %s without id", ErrNotFound, s.kind)
	}
	now := s.now()
	prepare(e, now)

	body, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.kind, err)
	}
	q, err := s.querier(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, updateDocument, string(body), now.Format(time.RFC3339Nano), s.kind, e.GetID())
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", s.kind, err)
	}
	return requireAffected(res, s.kind, e.GetID())
}

// Load returns the entity stored under id.
func (s *DocumentStore) Load(ctx context.Context, id string) (any, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, q, id)
}

func (s *DocumentStore) load(ctx context.Context, q Querier, id string) (any, error) {
	var body string
	err := q.QueryRowContext(ctx, selectDocument, s.kind, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.kind, err)
	}
	return s.decode(body)
}

func (s *DocumentStore) decode(body string) (any, error) {
	ptr := newInstance(s.entity)
	if err := json.UnmarshalFromString(body, ptr); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.kind, err)
	}
	return deref(s.entity, ptr), nil
}

// Remove deletes the entity stored under id.
func (s *DocumentStore) Remove(ctx context.Context, id string) error {
	q, err := s.querier(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, deleteDocument, s.kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.kind, err)
	}
	return requireAffected(res, s.kind, id)
}

// All returns every stored entity in creation order.
func (s *DocumentStore) All(ctx context.Context) ([]any, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, listDocuments, s.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.kind, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.kind, err)
		}
		v, err := s.decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}

// DocumentRepository is the typed view of a DocumentStore.
type DocumentRepository[E Entity] struct {
	store *DocumentStore
}

func NewDocumentRepository[E Entity](db *DbContext) *DocumentRepository[E] {
	return &DocumentRepository[E]{store: NewDocumentStore(db, reflect.TypeFor[E]())}
}

// WithSession returns a repository bound to session.
func (r *DocumentRepository[E]) WithSession(session *Session) *DocumentRepository[E] {
	return &DocumentRepository[E]{store: r.store.WithSession(session)}
}

// Store exposes the untyped store.
func (r *DocumentRepository[E]) Store() *DocumentStore {
	return r.store
}

func (r *DocumentRepository[E]) EntityType() reflect.Type {
	return reflect.TypeFor[E]()
}

func (r *DocumentRepository[E]) Create(ctx context.Context, entity E) (E, error) {
	if err := r.store.Insert(ctx, entity); err != nil {
		var zero E
		return zero, err
	}
	return entity, nil
}

func (r *DocumentRepository[E]) Get(ctx context.Context, id string) (E, error) {
	v, err := r.store.Load(ctx, id)
	if err != nil {
		var zero E
		return zero, err
	}
	return v.(E), nil
}

func (r *DocumentRepository[E]) Update(ctx context.Context, entity E) (E, error) {
	if err := r.store.Replace(ctx, entity); err != nil {
		var zero E
		return zero, err
	}
	return entity, nil
}

func (r *DocumentRepository[E]) Delete(ctx context.Context, id string) error {
	return r.store.Remove(ctx, id)
}

func (r *DocumentRepository[E]) List(ctx context.Context) ([]E, error) {
	return r.Find(ctx, nil)
}

// Find returns the entities accepted by match; a nil match accepts all.
func (r *DocumentRepository[E]) Find(ctx context.Context, match Predicate[E]) ([]E, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]E, 0, len(all))
	for _, v := range all {
		e := v.(E)
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ Repository[*BaseEntity] = (*DocumentRepository[*BaseEntity])(nil)
