package data

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/errors"
)

var (
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("entity already exists")
	ErrNotOpen  = errors.New("database context not open")
)

// Predicate selects entities in Find.
type Predicate[E Entity] func(E) bool

// Repository is the storage boundary for one entity type.
type Repository[E Entity] interface {
	Create(ctx context.Context, entity E) (E, error)
	Get(ctx context.Context, id string) (E, error)
	Update(ctx context.Context, entity E) (E, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]E, error)
	Find(ctx context.Context, match Predicate[E]) ([]E, error)
	EntityType() reflect.Type
}

// RepositoryContract identifies the open generic repository contract.
const RepositoryContract = "github.com/xraph/corekit/internal/data.Repository"

// RepositoryKey is the service key of Repository[E].
func RepositoryKey[E Entity]() di.Key {
	return di.GenericKey(RepositoryContract, reflect.TypeFor[E]())
}

// RepositoryKeyFor is RepositoryKey for an entity type known at runtime.
func RepositoryKeyFor(entity reflect.Type) di.Key {
	return di.GenericKey(RepositoryContract, entity)
}

var repositoryIface = reflect.TypeFor[Repository[*BaseEntity]]()

// ContractMapper lets constructors declare Repository[E] parameters: they
// resolve through RepositoryKey[E] instead of the instantiated type's own key.
func ContractMapper(t reflect.Type) (di.Key, bool) {
	if t.Kind() != reflect.Interface || t.PkgPath() != repositoryIface.PkgPath() {
		return di.Key{}, false
	}
	if !strings.HasPrefix(t.Name(), "Repository[") {
		return di.Key{}, false
	}
	entity, err := entityOf(t)
	if err != nil {
		return di.Key{}, false
	}
	return RepositoryKeyFor(entity), true
}

// entityOf reads the entity type from the first result of Get.
func entityOf(t reflect.Type) (reflect.Type, error) {
	m, ok := t.MethodByName("Get")
	if !ok {
		return nil, fmt.Errorf("%s has no Get method", t)
	}
	mt := m.Type
	if mt.NumOut() != 2 {
		return nil, fmt.Errorf("%s.Get must return (E, error)", t)
	}
	return mt.Out(0), nil
}

// repositoryShape is the non-generic part of Repository shared by every
// instantiation.
type repositoryShape interface {
	EntityType() reflect.Type
	Delete(ctx context.Context, id string) error
}

// RepositoryCapability discovers repository implementations and binds the
// entity they serve.
func RepositoryCapability() discovery.Capability {
	return discovery.Generic("repository", reflect.TypeFor[repositoryShape](), entityOf)
}

// ResolveRepository resolves Repository[E]. The open generic document store
// registered as fallback is adapted to the typed interface.
func ResolveRepository[E Entity](r di.Resolver) (Repository[E], error) {
	key := RepositoryKey[E]()
	v, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	switch repo := v.(type) {
	case Repository[E]:
		return repo, nil
	case *DocumentStore:
		return &DocumentRepository[E]{store: repo}, nil
	default:
		return nil, fmt.Errorf("%w: %s resolved to %T", errors.ErrTypeMismatch, key, v)
	}
}

// DocumentStoreFactory is the open generic fallback for the repository
// contract: any entity without a dedicated repository gets a document store.
func DocumentStoreFactory(r di.Resolver, entity reflect.Type) (any, error) {
	db, err := di.Resolve[*DbContext](r)
	if err != nil {
		return nil, err
	}
	return NewDocumentStore(db, entity), nil
}

// UseDocuments registers a typed document repository for E so constructors
// can receive Repository[E] directly.
func UseDocuments[E Entity](reg di.Registrar) error {
	return reg.Register(RepositoryKey[E](), func(r di.Resolver) (any, error) {
		db, err := di.Resolve[*DbContext](r)
		if err != nil {
			return nil, err
		}
		return NewDocumentRepository[E](db), nil
	}, di.Singleton)
}
