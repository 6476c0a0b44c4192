package corekit

import (
	"github.com/xraph/corekit/internal/data"
)

// Repository boundary.
type (
	Entity                            = data.Entity
	BaseEntity                        = data.BaseEntity
	Repository[E data.Entity]         = data.Repository[E]
	Predicate[E data.Entity]          = data.Predicate[E]
	DocumentRepository[E data.Entity] = data.DocumentRepository[E]
	RedisRepository[E data.Entity]    = data.RedisRepository[E]
	DbContext                         = data.DbContext
	DatabaseConfig                    = data.DatabaseConfig
	Session                           = data.Session
)

var (
	ErrNotFound = data.ErrNotFound
	ErrConflict = data.ErrConflict
	ErrNotOpen  = data.ErrNotOpen
)

// ResolveRepository returns the repository for E: a discovered
// implementation when one exists, the document store otherwise.
func ResolveRepository[E data.Entity](r Resolver) (Repository[E], error) {
	return data.ResolveRepository[E](r)
}

// UseDocuments registers the document repository as the Repository[E].
func UseDocuments[E data.Entity](r Registrar) error {
	return data.UseDocuments[E](r)
}

// RepositoryKey returns the registry key of Repository[E].
func RepositoryKey[E data.Entity]() Key {
	return data.RepositoryKey[E]()
}
