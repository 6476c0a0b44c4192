package data

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/startup"
)

type noteRepository struct {
	*DocumentRepository[*note]
}

func newNoteRepository(db *DbContext) *noteRepository {
	return &noteRepository{DocumentRepository: NewDocumentRepository[*note](db)}
}

type noteService struct {
	repo Repository[*note]
}

func newNoteService(repo Repository[*note]) *noteService {
	return &noteService{repo: repo}
}

func TestContractMapper(t *testing.T) {
	key, ok := ContractMapper(reflect.TypeFor[Repository[*note]]())
	require.True(t, ok)
	assert.Equal(t, RepositoryKey[*note](), key)

	_, ok = ContractMapper(reflect.TypeFor[*noteRepository]())
	assert.False(t, ok)
	_, ok = ContractMapper(reflect.TypeFor[context.Context]())
	assert.False(t, ok)
}

func TestRepositoryCapability_BindsEntity(t *testing.T) {
	cat := discovery.NewCatalog()
	cat.Register(discovery.Module{Name: "app/notes", Exports: []any{newNoteRepository, newNoteService}})

	matches, err := discovery.NewFinder(cat).FindAll(RepositoryCapability())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, reflect.TypeFor[*note](), matches[0].Param)
	assert.Equal(t, "noteRepository", matches[0].Candidate.Name())
}

func newRegistry(t *testing.T) (*di.Registry, *DbContext) {
	t.Helper()
	db := openTestDB(t)
	reg := di.New(di.WithContractMapper(ContractMapper))
	require.NoError(t, di.RegisterValue(reg, db))
	require.NoError(t, reg.RegisterGeneric(di.Key{Type: RepositoryContract}, DocumentStoreFactory, di.Singleton))
	return reg, db
}

func TestResolveRepository_FallsBackToDocumentStore(t *testing.T) {
	reg, _ := newRegistry(t)

	repo, err := ResolveRepository[*note](reg)
	require.NoError(t, err)

	created, err := repo.Create(context.Background(), &note{Title: "fallback"})
	require.NoError(t, err)
	got, err := repo.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "fallback", got.Title)
	assert.Equal(t, reflect.TypeFor[*note](), repo.EntityType())
}

func TestConstructorInjection_Repository(t *testing.T) {
	reg, _ := newRegistry(t)
	require.NoError(t, reg.Register(RepositoryKey[*note](), newNoteRepository, di.Singleton))
	require.NoError(t, di.Provide[*noteService](reg, newNoteService, di.Transient))

	svc, err := di.Resolve[*noteService](reg)
	require.NoError(t, err)
	_, ok := svc.repo.(*noteRepository)
	assert.True(t, ok)

	descs := reg.Descriptors()
	var deps []di.Key
	for _, d := range descs {
		if d.Key == di.KeyOf[*noteService]() {
			deps = d.Dependencies
		}
	}
	assert.Equal(t, []di.Key{RepositoryKey[*note]()}, deps)
}

func TestUseDocuments(t *testing.T) {
	reg, _ := newRegistry(t)
	require.NoError(t, UseDocuments[*note](reg))
	require.NoError(t, di.Provide[*noteService](reg, newNoteService, di.Transient))

	svc, err := di.Resolve[*noteService](reg)
	require.NoError(t, err)
	_, ok := svc.repo.(*DocumentRepository[*note])
	assert.True(t, ok)
}

func TestDatabaseSchemaTask(t *testing.T) {
	cfg := config.New()
	cfg.Set("database.dsn", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	cfg.Set("database.max_open_conns", 2)

	db := NewDbContext(nil)
	task := NewDatabaseSchemaTask(db, cfg, nil)
	require.NoError(t, task.Configure(startup.Config{"max_open_conns": 1}))

	dc, err := task.DatabaseConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, dc.MaxOpenConns)

	require.NoError(t, task.Execute(context.Background()))
	assert.True(t, db.IsOpen())
	assert.Equal(t, DatabaseSchemaTaskOrder, task.Order())

	_, err = NewDocumentRepository[*note](db).List(context.Background())
	require.NoError(t, err)

	require.NoError(t, task.Cleanup(context.Background()))
	assert.False(t, db.IsOpen())
}

func TestDatabaseSchemaTask_InvalidConfig(t *testing.T) {
	cfg := config.New()
	cfg.Set("database.driver", "postgres")

	task := NewDatabaseSchemaTask(NewDbContext(nil), cfg, nil)
	assert.Error(t, task.Execute(context.Background()))
}

func TestManifest_ExportsTasks(t *testing.T) {
	cat := discovery.NewCatalog()
	cat.Register(Manifest())

	matches, err := discovery.NewFinder(cat).FindAll(discovery.Implements[startup.Task]())
	require.NoError(t, err)
	var names []string
	for _, m := range matches {
		names = append(names, m.Candidate.Name())
	}
	assert.Equal(t, []string{"DatabaseSchemaTask", "RedisTask"}, names)
}
