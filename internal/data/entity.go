package data

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Entity is a value stored by a repository, addressed by a string ID.
type Entity interface {
	GetID() string
	SetID(id string)
}

// Timestamped entities get their timestamps maintained on write.
type Timestamped interface {
	Touch(now time.Time)
}

// BaseEntity supplies an ID and timestamps. Embed it in entity structs.
type BaseEntity struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *BaseEntity) GetID() string {
	return e.ID
}

func (e *BaseEntity) SetID(id string) {
	e.ID = id
}

// Touch sets CreatedAt on first write and UpdatedAt on every write.
func (e *BaseEntity) Touch(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

// NewID returns a random entity ID.
func NewID() string {
	return uuid.NewString()
}

// prepare assigns an ID when missing and refreshes timestamps.
func prepare(e Entity, now time.Time) {
	if e.GetID() == "" {
		e.SetID(NewID())
	}
	if ts, ok := e.(Timestamped); ok {
		ts.Touch(now)
	}
}

// newInstance allocates a value of t. Pointer types get a fresh element.
func newInstance(t reflect.Type) any {
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.New(t).Interface()
}

// deref turns the pointer returned by newInstance back into a value of t.
func deref(t reflect.Type, ptr any) any {
	if t.Kind() == reflect.Pointer {
		return ptr
	}
	return reflect.ValueOf(ptr).Elem().Interface()
}
