// Package docstore is a small document store abstraction over named collections
// and sub-collections. Documents are JSON objects addressed by (collection, id).
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnsupportedFilter is returned when a backend cannot express a filter.
	ErrUnsupportedFilter = errors.New("unsupported filter")
)

// Op is a comparison operator used in a Filter.
type Op string

const (
	Eq       Op = "=="
	NotEq    Op = "!="
	Lt       Op = "<"
	Lte      Op = "<="
	Gt       Op = ">"
	Gte      Op = ">="
	Contains Op = "array-contains"
	Prefix   Op = "prefix"
)

// Filter restricts a query to documents whose Field compares to Value with Op.
// Field is a top level JSON key of the document.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where is shorthand for building a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Order struct {
	Field string
	Desc  bool
}

// Query selects documents of a single collection.
// Filters are combined with AND. A zero Limit means no limit.
type Query struct {
	Filters []Filter
	OrderBy []Order
	Offset  int
	Limit   int
}

// Document is a raw stored document.
type Document struct {
	ID   string
	Data []byte
}

// ArrayUnion can be used as a field value in Update to add elements to an
// array field, skipping the ones already present.
type ArrayUnion []any

// Union builds an ArrayUnion from the given values.
func Union[T any](values ...T) ArrayUnion {
	u := make(ArrayUnion, 0, len(values))
	for _, v := range values {
		u = append(u, v)
	}
	return u
}

// ArrayRemove can be used as a field value in Update to remove every
// occurrence of the given elements from an array field.
type ArrayRemove []any

// Remove builds an ArrayRemove from the given values.
func Remove[T any](values ...T) ArrayRemove {
	r := make(ArrayRemove, 0, len(values))
	for _, v := range values {
		r = append(r, v)
	}
	return r
}

// Store is implemented by document store backends.
//
// Set replaces the whole document, creating it when missing.
// Update merges the given top level fields into an existing document and
// fails with ErrNotFound when the document is missing.
// Delete is a no-op when the document is missing.
type Store interface {
	Get(ctx context.Context, collection, id string, dst any) error
	Set(ctx context.Context, collection, id string, doc any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Count(ctx context.Context, collection string, filters ...Filter) (int, error)
	// Batch returns a write batch whose operations are applied atomically on Commit.
	Batch() Batch
	Close() error
}

// Batch groups writes so that they are applied all or nothing.
type Batch interface {
	Set(collection, id string, doc any) Batch
	Update(collection, id string, fields map[string]any) Batch
	Delete(collection, id string) Batch
	Commit(ctx context.Context) error
}

// Sub returns the path of a sub-collection nested under a parent document,
// e.g. Sub("users", "42", "friends") == "users/42/friends".
func Sub(collection, id, sub string) string {
	return strings.Join([]string{collection, id, sub}, "/")
}

// DecodeAll decodes every document into a new T using decode.
func DecodeAll[T any](docs []Document, decode func([]byte, any) error) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := decode(d.Data, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type batchOpKind int

const (
	opSet batchOpKind = iota
	opUpdate
	opDelete
)

type batchOp struct {
	kind       batchOpKind
	collection string
	id         string
	doc        any
	fields     map[string]any
}
