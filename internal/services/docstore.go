package services

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotAuthenticated      = errors.New("User not authenticated")
	ErrStoreUnavailable      = errors.New("document store unavailable")
	ErrRemoteOperationFailed = errors.New("remote operation failed")
	ErrSubscriptionChannel   = errors.New("subscription channel error")
	ErrDocumentNotFound      = errors.New("document not found")
)

// Direction is the sort direction of an ordered query.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// CollectionPath addresses a collection as alternating collection/document ids,
// e.g. users/{uid}/tasks.
type CollectionPath []string

// Collection builds a CollectionPath from its segments.
func Collection(segments ...string) CollectionPath {
	return CollectionPath(segments)
}

func (p CollectionPath) String() string {
	return strings.Join(p, "/")
}

// Doc addresses a document inside the collection.
func (p CollectionPath) Doc(id string) DocumentRef {
	return DocumentRef{Parent: p, ID: id}
}

// DocumentRef addresses a single document.
type DocumentRef struct {
	Parent CollectionPath
	ID     string
}

func (r DocumentRef) String() string {
	return r.Parent.String() + "/" + r.ID
}

// Document is a stored document: its id and decoded fields.
// Timestamp fields are decoded to time.Time.
type Document struct {
	ID     string
	Fields map[string]any
}

// WriteResult is the outcome of a create: the assigned id and the store's commit
// time, which is also the value server timestamps in that write resolved to.
type WriteResult struct {
	ID         string
	UpdateTime time.Time
}

// SnapshotFunc receives the complete ordered document list on every change.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives a channel-level error. No further snapshots follow it.
type ErrorFunc func(err error)

// DocumentStore is the CRUD and query surface the todo repository depends on.
// Implementations must order results identically for GetDocuments and Subscribe.
type DocumentStore interface {
	AddDocument(ctx context.Context, coll CollectionPath, data map[string]any) (WriteResult, error)
	GetDocuments(ctx context.Context, coll CollectionPath, orderField string, dir Direction) ([]Document, error)
	// Subscribe delivers snapshots until the returned func is called or ctx is done.
	// The returned func is safe to call more than once.
	Subscribe(ctx context.Context, coll CollectionPath, orderField string, dir Direction, onChange SnapshotFunc, onError ErrorFunc) func()
	UpdateDocument(ctx context.Context, ref DocumentRef, fields map[string]any) error
	DeleteDocument(ctx context.Context, ref DocumentRef) error
	// ServerTimestamp returns the sentinel this store resolves to its own clock at write time.
	ServerTimestamp() any
	Close() error
}
