package services

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FirestoreService talks to Firestore over the gRPC client with real-time listeners.
type FirestoreService struct {
	client *firestore.Client
}

func NewFirestoreService(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*FirestoreService, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreService{
		client: client,
	}, nil
}

func (fs *FirestoreService) Close() error {
	return fs.client.Close()
}

// Probe issues one cheap read to find out whether the gRPC transport works.
// Only a capability error, or no answer before ctx expires, counts as unusable;
// the store rejecting the read still proves the transport.
func (fs *FirestoreService) Probe(ctx context.Context) error {
	_, err := fs.client.Collection("users").Doc("probe").Get(ctx)
	if err == nil {
		return nil
	}
	if isCapabilityError(err) || ctx.Err() != nil {
		return err
	}
	return nil
}

func (fs *FirestoreService) collection(p CollectionPath) (*firestore.CollectionRef, error) {
	coll := fs.client.Collection(p.String())
	if coll == nil {
		return nil, fmt.Errorf("invalid collection path %q", p.String())
	}
	return coll, nil
}

func (fs *FirestoreService) query(p CollectionPath, orderField string, dir Direction) (firestore.Query, error) {
	coll, err := fs.collection(p)
	if err != nil {
		return firestore.Query{}, err
	}
	d := firestore.Asc
	if dir == Desc {
		d = firestore.Desc
	}
	return coll.OrderBy(orderField, d), nil
}

func (fs *FirestoreService) AddDocument(ctx context.Context, p CollectionPath, data map[string]any) (WriteResult, error) {
	coll, err := fs.collection(p)
	if err != nil {
		return WriteResult{}, err
	}

	ref, wr, err := coll.Add(ctx, data)
	if err != nil {
		return WriteResult{}, remoteErr("add document", err)
	}

	return WriteResult{ID: ref.ID, UpdateTime: wr.UpdateTime}, nil
}

func (fs *FirestoreService) GetDocuments(ctx context.Context, p CollectionPath, orderField string, dir Direction) ([]Document, error) {
	q, err := fs.query(p, orderField, dir)
	if err != nil {
		return nil, err
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, remoteErr("iterate documents", err)
		}

		docs = append(docs, Document{ID: doc.Ref.ID, Fields: doc.Data()})
	}

	return docs, nil
}

func (fs *FirestoreService) Subscribe(ctx context.Context, p CollectionPath, orderField string, dir Direction, onChange SnapshotFunc, onError ErrorFunc) func() {
	l, ctx := newListener(ctx, onChange, onError)

	q, err := fs.query(p, orderField, dir)
	if err != nil {
		go l.fail(fmt.Errorf("%w: %w", ErrSubscriptionChannel, err))
		return l.stop
	}

	snapshots := q.Snapshots(ctx)
	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if l.isStopped() || ctx.Err() != nil || err == iterator.Done {
					return
				}
				l.fail(fmt.Errorf("%w: %w", ErrSubscriptionChannel, err))
				return
			}

			all, err := snap.Documents.GetAll()
			if err != nil {
				l.fail(fmt.Errorf("%w: %w", ErrSubscriptionChannel, err))
				return
			}

			docs := make([]Document, 0, len(all))
			for _, doc := range all {
				docs = append(docs, Document{ID: doc.Ref.ID, Fields: doc.Data()})
			}
			l.snapshot(docs)
		}
	}()

	return l.stop
}

func (fs *FirestoreService) UpdateDocument(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	coll, err := fs.collection(ref.Parent)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}

	if _, err := coll.Doc(ref.ID).Update(ctx, updates); err != nil {
		return remoteErr("update document", err)
	}

	return nil
}

func (fs *FirestoreService) DeleteDocument(ctx context.Context, ref DocumentRef) error {
	coll, err := fs.collection(ref.Parent)
	if err != nil {
		return err
	}

	if _, err := coll.Doc(ref.ID).Delete(ctx); err != nil {
		return remoteErr("delete document", err)
	}

	return nil
}

func (fs *FirestoreService) ServerTimestamp() any {
	return firestore.ServerTimestamp
}
