package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	firestorev1 "google.golang.org/api/firestore/v1"
	"google.golang.org/api/option"
)

// restServerTimestamp is the REST store's timestamp sentinel. Fields holding it
// are written as REQUEST_TIME field transforms.
type restServerTimestamp struct{}

// FirestoreRESTService talks to Firestore through the v1 REST API. It has no
// push channel, so subscriptions poll and deliver only when the list changed.
type FirestoreRESTService struct {
	docs         *firestorev1.ProjectsDatabasesDocumentsService
	database     string
	pollInterval time.Duration
}

func NewFirestoreRESTService(ctx context.Context, projectID, databaseID string, pollInterval time.Duration, opts ...option.ClientOption) (*FirestoreRESTService, error) {
	if databaseID == "" {
		databaseID = "(default)"
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	svc, err := firestorev1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore REST client: %w", err)
	}

	return &FirestoreRESTService{
		docs:         svc.Projects.Databases.Documents,
		database:     fmt.Sprintf("projects/%s/databases/%s", projectID, databaseID),
		pollInterval: pollInterval,
	}, nil
}

func (rs *FirestoreRESTService) Close() error {
	return nil
}

func (rs *FirestoreRESTService) root() string {
	return rs.database + "/documents"
}

// parent splits a collection path into the REST parent resource and collection id.
func (rs *FirestoreRESTService) parent(p CollectionPath) (string, string, error) {
	if len(p)%2 == 0 {
		return "", "", fmt.Errorf("invalid collection path %q", p.String())
	}
	parent := rs.root()
	if len(p) > 1 {
		parent += "/" + CollectionPath(p[:len(p)-1]).String()
	}
	return parent, p[len(p)-1], nil
}

func (rs *FirestoreRESTService) name(ref DocumentRef) string {
	return rs.root() + "/" + ref.String()
}

func (rs *FirestoreRESTService) commit(ctx context.Context, writes ...*firestorev1.Write) (time.Time, error) {
	resp, err := rs.docs.Commit(rs.database, &firestorev1.CommitRequest{Writes: writes}).Context(ctx).Do()
	if err != nil {
		return time.Time{}, err
	}
	// zero when the emulator omits commitTime
	commitTime, _ := time.Parse(time.RFC3339Nano, resp.CommitTime)
	return commitTime, nil
}

func (rs *FirestoreRESTService) AddDocument(ctx context.Context, p CollectionPath, data map[string]any) (WriteResult, error) {
	if _, _, err := rs.parent(p); err != nil {
		return WriteResult{}, err
	}

	id := uuid.NewString()
	write, err := encodeWrite(rs.name(p.Doc(id)), data)
	if err != nil {
		return WriteResult{}, err
	}
	write.CurrentDocument = &firestorev1.Precondition{Exists: false, ForceSendFields: []string{"Exists"}}

	commitTime, err := rs.commit(ctx, write)
	if err != nil {
		return WriteResult{}, remoteErr("add document", err)
	}

	return WriteResult{ID: id, UpdateTime: commitTime}, nil
}

func (rs *FirestoreRESTService) GetDocuments(ctx context.Context, p CollectionPath, orderField string, dir Direction) ([]Document, error) {
	parent, collectionID, err := rs.parent(p)
	if err != nil {
		return nil, err
	}

	orderBy := orderField
	if dir == Desc {
		orderBy += " desc"
	}

	var docs []Document
	err = rs.docs.List(parent, collectionID).OrderBy(orderBy).Pages(ctx, func(resp *firestorev1.ListDocumentsResponse) error {
		for _, d := range resp.Documents {
			fields, err := decodeFields(d.Fields)
			if err != nil {
				return err
			}
			docs = append(docs, Document{ID: path.Base(d.Name), Fields: fields})
		}
		return nil
	})
	if err != nil {
		return nil, remoteErr("list documents", err)
	}

	return docs, nil
}

func (rs *FirestoreRESTService) Subscribe(ctx context.Context, p CollectionPath, orderField string, dir Direction, onChange SnapshotFunc, onError ErrorFunc) func() {
	l, ctx := newListener(ctx, onChange, onError)

	go func() {
		ticker := time.NewTicker(rs.pollInterval)
		defer ticker.Stop()

		var last []Document
		first := true
		for {
			docs, err := rs.GetDocuments(ctx, p, orderField, dir)
			if err != nil {
				if l.isStopped() || ctx.Err() != nil {
					return
				}
				l.fail(fmt.Errorf("%w: %w", ErrSubscriptionChannel, err))
				return
			}
			if first || !reflect.DeepEqual(last, docs) {
				l.snapshot(docs)
				last, first = docs, false
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return l.stop
}

func (rs *FirestoreRESTService) UpdateDocument(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	write, err := encodeWrite(rs.name(ref), fields)
	if err != nil {
		return err
	}
	write.UpdateMask = &firestorev1.DocumentMask{FieldPaths: maskPaths(write.Update.Fields)}
	write.CurrentDocument = &firestorev1.Precondition{Exists: true}

	if _, err := rs.commit(ctx, write); err != nil {
		return remoteErr("update document", err)
	}

	return nil
}

func (rs *FirestoreRESTService) DeleteDocument(ctx context.Context, ref DocumentRef) error {
	if _, err := rs.commit(ctx, &firestorev1.Write{Delete: rs.name(ref)}); err != nil {
		return remoteErr("delete document", err)
	}

	return nil
}

func (rs *FirestoreRESTService) ServerTimestamp() any {
	return restServerTimestamp{}
}

// encodeWrite builds an update write for name. Sentinel fields become transforms.
func encodeWrite(name string, data map[string]any) (*firestorev1.Write, error) {
	fields := make(map[string]firestorev1.Value, len(data))
	var transforms []*firestorev1.FieldTransform

	for k, v := range data {
		if _, ok := v.(restServerTimestamp); ok {
			transforms = append(transforms, &firestorev1.FieldTransform{
				FieldPath:        k,
				SetToServerValue: "REQUEST_TIME",
			})
			continue
		}
		val, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = val
	}
	sort.Slice(transforms, func(i, j int) bool { return transforms[i].FieldPath < transforms[j].FieldPath })

	return &firestorev1.Write{
		Update:           &firestorev1.Document{Name: name, Fields: fields},
		UpdateTransforms: transforms,
	}, nil
}

func maskPaths(fields map[string]firestorev1.Value) []string {
	paths := make([]string, 0, len(fields))
	for k := range fields {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// restValue mirrors the wire form of a Firestore REST Value. Values pass
// through it so zero values survive the generated client's omitempty fields.
type restValue struct {
	NullValue      *string  `json:"nullValue,omitempty"`
	StringValue    *string  `json:"stringValue,omitempty"`
	BooleanValue   *bool    `json:"booleanValue,omitempty"`
	IntegerValue   *int64   `json:"integerValue,omitempty,string"`
	DoubleValue    *float64 `json:"doubleValue,omitempty"`
	TimestampValue *string  `json:"timestampValue,omitempty"`
}

func encodeValue(v any) (firestorev1.Value, error) {
	var (
		rv    restValue
		force string
	)
	switch x := v.(type) {
	case nil:
		null := "NULL_VALUE"
		rv.NullValue = &null
	case string:
		rv.StringValue, force = &x, "StringValue"
	case bool:
		rv.BooleanValue, force = &x, "BooleanValue"
	case int:
		i := int64(x)
		rv.IntegerValue, force = &i, "IntegerValue"
	case int64:
		rv.IntegerValue, force = &x, "IntegerValue"
	case float64:
		rv.DoubleValue, force = &x, "DoubleValue"
	case time.Time:
		ts := x.UTC().Format(time.RFC3339Nano)
		rv.TimestampValue = &ts
	default:
		return firestorev1.Value{}, fmt.Errorf("unsupported value type %T", v)
	}

	raw, err := json.Marshal(rv)
	if err != nil {
		return firestorev1.Value{}, err
	}
	var out firestorev1.Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return firestorev1.Value{}, err
	}
	if force != "" {
		out.ForceSendFields = []string{force}
	}
	return out, nil
}

// decodeFields maps REST values back to Go values. A value the server sent
// empty decodes to nil.
func decodeFields(fields map[string]firestorev1.Value) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		var rv restValue
		if err := json.Unmarshal(raw, &rv); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}

		switch {
		case rv.StringValue != nil:
			out[k] = *rv.StringValue
		case rv.BooleanValue != nil:
			out[k] = *rv.BooleanValue
		case rv.IntegerValue != nil:
			out[k] = *rv.IntegerValue
		case rv.DoubleValue != nil:
			out[k] = *rv.DoubleValue
		case rv.TimestampValue != nil:
			t, err := time.Parse(time.RFC3339Nano, *rv.TimestampValue)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = t
		default:
			out[k] = nil
		}
	}
	return out, nil
}
