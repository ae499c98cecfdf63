package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// generation stands in for one client generation. When err is set every call
// fails with it; subErr breaks subscriptions before their first snapshot.
type generation struct {
	*MemoryStore
	err    error
	subErr error
	calls  atomic.Int32
}

func newGeneration() *generation {
	return &generation{MemoryStore: NewMemoryStore()}
}

func (g *generation) AddDocument(ctx context.Context, p CollectionPath, data map[string]any) (WriteResult, error) {
	g.calls.Add(1)
	if g.err != nil {
		return WriteResult{}, remoteErr("add document", g.err)
	}
	return g.MemoryStore.AddDocument(ctx, p, data)
}

func (g *generation) GetDocuments(ctx context.Context, p CollectionPath, field string, dir Direction) ([]Document, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, remoteErr("list documents", g.err)
	}
	return g.MemoryStore.GetDocuments(ctx, p, field, dir)
}

func (g *generation) UpdateDocument(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	g.calls.Add(1)
	if g.err != nil {
		return remoteErr("update document", g.err)
	}
	return g.MemoryStore.UpdateDocument(ctx, ref, fields)
}

func (g *generation) Subscribe(ctx context.Context, p CollectionPath, field string, dir Direction, onChange SnapshotFunc, onError ErrorFunc) func() {
	g.calls.Add(1)
	if g.subErr != nil {
		l, _ := newListener(ctx, onChange, onError)
		go l.fail(errors.Join(ErrSubscriptionChannel, g.subErr))
		return l.stop
	}
	return g.MemoryStore.Subscribe(ctx, p, field, dir, onChange, onError)
}

var tasksPath = Collection("users", "u1", "tasks")

func TestCompatStorePrefersModern(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	wr, err := cs.AddDocument(context.Background(), tasksPath, map[string]any{"title": "a", "createdAt": cs.ServerTimestamp()})
	require.NoError(t, err)
	assert.NotEmpty(t, wr.ID)
	assert.True(t, cs.UsesModern())
	assert.Equal(t, int32(1), modern.calls.Load())
	assert.Equal(t, int32(0), legacy.calls.Load())

	docs, err := modern.MemoryStore.GetDocuments(context.Background(), tasksPath, "createdAt", Desc)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.IsType(t, time.Time{}, docs[0].Fields["createdAt"])
}

func TestCompatStoreFallsBackOnCapabilityError(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.err = status.Error(codes.Unavailable, "transport is closing")
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	wr, err := cs.AddDocument(context.Background(), tasksPath, map[string]any{"title": "a", "createdAt": cs.ServerTimestamp()})
	require.NoError(t, err)
	assert.Equal(t, int32(1), legacy.calls.Load())

	docs, err := legacy.MemoryStore.GetDocuments(context.Background(), tasksPath, "createdAt", Desc)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, wr.ID, docs[0].ID)
	assert.IsType(t, time.Time{}, docs[0].Fields["createdAt"])
}

func TestCompatStoreSurfacesOperationalErrors(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.err = status.Error(codes.PermissionDenied, "missing or insufficient permissions")
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	_, err := cs.GetDocuments(context.Background(), tasksPath, "createdAt", Desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteOperationFailed)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, int32(0), legacy.calls.Load())
}

func TestCompatStoreFallbackOnAnyError(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.err = status.Error(codes.PermissionDenied, "missing or insufficient permissions")
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true, fallbackOnError: true}

	_, err := cs.GetDocuments(context.Background(), tasksPath, "createdAt", Desc)
	require.NoError(t, err)
	assert.Equal(t, int32(1), legacy.calls.Load())
}

func TestCompatStoreUnavailableWhenBothFail(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.err = status.Error(codes.Unimplemented, "not implemented")
	legacy.err = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	err := cs.UpdateDocument(context.Background(), tasksPath.Doc("x"), map[string]any{"title": "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestCompatStoreLegacyRejectionIsNotUnavailable(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.err = status.Error(codes.Unavailable, "transport is closing")
	legacy.err = &googleapi.Error{Code: http.StatusForbidden, Message: "Missing or insufficient permissions."}
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	_, err := cs.GetDocuments(context.Background(), tasksPath, "createdAt", Desc)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, ErrRemoteOperationFailed)
	assert.Equal(t, int32(1), legacy.calls.Load())
}

func TestCompatStoreLegacyOnly(t *testing.T) {
	legacy := newGeneration()
	cs := &CompatStore{legacy: legacy}

	_, err := cs.AddDocument(context.Background(), tasksPath, map[string]any{"title": "a", "createdAt": cs.ServerTimestamp()})
	require.NoError(t, err)
	assert.False(t, cs.UsesModern())
	assert.Equal(t, int32(1), legacy.calls.Load())
}

func TestCompatStoreSubscribeReopensOverLegacy(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.subErr = status.Error(codes.Unavailable, "listen stream closed")
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	var snapshots, failures atomic.Int32
	unsubscribe := cs.Subscribe(context.Background(), tasksPath, "createdAt", Desc,
		func([]Document) { snapshots.Add(1) },
		func(error) { failures.Add(1) },
	)
	defer unsubscribe()

	require.Eventually(t, func() bool { return snapshots.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, int32(1), legacy.calls.Load())

	assert.NotPanics(t, func() {
		unsubscribe()
		unsubscribe()
	})
}

func TestCompatStoreSubscribeErrorWithoutFallback(t *testing.T) {
	modern, legacy := newGeneration(), newGeneration()
	modern.subErr = status.Error(codes.PermissionDenied, "denied")
	cs := &CompatStore{modern: modern, legacy: legacy, useModern: true}

	errs := make(chan error, 1)
	unsubscribe := cs.Subscribe(context.Background(), tasksPath, "createdAt", Desc,
		func([]Document) {},
		func(err error) { errs <- err },
	)
	defer unsubscribe()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSubscriptionChannel)
	case <-time.After(time.Second):
		t.Fatal("expected subscription error")
	}
	assert.Equal(t, int32(0), legacy.calls.Load())
}

// grpcStatusServer answers every RPC with code and returns its address.
func grpcStatusServer(t *testing.T, code codes.Code) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(any, grpc.ServerStream) error {
		return status.Error(code, "rejected by test server")
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func grpcClientOptions(addr string) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

func closedAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestNewCompatStoreRESTSkipsGRPC(t *testing.T) {
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")
	fake := &fakeFirestore{}
	srv := newFakeServer(t, fake)

	cs, err := NewCompatStore(context.Background(), StoreOptions{
		ProjectID:    "demo",
		Transport:    TransportREST,
		PollInterval: 10 * time.Millisecond,
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithoutAuthentication(),
		},
	})
	require.NoError(t, err)
	defer cs.Close()

	assert.False(t, cs.UsesModern())
	assert.Nil(t, cs.modern)

	_, err = cs.AddDocument(context.Background(), tasksPath, map[string]any{"title": "a", "createdAt": cs.ServerTimestamp()})
	require.NoError(t, err)
	write := fake.lastWrite(t)
	assert.Equal(t, []any{
		map[string]any{"fieldPath": "createdAt", "setToServerValue": "REQUEST_TIME"},
	}, write["updateTransforms"])
}

func TestNewCompatStoreAutoFallsBackWhenGRPCUnimplemented(t *testing.T) {
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")
	addr := grpcStatusServer(t, codes.Unimplemented)

	cs, err := NewCompatStore(context.Background(), StoreOptions{
		ProjectID:     "demo",
		Transport:     TransportAuto,
		ProbeTimeout:  time.Second,
		ClientOptions: grpcClientOptions(addr),
	})
	require.NoError(t, err)
	defer cs.Close()

	assert.False(t, cs.UsesModern())
	assert.Nil(t, cs.modern)
	assert.NotNil(t, cs.legacy)
}

func TestNewCompatStoreKeepsGRPCWhenProbeIsRejected(t *testing.T) {
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")

	for _, code := range []codes.Code{codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated} {
		t.Run(code.String(), func(t *testing.T) {
			addr := grpcStatusServer(t, code)

			cs, err := NewCompatStore(context.Background(), StoreOptions{
				ProjectID:     "demo",
				Transport:     TransportGRPC,
				ProbeTimeout:  time.Second,
				ClientOptions: grpcClientOptions(addr),
			})
			require.NoError(t, err)
			defer cs.Close()

			assert.True(t, cs.UsesModern())
			assert.Nil(t, cs.legacy)
		})
	}
}

func TestNewCompatStoreGRPCOnlyUnavailable(t *testing.T) {
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")

	tests := []struct {
		name string
		addr string
	}{
		{"unimplemented", grpcStatusServer(t, codes.Unimplemented)},
		{"closed endpoint", closedAddr(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := NewCompatStore(context.Background(), StoreOptions{
				ProjectID:     "demo",
				Transport:     TransportGRPC,
				ProbeTimeout:  50 * time.Millisecond,
				ClientOptions: grpcClientOptions(tt.addr),
			})
			require.Error(t, err)
			assert.Nil(t, cs)
			assert.True(t, errors.Is(err, ErrStoreUnavailable))
		})
	}
}
