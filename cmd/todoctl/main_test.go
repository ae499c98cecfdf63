package main

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/services"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func useMemoryBackend(t *testing.T) *services.MemoryStore {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")
	t.Setenv("TODO_ID_TOKEN", "")
	return services.NewMemoryStore()
}

func runCtx(ctx context.Context, store services.DocumentStore, out *syncBuffer, args ...string) error {
	a := &app{
		openStore: func(context.Context, bool, services.StoreOptions) (services.DocumentStore, error) {
			return store, nil
		},
	}
	cmd := newRootCmd(a)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func run(t *testing.T, store services.DocumentStore, args ...string) string {
	t.Helper()
	out := &syncBuffer{}
	require.NoError(t, runCtx(context.Background(), store, out, args...))
	return out.String()
}

var addedID = regexp.MustCompile(`\(([0-9a-f-]+)\)`)

func add(t *testing.T, store services.DocumentStore, title string) string {
	t.Helper()
	out := run(t, store, "--uid", "alice", "add", title)
	m := addedID.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestTaskCommands(t *testing.T) {
	store := useMemoryBackend(t)

	assert.Contains(t, run(t, store, "--uid", "alice", "list"), "No tasks.")

	milk := add(t, store, "Buy milk")
	add(t, store, "Call mom")

	out := run(t, store, "--uid", "alice", "list")
	assert.Less(t, strings.Index(out, "Call mom"), strings.Index(out, "Buy milk"))

	assert.Contains(t, run(t, store, "--uid", "alice", "done", milk), "Buy milk is now done")
	assert.Contains(t, run(t, store, "--uid", "alice", "done", milk), "already done")
	assert.Contains(t, run(t, store, "--uid", "alice", "stats"), "Completion: 50%")
	assert.Contains(t, run(t, store, "--uid", "alice", "done", "--undo", milk), "now not done")

	run(t, store, "--uid", "alice", "edit", milk, "--title", "Buy oat milk")
	assert.Contains(t, run(t, store, "--uid", "alice", "list"), "Buy oat milk")

	assert.Contains(t, run(t, store, "--uid", "alice", "rm", milk), "Deleted "+milk)
	assert.NotContains(t, run(t, store, "--uid", "alice", "list"), "Buy oat milk")

	assert.Contains(t, run(t, store, "--uid", "bob", "list"), "No tasks.")
	assert.Contains(t, run(t, store, "--uid", "alice", "rm", "--all"), "Deleted 1 tasks")
}

func TestCommandErrors(t *testing.T) {
	store := useMemoryBackend(t)
	out := &syncBuffer{}

	assert.ErrorContains(t, runCtx(context.Background(), store, out, "list"), "sign in")
	assert.Error(t, runCtx(context.Background(), store, out, "--uid", "alice", "add", "   "))
	assert.ErrorContains(t, runCtx(context.Background(), store, out, "--uid", "alice", "edit", "x"), "nothing to change")
	assert.ErrorContains(t, runCtx(context.Background(), store, out, "--uid", "alice", "done", "missing"), "no task")
	assert.Error(t, runCtx(context.Background(), store, out, "--uid", "alice", "rm"))
	assert.ErrorContains(t, runCtx(context.Background(), store, out, "--token", "not-a-jwt", "list"), "sign in failed")
}

func TestUIDRequiresLocalBackend(t *testing.T) {
	store := useMemoryBackend(t)
	t.Setenv("STORE_BACKEND", "firestore")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "demo")

	err := runCtx(context.Background(), store, &syncBuffer{}, "--uid", "alice", "list")
	assert.ErrorContains(t, err, "--uid is only accepted")
}

func TestWatchPrintsChanges(t *testing.T) {
	store := useMemoryBackend(t)
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runCtx(ctx, store, out, "--uid", "alice", "watch") }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "No tasks.") }, 2*time.Second, 10*time.Millisecond)

	todos := services.NewTodoService(store, auth.ContextProvider{})
	res := todos.AddTask(auth.WithPrincipal(context.Background(), auth.Principal{UID: "alice"}), "Watch me", "")
	require.True(t, res.Success)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Watch me") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
