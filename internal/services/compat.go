package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/api/option"
)

// Transport selects which Firestore client generation a CompatStore uses.
type Transport string

const (
	TransportAuto Transport = "auto"
	TransportGRPC Transport = "grpc"
	TransportREST Transport = "rest"
)

// StoreOptions configures NewCompatStore.
type StoreOptions struct {
	ProjectID    string
	DatabaseID   string
	Transport    Transport
	ProbeTimeout time.Duration
	PollInterval time.Duration
	// FallbackOnError retries the REST path after any gRPC failure instead of
	// only after transport-level failures.
	FallbackOnError bool
	ClientOptions   []option.ClientOption
}

// compatServerTimestamp is replaced with the target generation's own sentinel.
type compatServerTimestamp struct{}

// CompatStore presents one DocumentStore over the gRPC and REST generations of
// the Firestore client. The generation is chosen once, at construction.
type CompatStore struct {
	modern          DocumentStore
	legacy          DocumentStore
	useModern       bool
	fallbackOnError bool
}

// NewCompatStore builds both generations as allowed by opts.Transport and probes
// the gRPC one. It fails with ErrStoreUnavailable only when neither is usable.
func NewCompatStore(ctx context.Context, opts StoreOptions) (*CompatStore, error) {
	if opts.Transport == "" {
		opts.Transport = TransportAuto
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}

	var (
		modern *FirestoreService
		legacy *FirestoreRESTService
		errs   []error
	)

	if opts.Transport != TransportREST {
		fs, err := NewFirestoreService(ctx, opts.ProjectID, opts.DatabaseID, opts.ClientOptions...)
		if err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
			err = fs.Probe(probeCtx)
			cancel()
			if err != nil {
				fs.Close()
			}
		}
		if err != nil {
			log.Printf("Firestore gRPC transport unavailable: %v", err)
			errs = append(errs, err)
		} else {
			modern = fs
		}
	}

	if opts.Transport != TransportGRPC {
		restOpts := append([]option.ClientOption(nil), opts.ClientOptions...)
		if host := os.Getenv("FIRESTORE_EMULATOR_HOST"); host != "" {
			restOpts = append(restOpts, option.WithEndpoint("http://"+host+"/"), option.WithoutAuthentication())
		}
		rs, err := NewFirestoreRESTService(ctx, opts.ProjectID, opts.DatabaseID, opts.PollInterval, restOpts...)
		if err != nil {
			log.Printf("Firestore REST transport unavailable: %v", err)
			errs = append(errs, err)
		} else {
			legacy = rs
		}
	}

	if modern == nil && legacy == nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, errors.Join(errs...))
	}

	cs := &CompatStore{fallbackOnError: opts.FallbackOnError}
	if modern != nil {
		cs.modern, cs.useModern = modern, true
	}
	if legacy != nil {
		cs.legacy = legacy
	}

	log.Printf("Firestore client ready (grpc=%t, rest=%t, fallbackOnError=%t)", modern != nil, legacy != nil, opts.FallbackOnError)
	return cs, nil
}

// UsesModern reports the capability flag recorded at construction.
func (cs *CompatStore) UsesModern() bool {
	return cs.useModern
}

func (cs *CompatStore) Close() error {
	var errs []error
	if cs.modern != nil {
		errs = append(errs, cs.modern.Close())
	}
	if cs.legacy != nil {
		errs = append(errs, cs.legacy.Close())
	}
	return errors.Join(errs...)
}

func (cs *CompatStore) ServerTimestamp() any {
	return compatServerTimestamp{}
}

func (cs *CompatStore) shouldFallback(err error) bool {
	if cs.legacy == nil {
		return false
	}
	return cs.fallbackOnError || isCapabilityError(err)
}

// resolve substitutes target's timestamp sentinel for the compat one.
func resolve(target DocumentStore, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := v.(compatServerTimestamp); ok {
			out[k] = target.ServerTimestamp()
			continue
		}
		out[k] = v
	}
	return out
}

// withFallback runs call on the selected generation and, when allowed, once more
// on the REST generation.
func withFallback[T any](cs *CompatStore, op string, call func(DocumentStore) (T, error)) (T, error) {
	if !cs.useModern {
		return call(cs.legacy)
	}

	v, err := call(cs.modern)
	if err == nil || !cs.shouldFallback(err) {
		return v, err
	}

	log.Printf("Firestore %s failed over gRPC, retrying over REST: %v", op, err)
	v, lerr := call(cs.legacy)
	if lerr != nil {
		if isCapabilityError(err) && isCapabilityError(lerr) {
			return v, fmt.Errorf("%w: %w", ErrStoreUnavailable, lerr)
		}
		return v, lerr
	}
	return v, nil
}

func (cs *CompatStore) AddDocument(ctx context.Context, p CollectionPath, data map[string]any) (WriteResult, error) {
	return withFallback(cs, "add", func(s DocumentStore) (WriteResult, error) {
		return s.AddDocument(ctx, p, resolve(s, data))
	})
}

func (cs *CompatStore) GetDocuments(ctx context.Context, p CollectionPath, orderField string, dir Direction) ([]Document, error) {
	return withFallback(cs, "list", func(s DocumentStore) ([]Document, error) {
		return s.GetDocuments(ctx, p, orderField, dir)
	})
}

func (cs *CompatStore) UpdateDocument(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	_, err := withFallback(cs, "update", func(s DocumentStore) (struct{}, error) {
		return struct{}{}, s.UpdateDocument(ctx, ref, resolve(s, fields))
	})
	return err
}

func (cs *CompatStore) DeleteDocument(ctx context.Context, ref DocumentRef) error {
	_, err := withFallback(cs, "delete", func(s DocumentStore) (struct{}, error) {
		return struct{}{}, s.DeleteDocument(ctx, ref)
	})
	return err
}

// Subscribe listens on the selected generation. If the gRPC listener fails
// before its first snapshot with an error that allows fallback, the channel is
// reopened once over REST.
func (cs *CompatStore) Subscribe(ctx context.Context, p CollectionPath, orderField string, dir Direction, onChange SnapshotFunc, onError ErrorFunc) func() {
	if !cs.useModern {
		return cs.legacy.Subscribe(ctx, p, orderField, dir, onChange, onError)
	}

	var (
		mu          sync.Mutex
		stopped     bool
		legacyStop  func()
		delivered   atomic.Bool
		unsubscribe sync.Once
	)

	modernStop := cs.modern.Subscribe(ctx, p, orderField, dir,
		func(docs []Document) {
			delivered.Store(true)
			onChange(docs)
		},
		func(err error) {
			if delivered.Load() || !cs.shouldFallback(err) {
				onError(err)
				return
			}
			log.Printf("Firestore listener failed over gRPC, reopening over REST: %v", err)
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				return
			}
			legacyStop = cs.legacy.Subscribe(ctx, p, orderField, dir, onChange, onError)
		},
	)

	return func() {
		unsubscribe.Do(func() {
			modernStop()
			mu.Lock()
			stopped = true
			stop := legacyStop
			mu.Unlock()
			if stop != nil {
				stop()
			}
		})
	}
}

// OpenStore returns an in-process MemoryStore when memory is set and a
// CompatStore over Firestore otherwise.
func OpenStore(ctx context.Context, memory bool, opts StoreOptions) (DocumentStore, error) {
	if memory {
		log.Println("Using in-memory document store")
		return NewMemoryStore(), nil
	}
	return NewCompatStore(ctx, opts)
}
