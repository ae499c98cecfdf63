package auth

import (
	"context"
	"log"
	"sync"
)

// Session holds the signed-in principal of an interactive client and notifies
// listeners on every sign-in and sign-out.
type Session struct {
	verifier TokenVerifier

	mu        sync.RWMutex
	current   *Principal
	listeners map[int]func(*Principal)
	nextID    int
}

func NewSession(verifier TokenVerifier) *Session {
	return &Session{
		verifier:  verifier,
		listeners: make(map[int]func(*Principal)),
	}
}

// SignInWithIDToken verifies token and makes its subject the current principal.
func (s *Session) SignInWithIDToken(ctx context.Context, token string) (*Principal, error) {
	p, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	s.SignIn(*p)
	return p, nil
}

// SignIn sets p as the current principal without verification.
func (s *Session) SignIn(p Principal) {
	s.mu.Lock()
	s.current = &p
	s.mu.Unlock()

	log.Printf("Auth state changed: signed in as %s", p.UID)
	s.emit(&p)
}

func (s *Session) SignOut() {
	s.mu.Lock()
	wasSignedIn := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if wasSignedIn {
		log.Println("Auth state changed: signed out")
		s.emit(nil)
	}
}

// CurrentUser returns a copy of the signed-in principal, or nil.
func (s *Session) CurrentUser() *Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	p := *s.current
	return &p
}

func (s *Session) IsSignedIn() bool {
	return s.CurrentUser() != nil
}

func (s *Session) CurrentPrincipalID(context.Context) (string, bool) {
	p := s.CurrentUser()
	if p == nil {
		return "", false
	}
	return p.UID, true
}

// OnAuthStateChanged registers fn and calls it immediately with the current
// state. The returned func removes the listener and may be called repeatedly.
func (s *Session) OnAuthStateChanged(fn func(*Principal)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	fn(s.CurrentUser())

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) emit(p *Principal) {
	s.mu.RLock()
	fns := make([]func(*Principal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		if p == nil {
			fn(nil)
			continue
		}
		cp := *p
		fn(&cp)
	}
}
