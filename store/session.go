package store

import (
	"fmt"
)

// Suspender is implemented by iterators holding a live, growth-sensitive
// resource. SuspendForWrite must release the resource while preserving the
// iterator's logical position.
type Suspender interface {
	SuspendForWrite() error
}

// Session owns the mutable state shared by every iterator opened against one
// store: the iterator id generator, the suspend registry, and the count of
// currently unsuspended members. There is exactly one session per open
// store; nothing here is process-global.
type Session struct {
	nextIterID  uint64
	registry    map[uint64]Suspender
	unsuspended int
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{registry: make(map[uint64]Suspender)}
}

// NextIteratorID hands out a fresh iterator identity.
func (s *Session) NextIteratorID() uint64 {
	s.nextIterID++
	return s.nextIterID
}

// Register adds an iterator to the suspend registry. Iterators whose
// resource is not growth-sensitive (the full-scan variant) never register.
func (s *Session) Register(id uint64, it Suspender) {
	s.registry[id] = it
	s.unsuspended++
}

// Deregister removes an iterator from the registry. wasSuspended tells the
// session whether the member still counted as unsuspended.
func (s *Session) Deregister(id uint64, wasSuspended bool) {
	if _, ok := s.registry[id]; !ok {
		return
	}
	delete(s.registry, id)
	if !wasSuspended {
		s.decUnsuspended()
	}
}

// NoteSuspended records that a registered iterator released its resource.
func (s *Session) NoteSuspended() { s.decUnsuspended() }

// NoteUnsuspended records that a registered iterator reacquired its resource.
func (s *Session) NoteUnsuspended() { s.unsuspended++ }

// Unsuspended returns the number of registered iterators currently holding a
// live resource.
func (s *Session) Unsuspended() int { return s.unsuspended }

// SuspendAll releases the resource of every registered iterator. It is
// called before any operation that can change record-store geometry; the
// walk is skipped when no member is unsuspended.
func (s *Session) SuspendAll() error {
	if s.unsuspended == 0 {
		return nil
	}
	for _, it := range s.registry {
		if err := it.SuspendForWrite(); err != nil {
			return err
		}
	}
	if s.unsuspended != 0 {
		panic(fmt.Sprintf("suspend-all left %d members unsuspended", s.unsuspended))
	}
	return nil
}

func (s *Session) decUnsuspended() {
	s.unsuspended--
	if s.unsuspended < 0 {
		panic("unsuspended iterator count went negative")
	}
}
