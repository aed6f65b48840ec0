package mock

import (
	"context"
	"sync"

	"github.com/grimoire/elk"
)

// IdentityService is an in-memory elk.IdentityService. Unique ids are derived
// with elk.UniqueIdentity. Enrollments are keyed by unique id.
type IdentityService struct {
	Enrolled map[string][]elk.Enrollment

	// Fail, if set, is returned from every call.
	Fail error

	mu      sync.Mutex
	Lookups int
}

// UniqueID implements elk.IdentityService.
func (s *IdentityService) UniqueID(ctx context.Context, id elk.Identity, source string) (string, error) {
	s.mu.Lock()
	s.Lookups++
	s.mu.Unlock()
	if s.Fail != nil {
		return "", s.Fail
	}
	return elk.UniqueIdentity(id, source)
}

// Enrollments implements elk.IdentityService.
func (s *IdentityService) Enrollments(ctx context.Context, uuid string) ([]elk.Enrollment, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	return s.Enrolled[uuid], nil
}

// Logger records warnings for testing.
type Logger struct {
	mu    sync.Mutex
	Warns []string
}

// Printf implements elk.Logger.
func (l *Logger) Printf(format string, v ...interface{}) {}

// Debugf implements elk.Logger.
func (l *Logger) Debugf(format string, v ...interface{}) {}

// Warnf implements elk.Logger.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, format)
}

// Warnings returns how many warnings were logged.
func (l *Logger) Warnings() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Warns)
}
