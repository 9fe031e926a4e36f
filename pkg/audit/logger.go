package audit

import (
	"context"
	"sync"
)

// Logger is the interface for the role change audit trail.
type Logger interface {
	// LogRoleChange appends one event to the trail.
	LogRoleChange(ctx context.Context, event *RoleChangeEvent) error

	// RecentForUser returns the newest events for a user, newest first.
	RecentForUser(ctx context.Context, userID string, limit int) ([]*RoleChangeEvent, error)

	// Close closes the logger and flushes any buffered events.
	Close() error
}

// MemoryLogger is an in-memory Logger for tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []*RoleChangeEvent

	// FailNext, when set, makes the next LogRoleChange return the error
	// once.
	FailNext error
}

// NewMemoryLogger creates an empty in-memory audit trail.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) LogRoleChange(ctx context.Context, event *RoleChangeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailNext != nil {
		err := l.FailNext
		l.FailNext = nil
		return err
	}
	clone := *event
	l.events = append(l.events, &clone)
	return nil
}

func (l *MemoryLogger) RecentForUser(ctx context.Context, userID string, limit int) ([]*RoleChangeEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*RoleChangeEvent
	for i := len(l.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if l.events[i].UserID == userID {
			clone := *l.events[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (l *MemoryLogger) Close() error { return nil }

// Events returns every recorded event, for assertions.
func (l *MemoryLogger) Events() []*RoleChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*RoleChangeEvent, len(l.events))
	copy(out, l.events)
	return out
}
