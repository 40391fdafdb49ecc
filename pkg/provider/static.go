package provider

import (
	"context"
	"fmt"
	"sync"
)

// StaticAdapter replies with canned responses in order, repeating the last
// one. With no responses it echoes the latest user message.
type StaticAdapter struct {
	id        string
	mu        sync.Mutex
	responses []string
	next      int
}

// NewStatic creates a static adapter.
func NewStatic(id string, responses ...string) *StaticAdapter {
	return &StaticAdapter{id: id, responses: responses}
}

func (s *StaticAdapter) ID() string {
	return s.id
}

func (s *StaticAdapter) Call(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.responses) == 0 {
		for i := len(req.Prompt.Messages) - 1; i >= 0; i-- {
			if req.Prompt.Messages[i].Role == RoleUser {
				return fmt.Sprintf("You said: %s", req.Prompt.Messages[i].Content), nil
			}
		}
		return "", fmt.Errorf("static %s: no user message", s.id)
	}

	resp := s.responses[s.next]
	if s.next < len(s.responses)-1 {
		s.next++
	}
	return resp, nil
}
