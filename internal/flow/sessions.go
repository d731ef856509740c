package flow

import "sync"

// Sessions holds the conversation state of each chat.
type Sessions struct {
	mu sync.Mutex
	m  map[int64]State
}

func NewSessions() *Sessions {
	return &Sessions{m: map[int64]State{}}
}

func (s *Sessions) Get(chatID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[chatID]
}

// Apply steps the chat's state with e and stores the result atomically.
func (s *Sessions) Apply(chatID int64, e Event) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := Step(s.m[chatID], e)
	if tr.Next.Kind == Idle {
		delete(s.m, chatID)
	} else {
		s.m[chatID] = tr.Next
	}
	return tr
}

// Active reports how many chats are mid-conversation.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
