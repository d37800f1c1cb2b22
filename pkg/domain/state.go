package domain

// RuntimeState is the traversal cursor of a locally executed run.
// It is deliberately separate from the Graph: persisting or shipping it never
// copies node definitions.
type RuntimeState struct {
	// Queue is the ordered frontier of pending node ids.
	Queue []string `json:"queue"`

	// Visited holds the ids of nodes already processed.
	Visited map[string]bool `json:"visited"`

	// Current is the last dispatched node id, empty before the first dispatch.
	Current string `json:"current,omitempty"`

	Finished bool `json:"finished"`
}

// NewRuntimeState creates a cursor positioned on the entry node.
func NewRuntimeState(entry string) *RuntimeState {
	return &RuntimeState{
		Queue:   []string{entry},
		Visited: make(map[string]bool),
	}
}

// Next pops the head of the queue. It returns false when the frontier is empty.
func (s *RuntimeState) Next() (string, bool) {
	if len(s.Queue) == 0 {
		return "", false
	}
	id := s.Queue[0]
	s.Queue = s.Queue[1:]
	return id, true
}

// Enqueue appends id to the frontier unless it is already visited or pending.
func (s *RuntimeState) Enqueue(id string) {
	if s.Visited[id] {
		return
	}
	for _, q := range s.Queue {
		if q == id {
			return
		}
	}
	s.Queue = append(s.Queue, id)
}
