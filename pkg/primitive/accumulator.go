package primitive

// ToolCall is the fully-accumulated call handed to the registry for
// execution.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCallDelta is one streamed fragment from the LLM provider, keyed by
// index. id/name arrive as pointers since they may be absent on a given
// delta (nil = "not set on this delta", not "set to empty").
type ToolCallDelta struct {
	Index           int
	ID              *string
	Name            *string
	ArgumentsDelta  string
}

type pendingCall struct {
	id, name, arguments string
}

// Accumulator reassembles tool calls from streamed deltas: each delta's
// id/name overwrite, arguments always append; a slot only becomes a
// completed call if both id and name were set by the time it's closed.
type Accumulator struct {
	pending   map[int]*pendingCall
	completed []ToolCall
}

func NewAccumulator() *Accumulator {
	return &Accumulator{pending: map[int]*pendingCall{}}
}

// ProcessDelta folds one delta into its slot's pending state.
func (a *Accumulator) ProcessDelta(d ToolCallDelta) {
	p, ok := a.pending[d.Index]
	if !ok {
		p = &pendingCall{}
		a.pending[d.Index] = p
	}
	if d.ID != nil {
		p.id = *d.ID
	}
	if d.Name != nil {
		p.name = *d.Name
	}
	p.arguments += d.ArgumentsDelta
}

// Complete closes the slot at index: if both id and name are non-empty it
// is appended to Completed(); otherwise it is silently discarded (no
// partial result is ever emitted).
func (a *Accumulator) Complete(index int) {
	p, ok := a.pending[index]
	if !ok {
		return
	}
	delete(a.pending, index)
	if p.id != "" && p.name != "" {
		a.completed = append(a.completed, ToolCall{ID: p.id, Name: p.name, Arguments: p.arguments})
	}
}

// Finalize closes every still-pending slot.
func (a *Accumulator) Finalize() {
	for index := range a.pending {
		a.Complete(index)
	}
}

// Completed returns the calls accumulated so far, in arbitrary slot-close
// order. Callers that need submission order should track it via Index
// themselves.
func (a *Accumulator) Completed() []ToolCall { return a.completed }

// TakeCompleted returns and clears the completed list.
func (a *Accumulator) TakeCompleted() []ToolCall {
	out := a.completed
	a.completed = nil
	return out
}

func (a *Accumulator) HasPending() bool    { return len(a.pending) > 0 }
func (a *Accumulator) PendingCount() int   { return len(a.pending) }
