package engine

import "sort"

// QueueSchemaVersion is bumped whenever SavedQueue's shape changes.
const QueueSchemaVersion = 1

// CommandQueue holds pending commands ordered by (target step, priority,
// insertion seq). Enqueue rejects at capacity; callers treat a false return
// as backpressure, not an error.
type CommandQueue struct {
	entries  []QueueEntry
	capacity int
	nextSeq  uint64
}

func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &CommandQueue{capacity: capacity}
}

func (q *CommandQueue) Enqueue(cmd Command) bool {
	if len(q.entries) >= q.capacity {
		return false
	}
	q.entries = append(q.entries, QueueEntry{Command: cmd, Seq: q.nextSeq})
	q.nextSeq++
	return true
}

func (q *CommandQueue) Size() int { return len(q.entries) }

func (q *CommandQueue) Capacity() int { return q.capacity }

func (q *CommandQueue) Empty() bool { return len(q.entries) == 0 }

func less(a, b QueueEntry) bool {
	if a.Command.Step != b.Command.Step {
		return a.Command.Step < b.Command.Step
	}
	if a.Command.Priority != b.Command.Priority {
		return a.Command.Priority < b.Command.Priority
	}
	return a.Seq < b.Seq
}

// DrainDue removes and returns every entry due at or before step, in dispatch
// order. Entries targeting later steps stay queued.
func (q *CommandQueue) DrainDue(step uint64) []QueueEntry {
	sort.Slice(q.entries, func(i, j int) bool { return less(q.entries[i], q.entries[j]) })
	cut := sort.Search(len(q.entries), func(i int) bool { return q.entries[i].Command.Step > step })
	if cut == 0 {
		return nil
	}
	due := append([]QueueEntry(nil), q.entries[:cut]...)
	q.entries = append(q.entries[:0], q.entries[cut:]...)
	return due
}

// SavedQueue is the persistable form of the not-yet-dispatched entries.
type SavedQueue struct {
	SchemaVersion int          `json:"schemaVersion"`
	SavedStep     uint64       `json:"savedStep"`
	Entries       []QueueEntry `json:"entries"`
}

// ExportForSave captures all pending entries plus the step they were saved
// at, so a restore into a session at a different step can rebase them.
func (q *CommandQueue) ExportForSave(currentStep uint64) SavedQueue {
	sort.Slice(q.entries, func(i, j int) bool { return less(q.entries[i], q.entries[j]) })
	return SavedQueue{
		SchemaVersion: QueueSchemaVersion,
		SavedStep:     currentStep,
		Entries:       append([]QueueEntry(nil), q.entries...),
	}
}

// RestoreOptions filters and rebases a SavedQueue during restore.
type RestoreOptions struct {
	// IsCommandTypeSupported drops entries whose type the current build no
	// longer handles. Nil means everything is supported.
	IsCommandTypeSupported func(commandType string) bool
	// CurrentStep rebases each entry: step' = step + (CurrentStep - SavedStep).
	CurrentStep uint64
}

// RestoreResult surfaces how much of the save made it back in.
type RestoreResult struct {
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`  // unsupported command types
	Rejected int `json:"rejected"` // lost to capacity
}

// RestoreFromSave re-admits saved entries. Steps are shifted by
// CurrentStep - SavedStep so relative scheduling survives the session
// boundary; a rebased step that would land in the past clamps to CurrentStep.
func (q *CommandQueue) RestoreFromSave(saved SavedQueue, opts RestoreOptions) RestoreResult {
	var res RestoreResult
	delta := int64(opts.CurrentStep) - int64(saved.SavedStep)
	for _, e := range saved.Entries {
		if opts.IsCommandTypeSupported != nil && !opts.IsCommandTypeSupported(e.Command.Type) {
			res.Skipped++
			continue
		}
		cmd := e.Command
		rebased := int64(cmd.Step) + delta
		if rebased < int64(opts.CurrentStep) {
			rebased = int64(opts.CurrentStep)
		}
		cmd.Step = uint64(rebased)
		if !q.Enqueue(cmd) {
			res.Rejected++
			continue
		}
		res.Restored++
	}
	return res
}
