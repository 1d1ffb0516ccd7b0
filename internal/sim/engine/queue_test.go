package engine

import "testing"

func cmdAt(step uint64, prio Priority, typ string) Command {
	return Command{Type: typ, Priority: prio, Step: step}
}

func TestCommandQueue_DispatchOrder(t *testing.T) {
	q := NewCommandQueue(16)

	q.Enqueue(cmdAt(2, PriorityPlayer, "late"))
	q.Enqueue(cmdAt(1, PriorityPlayer, "p1"))
	q.Enqueue(cmdAt(1, PrioritySystem, "s1"))
	q.Enqueue(cmdAt(1, PriorityAutomation, "a1"))
	q.Enqueue(cmdAt(1, PriorityPlayer, "p2"))

	due := q.DrainDue(1)
	want := []string{"s1", "a1", "p1", "p2"}
	if len(due) != len(want) {
		t.Fatalf("drained %d entries, want %d", len(due), len(want))
	}
	for i, w := range want {
		if due[i].Command.Type != w {
			t.Fatalf("entry %d = %s, want %s", i, due[i].Command.Type, w)
		}
	}
	if q.Size() != 1 {
		t.Fatalf("future entry must stay queued, size = %d", q.Size())
	}

	due = q.DrainDue(2)
	if len(due) != 1 || due[0].Command.Type != "late" {
		t.Fatalf("second drain = %+v", due)
	}
}

func TestCommandQueue_SamePrioritySameStepKeepsInsertionOrder(t *testing.T) {
	q := NewCommandQueue(16)
	for _, typ := range []string{"first", "second", "third"} {
		q.Enqueue(cmdAt(0, PriorityPlayer, typ))
	}
	due := q.DrainDue(0)
	for i, w := range []string{"first", "second", "third"} {
		if due[i].Command.Type != w {
			t.Fatalf("entry %d = %s, want %s", i, due[i].Command.Type, w)
		}
	}
}

func TestCommandQueue_CapacityBackpressure(t *testing.T) {
	q := NewCommandQueue(2)
	if !q.Enqueue(cmdAt(0, PriorityPlayer, "a")) || !q.Enqueue(cmdAt(0, PriorityPlayer, "b")) {
		t.Fatalf("enqueue under capacity must succeed")
	}
	if q.Enqueue(cmdAt(0, PriorityPlayer, "c")) {
		t.Fatalf("enqueue at capacity must fail")
	}
	if q.Size() != 2 {
		t.Fatalf("size = %d", q.Size())
	}
}

func TestCommandQueue_SaveRestoreRebases(t *testing.T) {
	q := NewCommandQueue(16)
	q.Enqueue(cmdAt(100, PriorityPlayer, "soon"))
	q.Enqueue(cmdAt(105, PriorityAutomation, "later"))
	saved := q.ExportForSave(100)

	if saved.SchemaVersion != QueueSchemaVersion || saved.SavedStep != 100 {
		t.Fatalf("saved = %+v", saved)
	}

	q2 := NewCommandQueue(16)
	res := q2.RestoreFromSave(saved, RestoreOptions{CurrentStep: 40})
	if res.Restored != 2 || res.Skipped != 0 || res.Rejected != 0 {
		t.Fatalf("restore = %+v", res)
	}

	due := q2.DrainDue(40)
	if len(due) != 1 || due[0].Command.Type != "soon" {
		t.Fatalf("rebased drain at 40 = %+v", due)
	}
	due = q2.DrainDue(45)
	if len(due) != 1 || due[0].Command.Type != "later" {
		t.Fatalf("rebased drain at 45 = %+v", due)
	}
}

func TestCommandQueue_RestoreClampsPastSteps(t *testing.T) {
	q := NewCommandQueue(16)
	q.Enqueue(cmdAt(10, PriorityPlayer, "old"))
	saved := q.ExportForSave(50)

	q2 := NewCommandQueue(16)
	q2.RestoreFromSave(saved, RestoreOptions{CurrentStep: 20})
	due := q2.DrainDue(20)
	if len(due) != 1 || due[0].Command.Step != 20 {
		t.Fatalf("past entry must clamp to current step, got %+v", due)
	}
}

func TestCommandQueue_RestoreSkipsUnsupported(t *testing.T) {
	q := NewCommandQueue(16)
	q.Enqueue(cmdAt(0, PriorityPlayer, "kept.command"))
	q.Enqueue(cmdAt(0, PriorityPlayer, "removed.command"))
	saved := q.ExportForSave(0)

	q2 := NewCommandQueue(16)
	res := q2.RestoreFromSave(saved, RestoreOptions{
		IsCommandTypeSupported: func(typ string) bool { return typ == "kept.command" },
	})
	if res.Restored != 1 || res.Skipped != 1 {
		t.Fatalf("restore = %+v", res)
	}
}

func TestCommandQueue_RestoreCountsCapacityRejections(t *testing.T) {
	q := NewCommandQueue(16)
	for i := 0; i < 4; i++ {
		q.Enqueue(cmdAt(0, PriorityPlayer, "c"))
	}
	saved := q.ExportForSave(0)

	q2 := NewCommandQueue(2)
	res := q2.RestoreFromSave(saved, RestoreOptions{})
	if res.Restored != 2 || res.Rejected != 2 {
		t.Fatalf("restore = %+v", res)
	}
}
