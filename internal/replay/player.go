package replay

import (
	"fmt"

	"idleforge.dev/internal/sim/engine"
)

// Verify replays f through rt and asserts the recorded end checksum. rt must
// be freshly constructed against the same content pack and wiring the replay
// was recorded with; Verify rehydrates the initial snapshot itself.
//
// Failures here are fatal by design: a digest or schema mismatch means the
// recorded command stream is not meaningful against this runtime, and a
// checksum mismatch means determinism broke somewhere.
func Verify(f *File, rt *engine.Runtime) error {
	recorded := f.Content.Digest
	running := rt.Pack().Digest
	if !recorded.Equal(running) {
		return fmt.Errorf("content digest mismatch: replay has %s (v%d), running content is %s (v%d)",
			recorded.Hash, recorded.Version, running.Hash, running.Version)
	}

	rt.ImportState(f.Sim.InitialSnapshot)
	rt.SetStep(f.Sim.StartStep)

	commands := f.Commands()
	if len(commands) != f.End.CommandCount {
		return fmt.Errorf("command count mismatch: file has %d, end record says %d",
			len(commands), f.End.CommandCount)
	}

	next := 0
	for rt.CurrentStep() < f.End.EndStep {
		now := rt.CurrentStep()
		// Re-enqueue at the recorded issue step: pending commands are part of
		// observable state between issue and dispatch.
		for next < len(commands) && commands[next].IssueStep <= now {
			if !rt.Enqueue(commands[next].Command) {
				return fmt.Errorf("replay enqueue rejected at step %d (queue full)", now)
			}
			next++
		}
		rt.StepOnce()
	}

	if got := rt.CurrentStep(); got != f.End.EndStep {
		return fmt.Errorf("replay overshot: at step %d, recorded end %d", got, f.End.EndStep)
	}
	if next < len(commands) {
		return fmt.Errorf("%d recorded commands were never issued before end step %d",
			len(commands)-next, f.End.EndStep)
	}

	if got := rt.Checksum(); got != f.End.EndStateChecksum {
		return fmt.Errorf("checksum mismatch at step %d: got %s, want %s",
			f.End.EndStep, got, f.End.EndStateChecksum)
	}
	return nil
}
