package replay

import (
	"io"
	"time"

	"idleforge.dev/internal/sim/engine"
)

// chunkSize bounds commands per chunk record so a long session streams as
// many small lines instead of one enormous one.
const chunkSize = 256

// Recorder captures the initial snapshot and every externally issued command,
// in issue order. Attach it before the first step; export once at the end.
// Coordinator-generated commands are deliberately not captured: the player
// regenerates them deterministically from the same state.
type Recorder struct {
	rt    *engine.Runtime
	file  File
	open  []RecordedCommand
	count int
}

// NewRecorder snapshots rt's current state and wiring as the replay starting
// point and attaches itself as the runtime's command observer.
func NewRecorder(rt *engine.Runtime, runtimeVersion string) *Recorder {
	pack := rt.Pack()
	r := &Recorder{
		rt: rt,
		file: File{
			Header: HeaderRecord{
				FileType:       FileType,
				SchemaVersion:  SchemaVersion,
				RecordedAt:     time.Now().UTC().Format(time.RFC3339),
				RuntimeVersion: runtimeVersion,
			},
			Content: ContentRecord{
				PackID:      pack.ID,
				PackVersion: pack.Version,
				Digest:      pack.Digest,
			},
			Assets: AssetsRecord{ManifestHash: pack.ManifestHash},
			Sim: SimRecord{
				Wiring:          WiringFromConfig(rt.Config()),
				StepSizeMs:      rt.StepSizeMs(),
				StartStep:       rt.CurrentStep(),
				InitialSnapshot: rt.ExportState(),
			},
		},
	}
	rt.SetCommandObserver(r.Record)
	return r
}

// Record appends one command at the current step. Called from the ingestion
// path, so the issue step is the step the live queue saw it on.
func (r *Recorder) Record(cmd engine.Command) {
	r.open = append(r.open, RecordedCommand{IssueStep: r.rt.CurrentStep(), Command: cmd})
	r.count++
	if len(r.open) >= chunkSize {
		r.sealChunk()
	}
}

func (r *Recorder) sealChunk() {
	if len(r.open) == 0 {
		return
	}
	r.file.Chunks = append(r.file.Chunks, CommandsRecord{
		ChunkIndex: len(r.file.Chunks),
		Commands:   r.open,
	})
	r.open = nil
}

// CommandCount reports how many commands have been captured so far.
func (r *Recorder) CommandCount() int { return r.count }

// Export finalizes the file against rt's current state and writes it. The
// recorder stays usable for inspection but must not record further commands
// after export.
func (r *Recorder) Export(w io.Writer, rt *engine.Runtime) error {
	r.sealChunk()
	r.file.End = EndRecord{
		EndStep:          rt.CurrentStep(),
		EndStateChecksum: rt.Checksum(),
		CommandCount:     r.count,
	}
	return r.file.Encode(w)
}

// ExportFile is Export to a path, honoring .zst compression.
func (r *Recorder) ExportFile(path string, rt *engine.Runtime) error {
	r.sealChunk()
	r.file.End = EndRecord{
		EndStep:          rt.CurrentStep(),
		EndStateChecksum: rt.Checksum(),
		CommandCount:     r.count,
	}
	return r.file.WriteFile(path)
}
