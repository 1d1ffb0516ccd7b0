// Package replay records and verifies full command streams. A replay file is
// line-oriented JSON: one tagged record per line, written once, consumed
// sequentially.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
)

const (
	FileType      = "idleforge-replay"
	SchemaVersion = 2
)

// Record kinds, in file order.
const (
	kindHeader   = "header"
	kindContent  = "content"
	kindAssets   = "assets"
	kindSim      = "sim"
	kindCommands = "commands"
	kindEnd      = "end"
)

type HeaderRecord struct {
	FileType       string `json:"fileType"`
	SchemaVersion  int    `json:"schemaVersion"`
	RecordedAt     string `json:"recordedAt"`
	RuntimeVersion string `json:"runtimeVersion"`
}

type ContentRecord struct {
	PackID      string         `json:"packId"`
	PackVersion string         `json:"packVersion"`
	Digest      content.Digest `json:"digest"`
}

type AssetsRecord struct {
	ManifestHash string `json:"manifestHash"`
}

// WiringFlags capture the runtime configuration that affects determinism.
// Bus and dirty settings belong here too: dropped events and dirty-driven
// resource.changed events are visible to event-triggered automations.
type WiringFlags struct {
	Seed                int64   `json:"seed"`
	QueueCapacity       int     `json:"queueCapacity"`
	CatchupStepsPerTick int     `json:"catchupStepsPerTick"`
	CatchupMaxElapsedMs float64 `json:"catchupMaxElapsedMs,omitempty"`
	CatchupMaxSteps     float64 `json:"catchupMaxSteps,omitempty"`

	BusCapacity          int    `json:"busCapacity,omitempty"`
	BusSoftLimit         int    `json:"busSoftLimit,omitempty"`
	BusWarnCooldownTicks uint64 `json:"busWarnCooldownTicks,omitempty"`

	DirtyAbsoluteFloor   float64 `json:"dirtyAbsoluteFloor,omitempty"`
	DirtyRelativeFactor  float64 `json:"dirtyRelativeFactor,omitempty"`
	DirtyRelativeCeiling float64 `json:"dirtyRelativeCeiling,omitempty"`
	DirtyMaxOverride     float64 `json:"dirtyMaxOverride,omitempty"`

	StateEverySteps int `json:"stateEverySteps,omitempty"`
}

// WiringFromConfig snapshots cfg for the sim record.
func WiringFromConfig(cfg engine.Config) WiringFlags {
	return WiringFlags{
		Seed:                 cfg.Seed,
		QueueCapacity:        cfg.QueueCapacity,
		CatchupStepsPerTick:  cfg.CatchupStepsPerTick,
		CatchupMaxElapsedMs:  cfg.CatchupLimits.MaxElapsedMs,
		CatchupMaxSteps:      cfg.CatchupLimits.MaxSteps,
		BusCapacity:          cfg.Bus.Capacity,
		BusSoftLimit:         cfg.Bus.SoftLimit,
		BusWarnCooldownTicks: cfg.Bus.WarnCooldownTicks,
		DirtyAbsoluteFloor:   cfg.Dirty.AbsoluteFloor,
		DirtyRelativeFactor:  cfg.Dirty.RelativeFactor,
		DirtyRelativeCeiling: cfg.Dirty.RelativeCeiling,
		DirtyMaxOverride:     cfg.Dirty.MaxOverride,
		StateEverySteps:      cfg.StateEverySteps,
	}
}

type SimRecord struct {
	Wiring          WiringFlags                    `json:"wiring"`
	StepSizeMs      int64                          `json:"stepSizeMs"`
	StartStep       uint64                         `json:"startStep"`
	InitialSnapshot engine.SerializedResourceState `json:"initialSnapshot"`
}

// RecordedCommand pairs a command with the step it was issued at. Queue
// occupancy between issue and dispatch is observable state (queue-empty
// automations, capacity backpressure), so the player must re-enqueue at the
// issue step, not the target step.
type RecordedCommand struct {
	IssueStep uint64         `json:"issueStep"`
	Command   engine.Command `json:"command"`
}

type CommandsRecord struct {
	ChunkIndex int               `json:"chunkIndex"`
	Commands   []RecordedCommand `json:"commands"`
}

type EndRecord struct {
	EndStep          uint64 `json:"endStep"`
	EndStateChecksum string `json:"endStateChecksum"`
	CommandCount     int    `json:"commandCount"`
}

// File is a fully decoded replay.
type File struct {
	Header  HeaderRecord
	Content ContentRecord
	Assets  AssetsRecord
	Sim     SimRecord
	Chunks  []CommandsRecord
	End     EndRecord
}

// Commands flattens every chunk in ascending chunk order.
func (f *File) Commands() []RecordedCommand {
	var out []RecordedCommand
	for _, c := range f.Chunks {
		out = append(out, c.Commands...)
	}
	return out
}

// RuntimeConfig rebuilds the engine configuration the replay was recorded
// under. Verification runtimes must be constructed from this, not from
// host-local tuning.
func (f *File) RuntimeConfig() engine.Config {
	w := f.Sim.Wiring
	return engine.Config{
		StepSizeMs:    f.Sim.StepSizeMs,
		Seed:          w.Seed,
		QueueCapacity: w.QueueCapacity,
		Bus: engine.BusConfig{
			Capacity:          w.BusCapacity,
			SoftLimit:         w.BusSoftLimit,
			WarnCooldownTicks: w.BusWarnCooldownTicks,
		},
		Dirty: engine.DirtyConfig{
			AbsoluteFloor:   w.DirtyAbsoluteFloor,
			RelativeFactor:  w.DirtyRelativeFactor,
			RelativeCeiling: w.DirtyRelativeCeiling,
			MaxOverride:     w.DirtyMaxOverride,
		},
		CatchupLimits: engine.OfflineLimits{
			MaxElapsedMs: w.CatchupMaxElapsedMs,
			MaxSteps:     w.CatchupMaxSteps,
		},
		CatchupStepsPerTick: w.CatchupStepsPerTick,
		StateEverySteps:     w.StateEverySteps,
	}
}

type taggedLine struct {
	Record string `json:"record"`
}

// Encode writes the file as JSONL, one tagged record per line.
func (f *File) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	write := func(kind string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		// Splice the tag into the object without a second struct per kind.
		if len(b) == 2 { // "{}"
			_, err = fmt.Fprintf(bw, "{\"record\":%q}\n", kind)
		} else {
			_, err = fmt.Fprintf(bw, "{\"record\":%q,%s\n", kind, b[1:])
		}
		return err
	}
	if err := write(kindHeader, f.Header); err != nil {
		return err
	}
	if err := write(kindContent, f.Content); err != nil {
		return err
	}
	if err := write(kindAssets, f.Assets); err != nil {
		return err
	}
	if err := write(kindSim, f.Sim); err != nil {
		return err
	}
	for _, c := range f.Chunks {
		if err := write(kindCommands, c); err != nil {
			return err
		}
	}
	if err := write(kindEnd, f.End); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads and validates a replay stream. File type and schema version
// mismatches are hard failures: silently replaying an incompatible file
// would produce a meaningless checksum comparison.
func Decode(r io.Reader) (*File, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var f File
	var sawHeader, sawContent, sawSim, sawEnd bool
	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var tag taggedLine
		if err := json.Unmarshal(line, &tag); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if sawEnd {
			return nil, fmt.Errorf("line %d: record after end", lineNo)
		}
		switch tag.Record {
		case kindHeader:
			if err := json.Unmarshal(line, &f.Header); err != nil {
				return nil, fmt.Errorf("line %d: header: %w", lineNo, err)
			}
			if f.Header.FileType != FileType {
				return nil, fmt.Errorf("file type mismatch: got %q, want %q", f.Header.FileType, FileType)
			}
			if f.Header.SchemaVersion != SchemaVersion {
				return nil, fmt.Errorf("schema version mismatch: got %d, want %d", f.Header.SchemaVersion, SchemaVersion)
			}
			sawHeader = true
		case kindContent:
			if err := json.Unmarshal(line, &f.Content); err != nil {
				return nil, fmt.Errorf("line %d: content: %w", lineNo, err)
			}
			sawContent = true
		case kindAssets:
			if err := json.Unmarshal(line, &f.Assets); err != nil {
				return nil, fmt.Errorf("line %d: assets: %w", lineNo, err)
			}
		case kindSim:
			if err := json.Unmarshal(line, &f.Sim); err != nil {
				return nil, fmt.Errorf("line %d: sim: %w", lineNo, err)
			}
			sawSim = true
		case kindCommands:
			var c CommandsRecord
			if err := json.Unmarshal(line, &c); err != nil {
				return nil, fmt.Errorf("line %d: commands: %w", lineNo, err)
			}
			f.Chunks = append(f.Chunks, c)
		case kindEnd:
			if err := json.Unmarshal(line, &f.End); err != nil {
				return nil, fmt.Errorf("line %d: end: %w", lineNo, err)
			}
			sawEnd = true
		default:
			return nil, fmt.Errorf("line %d: unknown record kind %q", lineNo, tag.Record)
		}
		if !sawHeader {
			return nil, fmt.Errorf("line %d: %s record before header", lineNo, tag.Record)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawHeader || !sawContent || !sawSim || !sawEnd {
		return nil, fmt.Errorf("truncated replay: header=%v content=%v sim=%v end=%v",
			sawHeader, sawContent, sawSim, sawEnd)
	}

	// Chunk order on disk is unspecified; ascending chunkIndex defines it.
	sort.SliceStable(f.Chunks, func(i, j int) bool {
		return f.Chunks[i].ChunkIndex < f.Chunks[j].ChunkIndex
	})
	return &f, nil
}

// WriteFile writes the replay to path, zstd-compressed when the path ends in
// .zst.
func (f *File) WriteFile(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return err
		}
		if err := f.Encode(enc); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}
	return f.Encode(out)
}

// ReadFile reads a replay from path, transparently decompressing .zst.
func ReadFile(path string) (*File, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return Decode(dec)
	}
	return Decode(in)
}
