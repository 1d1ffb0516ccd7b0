package main

import (
	"flag"
	"fmt"
	"os"

	"idleforge.dev/internal/replay"
	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
	"idleforge.dev/internal/telemetry"
)

func main() {
	var (
		replayPath = flag.String("replay", "", "path to replay file (.json or .json.zst)")
		configDir  = flag.String("configs", "./configs", "content pack directory")
	)
	flag.Parse()

	if *replayPath == "" {
		fmt.Fprintln(os.Stderr, "missing -replay")
		os.Exit(2)
	}

	f, err := replay.ReadFile(*replayPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read replay:", err)
		os.Exit(1)
	}

	fmt.Printf("replay v%d pack=%s digest=%s start=%d end=%d commands=%d\n",
		f.Header.SchemaVersion, f.Content.PackID, f.Content.Digest.Hash,
		f.Sim.StartStep, f.End.EndStep, f.End.CommandCount)

	pack, err := content.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load content:", err)
		os.Exit(1)
	}

	rt, err := engine.NewRuntime(f.RuntimeConfig(), pack, telemetry.Nop{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime:", err)
		os.Exit(1)
	}

	if err := replay.Verify(f, rt); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}

	steps := f.End.EndStep - f.Sim.StartStep
	fmt.Printf("replay ok: %d steps, end checksum %s\n", steps, f.End.EndStateChecksum)
}
