package main

import "os"

// Operator tooling for a running or stopped idleforge deployment: inspect the
// save database, dump save blobs, list indexed replays, and poke the admin
// HTTP surface.
func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "saves":
			savesCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		case "replays":
			replaysCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		}
	}
	savesCmd(os.Args[1:])
}
