package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"idleforge.dev/internal/persistence/savedb"
)

func openStore(dataDir, dbPath string) *savedb.Store {
	path := dbPath
	if path == "" {
		path = filepath.Join(dataDir, "saves.db")
	}
	store, err := savedb.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return store
}

func savesCmd(args []string) {
	fs := flag.NewFlagSet("saves", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	packID := fs.String("pack", "starter", "content pack id")
	_ = fs.Parse(args)

	store := openStore(*dataDir, *dbPath)
	defer store.Close()

	metas, err := store.ListSaves(context.Background(), *packID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, m := range metas {
		fmt.Printf("%s  %s  step=%d  digest=%s/v%d\n",
			m.ID, m.CreatedAt.Format("2006-01-02T15:04:05Z"), m.Step, m.Digest.Hash, m.Digest.Version)
	}
	if len(metas) == 0 {
		fmt.Fprintf(os.Stderr, "no saves for pack %q\n", *packID)
	}
}

func saveCmd(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	saveID := fs.String("id", "", "save id (required)")
	_ = fs.Parse(args)

	if *saveID == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}

	store := openStore(*dataDir, *dbPath)
	defer store.Close()

	meta, blob, err := store.GetSave(context.Background(), *saveID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get:", err)
		os.Exit(1)
	}
	out := struct {
		Meta savedb.SaveMeta `json:"meta"`
		Blob savedb.SaveBlob `json:"blob"`
	}{meta, blob}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func replaysCmd(args []string) {
	fs := flag.NewFlagSet("replays", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	_ = fs.Parse(args)

	store := openStore(*dataDir, *dbPath)
	defer store.Close()

	rows, err := store.ListReplays(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		fmt.Printf("%s  end=%d  commands=%d  %s\n", r.ID, r.EndStep, r.Commands, r.Path)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no replays indexed")
	}
}
