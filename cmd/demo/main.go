package main

// ============================================================================
// Teardown demo
//
// Runs the scheduler against one simulated colony, but throws the controller
// away every few ticks and builds a new one that only sees the snapshot on
// disk. The job list, bindings and statistics carry over because everything
// that matters lives in the store.
//
//	go run ./cmd/demo -rounds 5 -ticks 20
// ============================================================================

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/ChuLiYu/colony/internal/controller"
	"github.com/ChuLiYu/colony/internal/jobmanager"
	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/snapshot"
	"github.com/ChuLiYu/colony/internal/world/sim"
)

func main() {
	rounds := flag.Int("rounds", 5, "number of teardown/reload rounds")
	ticks := flag.Int("ticks", 20, "ticks per round")
	dir := flag.String("dir", "", "snapshot directory (default: a temp dir)")
	seed := flag.Int64("seed", 1, "world seed")
	flag.Parse()

	if *dir == "" {
		tmp, err := os.MkdirTemp("", "colony-demo-*")
		if err != nil {
			log.Fatalf("Failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		*dir = tmp
	}

	opts := sim.DefaultColonyOptions()
	opts.Seed = *seed
	w := sim.NewColony(opts)
	store := snapshot.NewManager(filepath.Join(*dir, "colony.snap"))

	fmt.Printf("✓ Colony generated (seed %d, snapshot %s)\n", *seed, store.GetPath())

	for round := 1; round <= *rounds; round++ {
		ctrl, err := controller.New(controller.Options{
			World: w,
			Store: store,
			Log:   logging.Discard(),
			Seed:  *seed,
		})
		if err != nil {
			log.Fatalf("Failed to create controller: %v", err)
		}

		if err := ctrl.Run(context.Background(), *ticks); err != nil {
			log.Fatalf("Round %d failed: %v", round, err)
		}
		summary, err := ctrl.Status()
		if err != nil {
			log.Fatalf("Failed to read status: %v", err)
		}
		ctrl.Stop()

		// 每輪結束保留一份備份
		mem, err := store.Load()
		if err != nil {
			log.Fatalf("Failed to reload snapshot: %v", err)
		}
		if err := store.SaveWithBackup(mem, 2); err != nil {
			log.Fatalf("Failed to back up snapshot: %v", err)
		}

		printRound(round, summary, len(w.Creeps()))
	}

	header, err := store.ReadHeader()
	if err != nil {
		log.Fatalf("Failed to read snapshot header: %v", err)
	}
	backups, _ := store.Backups()
	fmt.Printf("\n✓ Final snapshot: tick %d, %d jobs, %d backups kept\n", header.Tick, header.Jobs, len(backups))
}

func printRound(round int, s jobmanager.Summary, creeps int) {
	fmt.Printf("\n📊 Round %d (tick %d, %d creeps):\n", round, s.Tick, creeps)
	types := make([]string, 0, len(s.Active))
	for t := range s.Active {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-26s active=%-3d avg=%.1f ticks\n", t, s.Active[t], s.Durations[t])
	}
}
