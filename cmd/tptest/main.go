// ════════════════════════════════════════════════════════════════════════════════════════════════
// tptest — trace-producing demo for the per-core runtime
// ────────────────────────────────────────────────────────────────────────────────────────────────
//
// Every core runs a driver task that spawns -num dummy tasks and its own successor for -count
// rounds, then stops its core. When every core has stopped the runtime ends and the demo prints
// the tracer summary, writes the trace-viewer JSON, and optionally stores the profile in SQLite.
//
// SIGINT/SIGTERM force the runtime down; the partial trace is still written.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coretask/config"
	"coretask/debug"
	"coretask/profiling"
	"coretask/tasking"
	"coretask/utils"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		debug.DropError("CONFIG", err)
		os.Exit(2)
	}

	cores, err := cfg.CoreSet()
	if err != nil {
		debug.DropError("CORES", err)
		os.Exit(2)
	}
	debug.DropMessage("INIT", "cores "+cores.String()+" on "+utils.Itoa(distinct(cores.Nodes()))+" NUMA node(s)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stats workload
	started := time.Now()
	rt, err := tasking.Run(ctx, cores, cfg.RuntimeOptions(), func(rt *tasking.Runtime) error {
		for _, core := range cores.Cores() {
			if err := spawnDriver(rt, core, cfg.Num, cfg.Count, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		debug.DropError("RUNTIME", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		debug.DropMessage("SIGNAL", "interrupted, keeping partial results")
	}

	debug.DropMessage("DONE", utils.Utoa(stats.dummies.Load())+" dummy tasks in "+time.Since(started).String())
	for _, core := range cores.Cores() {
		debug.DropCore(core, "CORE", utils.Utoa(rt.Executed(core))+" tasks executed")
	}
	if failed := stats.failures.Load(); failed != 0 {
		debug.DropMessage("WARN", utils.Utoa(failed)+" spawns failed")
	}

	prof := rt.Profiler()
	if prof == nil {
		return
	}
	report(prof, time.Since(prof.Origin()))

	if err := writeTrace(prof, cfg.TracePath); err != nil {
		debug.DropError("TRACE", err)
	}
	if cfg.SQLitePath != "" {
		if err := storeProfile(prof, cfg.SQLitePath, cores.String()); err != nil {
			debug.DropError("SQLITE", err)
		}
	}
}

// loadConfig layers defaults, an optional -config file, and explicitly set
// flags, in that order.
func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("tptest", flag.ContinueOnError)
	var (
		path   = fs.String("config", "", "HCL or JSON settings file")
		cores  = fs.Int("cores", 0, "number of cores (0: all available)")
		cpus   = fs.String("cpus", "", "explicit core list, e.g. 0-3,6")
		num    = fs.Int("num", 8, "dummy tasks spawned per driver round")
		count  = fs.Int("count", 4, "driver rounds per core")
		trace  = fs.String("trace", "trace.json", "trace output file, - for stdout")
		db     = fs.String("sqlite", "", "SQLite database to store the profile in")
		qlen   = fs.Bool("queue-length", true, "include the queue-length series")
		prof   = fs.Bool("profile", true, "record a trace")
		length = fs.Int("array-length", 0, "per-core trace capacity (0: default)")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return config.Config{}, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cores":
			cfg.Cores, cfg.CoreList = *cores, ""
		case "cpus":
			cfg.CoreList, cfg.Cores = *cpus, 0
		case "num":
			cfg.Num = *num
		case "count":
			cfg.Count = *count
		case "trace":
			cfg.TracePath = *trace
		case "sqlite":
			cfg.SQLitePath = *db
		case "queue-length":
			cfg.QueueLength = *qlen
		case "profile":
			cfg.Profiling = *prof
		case "array-length":
			cfg.ArrayLength = *length
		}
	})
	return cfg, cfg.Validate()
}

func report(prof *profiling.Profiler, elapsed time.Duration) {
	prof.Summary().Log()
	perCore, total := prof.Throughput(0, elapsed)
	for slot, n := range perCore {
		debug.DropCore(prof.Label(slot), "THROUGHPUT", utils.Utoa(n)+" tasks")
	}
	debug.DropMessage("THROUGHPUT", utils.Utoa(total)+" tasks in "+elapsed.String())
}

func writeTrace(prof *profiling.Profiler, path string) error {
	if path == "" {
		return nil
	}
	if path == "-" {
		return prof.SaveProfile(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	saveErr := prof.SaveProfile(f)
	if err := f.Close(); err != nil && saveErr == nil {
		saveErr = err
	}
	if saveErr == nil {
		debug.DropMessage("TRACE", "written to "+path)
	}
	return saveErr
}

func storeProfile(prof *profiling.Profiler, path, label string) error {
	store, err := profiling.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	id, err := store.Save(ctx, prof, label)
	if err != nil {
		return err
	}
	debug.DropMessage("SQLITE", "profile "+utils.Itoa(int(id))+" stored in "+path)
	return nil
}

func distinct(nodes []int) int {
	seen := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		seen[n] = struct{}{}
	}
	return len(seen)
}
