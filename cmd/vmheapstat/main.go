// Command vmheapstat runs a synthetic mutator against a heap tuned by a config file and prints the
// resulting heap and collector statistics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/config"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/stack"
	"golang.org/x/exp/slog"
)

func main() {
	configPath := flag.String("config", "", "TOML or YAML tuning file")
	iterations := flag.Int("n", 100000, "Number of workload iterations")
	format := flag.String("format", "json", "Output format: json or cbor")
	detailed := flag.Bool("detailed", false, "List every page and huge object in JSON output")
	concurrent := flag.Bool("concurrent", false, "Drive the collector with budgeted concurrent steps")
	verbose := flag.Bool("v", false, "Log collector activity to stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vmheapstat [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *configPath, *iterations, *format, *detailed, *concurrent); err != nil {
		fmt.Fprintf(os.Stderr, "vmheapstat: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string, iterations int, format string, detailed, concurrent bool) error {
	cfg := &config.Config{}
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	table := heap.NewTypeTable()
	types := registerWorkloadTypes(table)

	h, err := heap.New(logger, table, cfg.HeapOptions())
	if err != nil {
		return err
	}

	collector, err := gc.New(logger, h, cfg.CollectorOptions())
	if err != nil {
		return err
	}

	thread := stack.NewThread(collector, cfg.ThreadOptions())
	w := &workload{collector: collector, thread: thread, types: types, concurrent: concurrent}
	if err := w.run(iterations); err != nil {
		return err
	}

	switch format {
	case "json":
		fmt.Println(h.BuildStatsString(detailed))
		fmt.Println(collector.BuildStatsString())
	case "cbor":
		data, err := encodeReport(buildReport(h, collector))
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	default:
		return errors.Newf("unknown output format %q", format)
	}

	if err := thread.Close(); err != nil {
		return err
	}
	return h.Destroy()
}
