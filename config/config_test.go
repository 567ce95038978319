package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/regvm/vmheap/config"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/stack"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[heap]
max-pages = 1024
minor-page-budget = 64
externally-synchronized = true

[collector]
promotion-threshold = 3
minor-trigger-ratio = 0.75
major-growth-ratio = 0.5
step-budget = 16
step-bytes = 8192

[thread]
registers = 512
auto-chunk-pages = 2
`

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		data      string
		heap      heap.CreateOptions
		collector gc.Options
		thread    stack.ThreadOptions
		err       bool
	}{
		"Empty": {},
		"Full": {
			data: fullConfig,
			heap: heap.CreateOptions{
				Flags:           heap.HeapCreateExternallySynchronized,
				MaxPages:        1024,
				MinorPageBudget: 64,
			},
			collector: gc.Options{
				PromotionThreshold: 3,
				MinorTriggerRatio:  0.75,
				MajorGrowthRatio:   0.5,
				StepBudget:         16,
				StepBytes:          8192,
			},
			thread: stack.ThreadOptions{Registers: 512, AutoChunkPages: 2},
		},
		"Partial": {
			data: "[collector]\npromotion-threshold = 7\n",
			collector: gc.Options{
				PromotionThreshold: 7,
			},
		},
		"UnknownKey":   {data: "[heap]\nmax-page = 3\n", err: true},
		"UnknownTable": {data: "[gc]\nstep-budget = 3\n", err: true},
		"WrongType":    {data: "[heap]\nmax-pages = \"many\"\n", err: true},
		"Negative":     {data: "[thread]\nregisters = -1\n", err: true},
		"Malformed":    {data: "[heap\n", err: true},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			cfg, err := config.Parse([]byte(testCase.data))
			if testCase.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, testCase.heap, cfg.HeapOptions())
			require.Equal(t, testCase.collector, cfg.CollectorOptions())
			require.Equal(t, testCase.thread, cfg.ThreadOptions())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmheap.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Heap.MinorPageBudget)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

const fullYAML = `
heap:
  max-pages: 1024
  minor-page-budget: 64
collector:
  promotion-threshold: 3
  step-budget: 16
thread:
  registers: 512
`

func TestParseYAML(t *testing.T) {
	cfg, err := config.ParseYAML([]byte(fullYAML))
	require.NoError(t, err)
	require.Equal(t, heap.CreateOptions{MaxPages: 1024, MinorPageBudget: 64}, cfg.HeapOptions())
	require.Equal(t, gc.Options{PromotionThreshold: 3, StepBudget: 16}, cfg.CollectorOptions())
	require.Equal(t, stack.ThreadOptions{Registers: 512}, cfg.ThreadOptions())

	_, err = config.ParseYAML([]byte("heap:\n  max-page: 3\n"))
	require.Error(t, err)

	_, err = config.ParseYAML([]byte("thread:\n  auto-chunk-pages: -2\n"))
	require.Error(t, err)
}

func TestLoadChoosesFormat(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "vmheap.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(fullYAML), 0o644))

	cfg, err := config.Load(yamlPath)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Collector.PromotionThreshold)

	// YAML content is not valid TOML
	tomlPath := filepath.Join(dir, "vmheap.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(fullYAML), 0o644))
	_, err = config.Load(tomlPath)
	require.Error(t, err)
}
