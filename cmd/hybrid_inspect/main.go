// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// hybrid_inspect partitions the demo graphs according to a placement policy, prints the resulting
// sub-functions and boundaries, and runs them on the hybrid executor comparing against the expected values.
//
// Example:
//
//	hybrid_inspect -graph=back_and_forth -policy="Multiply=cpu,*=interpreter" -parallelism=2
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/hybrid/backends"
	_ "github.com/gomlx/hybrid/backends/default"
	"github.com/gomlx/hybrid/internal/demographs"
	"github.com/gomlx/hybrid/pkg/core/hybrid"
	"github.com/gomlx/hybrid/pkg/core/partition"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagPolicy = flag.String("policy", demographs.MulOnCPUPolicy,
		"Placement policy: comma-separated list of op=placement, where op \"*\" sets the fallback placement.")
	flagGraph = flag.String("graph", "all",
		fmt.Sprintf("Demo graph to inspect, one of %q, or \"all\".", demographs.Names()))
	flagParallelism = flag.Int("parallelism", 0,
		"Number of sub-functions executed concurrently: 0 or 1 runs them sequentially, a negative value is unlimited.")
	flagRun    = flag.Bool("run", true, "Execute the graphs and compare with the expected results.")
	flagRepeat = flag.Int("repeat", 0,
		"If > 0, after checking the results, executes each graph this many times more and reports the average time.")
	flagColor = flag.Bool("color", true, "Colorize the output. If false tables and messages are plain ASCII.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"}).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).Bold(true)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			}
			return s.Align(alignment)
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if !*flagColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	demos := demographs.All
	if *flagGraph != "all" {
		demo, err := demographs.Get(*flagGraph)
		if err != nil {
			klog.Errorf("%v. See 'hybrid_inspect -help'", err)
			os.Exit(1)
		}
		demos = []demographs.Demo{demo}
	}
	policy, err := partition.ParseOpTypePolicy(*flagPolicy)
	if err != nil {
		klog.Errorf("Invalid -policy: %v", err)
		os.Exit(1)
	}
	if failures := inspectAll(policy, demos); failures > 0 {
		klog.Errorf("%d of %d graphs failed", failures, len(demos))
		os.Exit(1)
	}
}

// inspectAll inspects each of the demos, and returns the number of failures.
func inspectAll(policy partition.Policy, demos []demographs.Demo) (failures int) {
	registry := must.M1(hybrid.NewRegistry())
	defer registry.Finalize()
	for _, demo := range demos {
		if !inspect(registry, policy, demo) {
			failures++
		}
	}
	return
}

// inspect prints the partitioning of demo and, if -run is set, executes it. It returns false if execution
// doesn't match the expected values.
func inspect(registry *hybrid.Registry, policy partition.Policy, demo demographs.Demo) bool {
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %s", demo.Name, demo.Diagram)))
	fn := must.M1(demo.Function())
	exec, err := hybrid.Compile(registry, fn, policy, hybrid.WithParallelism(*flagParallelism))
	if err != nil {
		fmt.Printf("  %s %v\n", failStyle.Render("compile failed:"), err)
		return false
	}
	defer exec.Finalize()
	split := exec.Split()

	table := newPlainTable(lipgloss.Right, lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("#", "Stage", "Placement", "Backend", "Ops", "Inputs", "Outputs", "Depends on")
	for i, sub := range split.SubFunctions {
		var numOps int
		for _, node := range sub.Function.Nodes() {
			if node.IsOperation() {
				numOps++
			}
		}
		table.Row(
			fmt.Sprint(i), fmt.Sprint(sub.Stage), sub.Placement.String(),
			exec.SubFunctionBackend(i).Name(), fmt.Sprint(numOps),
			origins(sub.InputOrigins, "in"), origins(sub.OutputOrigins, "out"),
			fmt.Sprint(split.Dependencies(i)))
	}
	fmt.Println(table.Render())

	if len(split.Boundaries) > 0 {
		boundaries := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
		boundaries.Headers("Source", "Sink", "Shape", "Bytes")
		for _, source := range split.Boundaries.Sources() {
			sink := split.Boundaries[source]
			shape := split.SubFunctions[source.SubFunction].Function.Node(source.Node).Shape()
			boundaries.Row(source.String(), sink.String(), shape.String(), humanize.Bytes(uint64(shape.Memory())))
		}
		fmt.Println(boundaries.Render())
	}

	if !*flagRun {
		return true
	}
	return run(registry, exec, demo)
}

// origins lists the original parameter or result index of each sub-function input or output, or "boundary".
func origins(indices []int, prefix string) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		if idx == partition.NotOriginal {
			parts[i] = "boundary"
		} else {
			parts[i] = fmt.Sprintf("%s#%d", prefix, idx)
		}
	}
	return strings.Join(parts, ", ")
}

func run(registry *hybrid.Registry, exec *hybrid.Executable, demo demographs.Demo) bool {
	// Inputs and outputs live on the interpreter, the other backends get copies.
	interp := must.M1(registry.Backend(placement.Interpreter))
	inputs := make([]backends.Tensor, len(demo.Inputs))
	for i, values := range demo.Inputs {
		inputs[i] = must.M1(backends.FromFlat(interp, values, demographs.Dimensions...))
	}
	output := must.M1(interp.NewTensor(exec.Outputs()[0]))
	defer func() {
		for _, t := range append(inputs, output) {
			t.Finalize()
		}
	}()
	if err := exec.Execute([]backends.Tensor{output}, inputs); err != nil {
		fmt.Printf("  %s %v\n", failStyle.Render("execution failed:"), err)
		return false
	}
	got := must.M1(backends.ToFlat[float32](output))
	if !slices.Equal(got, demo.Want) {
		fmt.Printf("  %s got %v, wanted %v\n", failStyle.Render("mismatch:"), got, demo.Want)
		return false
	}
	fmt.Printf("  %s %v\n", okStyle.Render("ok:"), got)
	if *flagRepeat > 0 {
		if err := benchmark(exec, output, inputs, *flagRepeat); err != nil {
			fmt.Printf("  %s %v\n", failStyle.Render("repeated execution failed:"), err)
			return false
		}
	}
	return true
}

// benchmark executes exec repeat times with a progress bar, and prints the average time per execution.
func benchmark(exec *hybrid.Executable, output backends.Tensor, inputs []backends.Tensor, repeat int) error {
	bar := progressbar.NewOptions(repeat,
		progressbar.OptionSetDescription("  executing"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	start := time.Now()
	for range repeat {
		if err := exec.Execute([]backends.Tensor{output}, inputs); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	elapsed := time.Since(start)
	_ = bar.Finish()
	fmt.Printf("  %d runs, %s per execution (%s executions so far)\n", repeat,
		elapsed/time.Duration(repeat), humanize.Comma(exec.NumExecutions()))
	return nil
}
