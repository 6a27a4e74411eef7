// lenet5_summaries inspects the summary directories written by lenet5_train:
// run manifests, statistics of the recorded scalar series and, with -plot, an
// HTML chart of the curves.
//
// Examples:
//
//	$ lenet5_summaries -manifest -scalars ./summary_dir
//	$ lenet5_summaries -plot ./summary_dir ./baseline_run
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/lenet5/summaries"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagManifest = flag.Bool("manifest", false,
		"Displays the run manifest of each summary directory.")
	flagScalars = flag.Bool("scalars", false,
		"Displays per-tag statistics of the scalar records of each summary directory.")
	flagPlot = flag.Bool("plot", false,
		"Writes an HTML chart of the scalar series, one line per directory and tag. See -plot_output.")
	flagPlotOutput = flag.String("plot_output", "loss.html",
		"File the -plot HTML chart is written to.")
)

func main() {
	flag.Parse()
	dirs := flag.Args()
	if len(dirs) == 0 {
		klog.Errorf("Missing summary directory to read from. See 'lenet5_summaries -help'.")
		os.Exit(1)
	}
	if !*flagManifest && !*flagScalars && !*flagPlot {
		klog.Errorf("Nothing to do: set at least one of -manifest, -scalars or -plot. " +
			"See 'lenet5_summaries -help'.")
		os.Exit(1)
	}

	for _, dir := range dirs {
		if *flagManifest {
			reportManifest(dir)
		}
		if *flagScalars {
			reportScalars(dir)
		}
	}
	if *flagPlot {
		plotScalars(dirs, *flagPlotOutput)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func reportManifest(dir string) {
	manifest := must.M1(summaries.ReadManifest(dir))
	images := must.M1(summaries.ListImages(dir))

	fmt.Println(titleStyle.Render(fmt.Sprintf("Run %s", dir)))
	table := newPlainTable(false)
	table.Row("run id", manifest.ID)
	table.Row("started", fmt.Sprintf("%s (%s)",
		manifest.Started.Format(time.RFC1123), humanize.Time(manifest.Started)))
	table.Row("backend", manifest.Backend)
	table.Row("image summaries", humanize.Comma(int64(len(images))))
	for _, name := range xslices.SortedKeys(manifest.Params) {
		table.Row(name, fmt.Sprintf("%v", manifest.Params[name]))
	}
	fmt.Println(table.Render())
}

// tagStats summarizes the records of one scalar series.
type tagStats struct {
	count               int
	firstStep, lastStep int
	last, min, max      float64
}

func reportScalars(dir string) {
	scalars := must.M1(summaries.ReadScalars(dir))
	byTag := make(map[string]*tagStats)
	for _, s := range scalars {
		stats, found := byTag[s.Tag]
		if !found {
			stats = &tagStats{firstStep: s.Step, min: s.Value, max: s.Value}
			byTag[s.Tag] = stats
		}
		stats.count++
		stats.lastStep = s.Step
		stats.last = s.Value
		stats.min = math.Min(stats.min, s.Value)
		stats.max = math.Max(stats.max, s.Value)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Scalars %s", dir)))
	table := newPlainTable(true)
	table.Row("Tag", "Records", "First Step", "Last Step", "Last", "Min", "Max")
	for _, tag := range xslices.SortedKeys(byTag) {
		stats := byTag[tag]
		table.Row(tag,
			humanize.Comma(int64(stats.count)),
			humanize.Comma(int64(stats.firstStep)),
			humanize.Comma(int64(stats.lastStep)),
			fmt.Sprintf("%.5f", stats.last),
			fmt.Sprintf("%.5f", stats.min),
			fmt.Sprintf("%.5f", stats.max))
	}
	fmt.Println(table.Render())
}
