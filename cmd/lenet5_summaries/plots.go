package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path"

	"github.com/gomlx/lenet5/summaries"
	"github.com/janpfeifer/gonb/gonbui/plotly"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
)

// scalarLine is one line of the chart: the scalar series of one tag of one run.
type scalarLine struct {
	name          string
	steps, values []float64
}

// collectLines reads the scalar records of every directory and groups them
// into one line per (directory, tag) pair, in record order. Lines are named
// by the tag alone when a single directory is given, and prefixed with the
// directory base name when comparing runs.
func collectLines(dirs []string) []*scalarLine {
	var lines []*scalarLine
	for _, dir := range dirs {
		scalars := must.M1(summaries.ReadScalars(dir))
		byTag := make(map[string]*scalarLine)
		var tags []string
		for _, s := range scalars {
			line, found := byTag[s.Tag]
			if !found {
				name := s.Tag
				if len(dirs) > 1 {
					name = fmt.Sprintf("%s: %s", path.Base(dir), s.Tag)
				}
				line = &scalarLine{name: name}
				byTag[s.Tag] = line
				tags = append(tags, s.Tag)
			}
			line.steps = append(line.steps, float64(s.Step))
			line.values = append(line.values, s.Value)
		}
		for _, tag := range tags {
			lines = append(lines, byTag[tag])
		}
	}
	return lines
}

// plotScalars writes an HTML chart with the scalar series of the given
// summary directories to outputPath.
func plotScalars(dirs []string, outputPath string) {
	fig := &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{
				Text: ptypes.S("Training summaries"),
			},
			Xaxis: &grob.LayoutXaxis{
				Showgrid: ptypes.B(true),
			},
			Yaxis: &grob.LayoutYaxis{
				Showgrid: ptypes.B(true),
			},
		},
	}
	for _, line := range collectLines(dirs) {
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(line.name),
			Line: &grob.ScatterLine{
				Shape: grob.ScatterLineShapeLinear,
			},
			Mode: "lines+markers",
			X:    ptypes.DataArray(line.steps),
			Y:    ptypes.DataArray(line.values),
		})
	}
	figAsJSON := must.M1(json.Marshal(fig))
	must.M(plotlyToHTMLFile(outputPath, figAsJSON))
	fmt.Printf("Chart written to %s\n", outputPath)
}

var (
	chartHTML = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<script src="{{ .CDN }}"></script>
</head>
<body>
	<div id="chart"></div>
	<script>
		Plotly.newPlot('chart', JSON.parse(atob('{{ .Figure }}')));
	</script>
</body>
</html>`
	chartHTMLTmpl = template.Must(template.New("chart").Parse(chartHTML))
)

// writePlotlyAsHTML renders a Plotly figure (given as JSON) to a standalone
// HTML page that loads the plotly library from its CDN.
func writePlotlyAsHTML(w io.Writer, figAsJSON []byte) error {
	data := &struct {
		CDN    string
		Figure string
	}{
		CDN:    plotly.PlotlySrc,
		Figure: base64.StdEncoding.EncodeToString(figAsJSON),
	}
	if err := chartHTMLTmpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "failed to render plotly chart")
	}
	return nil
}

// plotlyToHTMLFile renders a Plotly figure (given as JSON) to an HTML file.
func plotlyToHTMLFile(fileName string, figAsJSON []byte) error {
	f, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", fileName)
	}
	defer func() { _ = f.Close() }()
	return writePlotlyAsHTML(f, figAsJSON)
}
