package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/manningwu07/dualencoder/metrics"
	"github.com/manningwu07/dualencoder/trainer"
)

// asciiPlot draws a crude vertical bar chart of values (0..1).
func asciiPlot(values []float64) {
	const height = 10
	n := len(values)
	if n == 0 {
		fmt.Println("no data to plot")
		return
	}
	for row := height; row >= 1; row-- {
		threshold := float64(row) / float64(height)
		var sb strings.Builder
		for _, v := range values {
			if v >= threshold {
				sb.WriteString("█")
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Println(sb.String())
	}
	fmt.Println(strings.Repeat("─", n))
	var sb strings.Builder
	for i := range values {
		if i%5 == 0 {
			sb.WriteString(strconv.Itoa(i % 10))
		} else {
			sb.WriteByte(' ')
		}
	}
	fmt.Println(sb.String())
}

func valCurve(h []trainer.EpochStats) []float64 {
	out := make([]float64, len(h))
	for i, st := range h {
		out[i] = st.ValPerf
	}
	return out
}

func printRecall(r map[int]map[int]float64) {
	for _, gs := range metrics.GroupSizes {
		for _, k := range metrics.Ks {
			if v, ok := r[gs][k]; ok {
				fmt.Printf("recall@%d (%d options): %.4f\n", k, gs, v)
			}
		}
	}
}

// savePlot writes cost, train/val perf and val R10@1 against epoch.
func savePlot(h []trainer.EpochStats, path string) error {
	p := plot.New()
	p.Title.Text = "dual encoder training"
	p.X.Label.Text = "epoch"

	series := []struct {
		name string
		get  func(trainer.EpochStats) float64
	}{
		{"cost", func(s trainer.EpochStats) float64 { return s.Cost }},
		{"train_perf", func(s trainer.EpochStats) float64 { return s.TrainPerf }},
		{"val_perf", func(s trainer.EpochStats) float64 { return s.ValPerf }},
		{"val_r10@1", func(s trainer.EpochStats) float64 { return s.Recall[10][1] }},
	}
	for i, s := range series {
		pts := make(plotter.XYs, 0, len(h))
		for _, st := range h {
			pts = append(pts, plotter.XY{X: float64(st.Epoch), Y: s.get(st)})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.name, err)
		}
		line.LineStyle.Color = plotutil.Color(i)
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("%s points: %w", s.name, err)
		}
		scatter.GlyphStyle.Color = plotutil.Color(i)
		scatter.GlyphStyle.Radius = vg.Length(2)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(line, scatter)
		p.Legend.Add(s.name, line)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
