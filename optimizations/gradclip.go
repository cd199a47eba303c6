package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/utils"
)

// GradClip bounds every gradient element to [-Bound, Bound]. A tensor that
// still holds a NaN afterwards is replaced as a whole by Fill.
type GradClip struct {
	Bound float64
	Fill  float64
}

// Apply rewrites g in place and reports whether the NaN fill was used.
func (c GradClip) Apply(g *mat.Dense) bool {
	r, _ := g.Dims()
	for i := 0; i < r; i++ {
		row := g.RawRowView(i)
		for j, v := range row {
			// NaN survives Min/Max and is handled below
			row[j] = math.Max(-c.Bound, math.Min(c.Bound, v))
		}
	}
	if !utils.HasNaN(g) {
		return false
	}
	for i := 0; i < r; i++ {
		row := g.RawRowView(i)
		for j := range row {
			row[j] = c.Fill
		}
	}
	return true
}
