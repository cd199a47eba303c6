//go:build accelerate

package main

// #cgo darwin LDFLAGS: -framework Accelerate
// #cgo linux LDFLAGS: -lopenblas
import "C"
import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Builds with `-tags accelerate` route gonum's mat products through the
// system BLAS (Accelerate on macOS, OpenBLAS elsewhere).
func init() {
	blas64.Use(netlib.Implementation{})
}
