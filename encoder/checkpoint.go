package encoder

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
)

// Checkpoints hold weights only; optimizer state is rebuilt on load.

type tensorData struct {
	Name string
	R, C int
	Data []float64
}

type modelData struct {
	HiddenSize int
	Tensors    []tensorData
}

// SaveModel persists every parameter of m to filename using gob.
func SaveModel(m *DualEncoder, filename string) error {
	data := modelData{HiddenSize: m.Cfg.HiddenSize}
	for _, p := range m.Params() {
		r, c := p.Value.Dims()
		raw := mat.DenseCopyOf(p.Value).RawMatrix()
		data.Tensors = append(data.Tensors, tensorData{
			Name: p.Name,
			R:    r,
			C:    c,
			Data: append([]float64(nil), raw.Data...),
		})
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(data); err != nil {
		return err
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// write then rename
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// LoadModel copies weights saved by SaveModel into m. Every parameter of m
// must be present with the same shape.
func LoadModel(m *DualEncoder, filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var data modelData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return fmt.Errorf("LoadModel: %w", err)
	}
	if data.HiddenSize != m.Cfg.HiddenSize {
		return fmt.Errorf("LoadModel: hidden size mismatch (have %d, file %d)", m.Cfg.HiddenSize, data.HiddenSize)
	}

	byName := make(map[string]tensorData, len(data.Tensors))
	for _, t := range data.Tensors {
		byName[t.Name] = t
	}
	for _, p := range m.Params() {
		if err := restore(p, byName); err != nil {
			return err
		}
	}
	return nil
}

func restore(p *params.Param, byName map[string]tensorData) error {
	t, ok := byName[p.Name]
	if !ok {
		return fmt.Errorf("LoadModel: parameter %q missing from checkpoint", p.Name)
	}
	r, c := p.Value.Dims()
	if t.R != r || t.C != c || len(t.Data) != r*c {
		return fmt.Errorf("LoadModel: %q shape mismatch (have %dx%d, file %dx%d)", p.Name, r, c, t.R, t.C)
	}
	p.Value.Copy(mat.NewDense(r, c, t.Data))
	return nil
}
