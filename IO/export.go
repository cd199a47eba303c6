package IO

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Token-id sequences are stored as a data file plus an index:
//
//   - .bin = concatenated int32 token ids
//   - .idx = int64 (offset, length) pairs per row, offset in tokens
//
// Labels go to a flat int32 .lbl file.

// WriteIDs writes rows to prefix.bin and prefix.idx.
func WriteIDs(prefix string, rows [][]int) error {
	dataF, err := os.Create(prefix + ".bin")
	if err != nil {
		return err
	}
	defer dataF.Close()
	idxF, err := os.Create(prefix + ".idx")
	if err != nil {
		return err
	}
	defer idxF.Close()

	wData := bufio.NewWriter(dataF)
	wIdx := bufio.NewWriter(idxF)
	buf4 := make([]byte, 4)
	buf8 := make([]byte, 8)
	var cur int64
	for _, ids := range rows {
		binary.LittleEndian.PutUint64(buf8, uint64(cur))
		if _, err := wIdx.Write(buf8); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf8, uint64(len(ids)))
		if _, err := wIdx.Write(buf8); err != nil {
			return err
		}
		for _, id := range ids {
			binary.LittleEndian.PutUint32(buf4, uint32(id))
			if _, err := wData.Write(buf4); err != nil {
				return err
			}
		}
		cur += int64(len(ids))
	}
	if err := wData.Flush(); err != nil {
		return err
	}
	return wIdx.Flush()
}

// ReadIDs loads rows written by WriteIDs.
func ReadIDs(prefix string) ([][]int, error) {
	data, err := os.ReadFile(prefix + ".bin")
	if err != nil {
		return nil, err
	}
	idx, err := os.ReadFile(prefix + ".idx")
	if err != nil {
		return nil, err
	}
	if len(idx)%16 != 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%s: truncated id shard", prefix)
	}
	total := int64(len(data) / 4)
	rows := make([][]int, len(idx)/16)
	for i := range rows {
		off := int64(binary.LittleEndian.Uint64(idx[16*i:]))
		n := int64(binary.LittleEndian.Uint64(idx[16*i+8:]))
		if off < 0 || n < 0 || off+n > total {
			return nil, fmt.Errorf("%s: row %d points outside data (off=%d len=%d)", prefix, i, off, n)
		}
		row := make([]int, n)
		for j := range row {
			row[j] = int(int32(binary.LittleEndian.Uint32(data[4*(off+int64(j)):])))
		}
		rows[i] = row
	}
	return rows, nil
}

func WriteLabels(path string, labels []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	buf4 := make([]byte, 4)
	for _, y := range labels {
		binary.LittleEndian.PutUint32(buf4, uint32(y))
		if _, err := w.Write(buf4); err != nil {
			return err
		}
	}
	return w.Flush()
}

func ReadLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []int
	r := bufio.NewReader(f)
	buf4 := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, buf4); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, int(int32(binary.LittleEndian.Uint32(buf4))))
	}
}

// ExportSplit stores s under dir as <name>-context, <name>-response and
// <name>.lbl.
func ExportSplit(dir, name string, s Split) error {
	if err := s.Check(); err != nil {
		return err
	}
	base := filepath.Join(dir, name)
	if err := WriteIDs(base+"-context", s.Contexts); err != nil {
		return err
	}
	if err := WriteIDs(base+"-response", s.Responses); err != nil {
		return err
	}
	return WriteLabels(base+".lbl", s.Labels)
}

func ImportSplit(dir, name string) (Split, error) {
	base := filepath.Join(dir, name)
	var s Split
	var err error
	if s.Contexts, err = ReadIDs(base + "-context"); err != nil {
		return s, fmt.Errorf("load %s contexts: %w", name, err)
	}
	if s.Responses, err = ReadIDs(base + "-response"); err != nil {
		return s, fmt.Errorf("load %s responses: %w", name, err)
	}
	if s.Labels, err = ReadLabels(base + ".lbl"); err != nil {
		return s, fmt.Errorf("load %s labels: %w", name, err)
	}
	return s, s.Check()
}

// ImportDataset loads the train, val and test splits from dir.
func ImportDataset(dir string) (Dataset, error) {
	var d Dataset
	var err error
	if d.Train, err = ImportSplit(dir, "train"); err != nil {
		return d, err
	}
	if d.Val, err = ImportSplit(dir, "val"); err != nil {
		return d, err
	}
	if d.Test, err = ImportSplit(dir, "test"); err != nil {
		return d, err
	}
	return d, nil
}
