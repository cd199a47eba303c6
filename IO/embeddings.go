package IO

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
)

// EmbeddingTable owns the word-vector matrix, shape (|V| x dim). Row
// params.PadID is the padding vector and is forced back to zero after every
// optimizer step.
type EmbeddingTable struct {
	W *params.Param
}

func NewEmbeddingTable(U *mat.Dense) *EmbeddingTable {
	e := &EmbeddingTable{W: params.NewParam(params.EmbeddingName, U, 2)}
	e.ZeroPaddingRow()
	return e
}

func (e *EmbeddingTable) Dim() int {
	_, c := e.W.Value.Dims()
	return c
}

func (e *EmbeddingTable) VocabSize() int {
	r, _ := e.W.Value.Dims()
	return r
}

// Lookup gathers rows for a (batch x seqLen) id matrix. The result is
// time-major: element t is the (batch x dim) slice of step t.
func (e *EmbeddingTable) Lookup(ids [][]int) []*mat.Dense {
	if len(ids) == 0 {
		return nil
	}
	B, T, d := len(ids), len(ids[0]), e.Dim()
	V := e.VocabSize()
	out := make([]*mat.Dense, T)
	for t := 0; t < T; t++ {
		x := mat.NewDense(B, d, nil)
		for b := 0; b < B; b++ {
			id := ids[b][t]
			if id < 0 || id >= V {
				panic(fmt.Sprintf("EmbeddingTable.Lookup: token id %d outside vocabulary of %d", id, V))
			}
			copy(x.RawRowView(b), e.W.Value.RawRowView(id))
		}
		out[t] = x
	}
	return out
}

// Backward scatter-adds time-major input gradients into the table gradient.
func (e *EmbeddingTable) Backward(ids [][]int, dX []*mat.Dense) {
	for t, g := range dX {
		for b := range ids {
			floats.Add(e.W.Grad.RawRowView(ids[b][t]), g.RawRowView(b))
		}
	}
}

// ZeroPaddingRow resets the padding vector.
func (e *EmbeddingTable) ZeroPaddingRow() {
	row := e.W.Value.RawRowView(params.PadID)
	for i := range row {
		row[i] = 0
	}
}

// ReadEmbeddings parses "token v1 v2 ... vd" lines. Row i of the returned
// matrix belongs to the token on line i; every line must have the same width.
func ReadEmbeddings(r io.Reader) (*mat.Dense, []string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	var (
		vocab []string
		data  []float64
		dim   = -1
		line  int
	)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if dim < 0 {
			dim = len(fields) - 1
		}
		if len(fields)-1 != dim || dim == 0 {
			return nil, nil, fmt.Errorf("embeddings line %d: want %d values, got %d", line, dim, len(fields)-1)
		}
		vocab = append(vocab, fields[0])
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("embeddings line %d: %w", line, err)
			}
			data = append(data, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(vocab) == 0 {
		return nil, nil, fmt.Errorf("embeddings: no vectors found")
	}
	return mat.NewDense(len(vocab), dim, data), vocab, nil
}

func LoadEmbeddings(path string) (*mat.Dense, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadEmbeddings(f)
}

// WriteEmbeddings is the inverse of ReadEmbeddings.
func WriteEmbeddings(w io.Writer, U *mat.Dense, vocab []string) error {
	r, _ := U.Dims()
	if r != len(vocab) {
		return fmt.Errorf("embeddings: %d rows for %d tokens", r, len(vocab))
	}
	bw := bufio.NewWriter(w)
	for i, tok := range vocab {
		bw.WriteString(tok)
		for _, v := range U.RawRowView(i) {
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
