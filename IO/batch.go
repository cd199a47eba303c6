package IO

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Split holds one dataset partition: parallel context/response token-id rows
// and binary labels.
type Split struct {
	Contexts  [][]int
	Responses [][]int
	Labels    []int
}

func (s Split) Len() int { return len(s.Labels) }

// Check verifies the three columns line up.
func (s Split) Check() error {
	if len(s.Contexts) != len(s.Labels) || len(s.Responses) != len(s.Labels) {
		return fmt.Errorf("split columns differ in length: contexts=%d responses=%d labels=%d",
			len(s.Contexts), len(s.Responses), len(s.Labels))
	}
	for i, y := range s.Labels {
		if y != 0 && y != 1 {
			return fmt.Errorf("label %d at row %d is not binary", y, i)
		}
	}
	return nil
}

// NumBatches is the number of full batches; a trailing partial batch is dropped.
func (s Split) NumBatches(batchSize int) int {
	return s.Len() / batchSize
}

type Dataset struct {
	Train, Val, Test Split
}

// Stream is one padded side (context or response) of a batch.
type Stream struct {
	IDs     [][]int    // (batch x maxLen), zero padded
	SeqLens []int      // index of the last real token, -1 for an empty row
	Mask    *mat.Dense // (batch x maxLen), 1 on real tokens
}

type Batch struct {
	Context, Response Stream
	Labels            []int
}

// GetBatch pads rows [index*batchSize, (index+1)*batchSize) to maxLen.
// Rows longer than maxLen keep their first maxLen tokens. Missing rows at
// the tail stay all zero with seqlen -1, like empty rows.
func GetBatch(rows [][]int, index, batchSize, maxLen int) ([][]int, []int, *mat.Dense) {
	seqlen := make([]int, batchSize)
	mask := mat.NewDense(batchSize, maxLen, nil)
	batch := make([][]int, batchSize)
	for i := range batch {
		batch[i] = make([]int, maxLen)
		seqlen[i] = -1
	}

	start := index * batchSize
	end := min(start+batchSize, len(rows))
	for i := 0; start+i < end; i++ {
		row := rows[start+i]
		if len(row) > maxLen {
			row = row[:maxLen]
		}
		copy(batch[i], row)
		seqlen[i] = len(row) - 1
		for j := range row {
			mask.Set(i, j, 1)
		}
	}
	return batch, seqlen, mask
}

// BuildBatch assembles both streams and the labels for one batch index.
func BuildBatch(s Split, index, batchSize, maxLen int) Batch {
	c, cLen, cMask := GetBatch(s.Contexts, index, batchSize, maxLen)
	r, rLen, rMask := GetBatch(s.Responses, index, batchSize, maxLen)
	y := make([]int, batchSize)
	start := index * batchSize
	for i := 0; i < batchSize && start+i < len(s.Labels); i++ {
		y[i] = s.Labels[start+i]
	}
	return Batch{
		Context:  Stream{IDs: c, SeqLens: cLen, Mask: cMask},
		Response: Stream{IDs: r, SeqLens: rLen, Mask: rMask},
		Labels:   y,
	}
}

// Valid reports, per row, whether both sides have at least one token.
// Rows that fail are left out of the loss.
func (b Batch) Valid() []bool {
	out := make([]bool, len(b.Labels))
	for i := range out {
		out[i] = b.Context.SeqLens[i] >= 0 && b.Response.SeqLens[i] >= 0
	}
	return out
}
