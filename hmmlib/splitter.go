package hmmlib

import "fmt"

// SplitSequences partitions x (L rows) into independent subsequences per
// spec §4.6.  If lengths is nil or empty, the whole of x is returned as one
// subsequence.  Otherwise lengths must be a partition of len(x); the
// returned slices are contiguous views into x's backing array (no copy)
// exactly like the teacher's flat-slice-of-slices convention.
func SplitSequences(x [][]float64, lengths []int) ([][][]float64, error) {
	if len(lengths) == 0 {
		return [][][]float64{x}, nil
	}

	var total int
	for _, l := range lengths {
		if l <= 0 {
			return nil, fmt.Errorf("hmmlib: SplitSequences: length %d is not positive: %w", l, ErrLengthMismatch)
		}
		total += l
	}
	if total != len(x) {
		return nil, fmt.Errorf("hmmlib: SplitSequences: lengths sum to %d, have %d rows: %w", total, len(x), ErrLengthMismatch)
	}

	out := make([][][]float64, len(lengths))
	off := 0
	for i, l := range lengths {
		out[i] = x[off : off+l]
		off += l
	}
	return out, nil
}
