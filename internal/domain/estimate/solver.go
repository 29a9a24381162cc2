package estimate

import (
	"errors"
	"math"
)

// ErrSingular reports that the normal equations are not invertible, e.g.
// when two devices appear in exactly the same set of peaks and their
// contributions cannot be told apart.
var ErrSingular = errors.New("estimate: singular normal equations")

const pivotEpsilon = 1e-12

// solveLeastSquares solves min ||Ax - b|| via the normal equations
// (AᵗA)x = Aᵗb using Gaussian elimination with partial pivoting.
// A near-zero pivot returns ErrSingular instead of silent NaNs.
func solveLeastSquares(a [][]float64, b []float64) ([]float64, error) {
	rows := len(a)
	if rows == 0 {
		return nil, ErrSingular
	}
	cols := len(a[0])

	// Build the augmented system [AᵗA | Aᵗb].
	m := make([][]float64, cols)
	for i := range m {
		m[i] = make([]float64, cols+1)
		for j := 0; j < cols; j++ {
			var s float64
			for k := 0; k < rows; k++ {
				s += a[k][i] * a[k][j]
			}
			m[i][j] = s
		}
		var s float64
		for k := 0; k < rows; k++ {
			s += a[k][i] * b[k]
		}
		m[i][cols] = s
	}

	// Forward elimination with partial pivoting.
	for col := 0; col < cols; col++ {
		pivot := col
		for r := col + 1; r < cols; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < pivotEpsilon {
			return nil, ErrSingular
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < cols; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c <= cols; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	// Back substitution.
	x := make([]float64, cols)
	for i := cols - 1; i >= 0; i-- {
		s := m[i][cols]
		for j := i + 1; j < cols; j++ {
			s -= m[i][j] * x[j]
		}
		x[i] = s / m[i][i]
	}
	return x, nil
}
