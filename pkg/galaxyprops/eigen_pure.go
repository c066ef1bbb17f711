//go:build purego || js

package galaxyprops

import (
	"gonum.org/v1/gonum/mat"
)

// Backend names the eigen solver compiled in.
const Backend = "gonum"

// symEigen decomposes a symmetric 3x3 matrix with gonum. Eigenvectors are
// returned as rows, matching vals.
func symEigen(m Mat3) ([3]float64, [3]Vec3, error) {
	var vals [3]float64
	var vecs [3]Vec3

	sym := mat.NewSymDense(3, []float64{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
		m[6], m[7], m[8],
	})
	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return vals, vecs, errEigen
	}
	values := es.Values(nil)
	var vectors mat.Dense
	es.VectorsTo(&vectors)

	for i := 0; i < 3; i++ {
		vals[i] = values[i]
		for k := 0; k < 3; k++ {
			vecs[i][k] = vectors.At(k, i)
		}
	}
	return vals, vecs, nil
}
