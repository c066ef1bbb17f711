//go:build !purego && !js

package galaxyprops

import (
	"gocv.io/x/gocv"
)

// Backend names the eigen solver compiled in.
const Backend = "gocv"

// symEigen decomposes a symmetric 3x3 matrix with the OpenCV backend.
// Eigenvectors are returned as rows, matching vals.
func symEigen(m Mat3) ([3]float64, [3]Vec3, error) {
	var vals [3]float64
	var vecs [3]Vec3

	src := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer src.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			src.SetDoubleAt(r, c, m[3*r+c])
		}
	}

	values := gocv.NewMat()
	defer values.Close()
	vectors := gocv.NewMat()
	defer vectors.Close()
	if !gocv.Eigen(src, &values, &vectors) {
		return vals, vecs, errEigen
	}

	for i := 0; i < 3; i++ {
		vals[i] = values.GetDoubleAt(i, 0)
		for k := 0; k < 3; k++ {
			vecs[i][k] = vectors.GetDoubleAt(i, k)
		}
	}
	return vals, vecs, nil
}
