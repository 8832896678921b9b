package vision

import (
	"fmt"
	"math"

	"github.com/ente-io/ml-core/internal/mlerr"
)

// alignedFaceSize is the fixed output crop size face alignment warps into.
const alignedFaceSize = 112

// idealFiveLandmarks is the canonical MobileFaceNet 5-point template
// (left eye, right eye, nose, left mouth corner, right mouth corner),
// normalized into the same [0,1] destination space as the aligned
// 112x112 crop, that every detected face is warped towards.
var idealFiveLandmarks = [5][2]float32{
	{38.2946 / alignedFaceSize, 51.6963 / alignedFaceSize},
	{73.5318 / alignedFaceSize, 51.5014 / alignedFaceSize},
	{56.0252 / alignedFaceSize, 71.7366 / alignedFaceSize},
	{41.5493 / alignedFaceSize, 92.3655 / alignedFaceSize},
	{70.7299 / alignedFaceSize, 92.2041 / alignedFaceSize},
}

// AlignedFace is a warped 112x112x3 RGB crop ready for face embedding.
type AlignedFace struct {
	RGB []byte // 112*112*3 bytes
}

// AlignFaces estimates a similarity transform from each detection's
// landmarks to the canonical template, warps the corresponding crop, and
// scores its blur. fileID seeds the deterministic face_id.
func AlignFaces(fileID int64, img DecodedImage, detections []Detection) ([]AlignedFace, []FaceResult, error) {
	aligned := make([]AlignedFace, 0, len(detections))
	results := make([]FaceResult, 0, len(detections))

	for _, det := range detections {
		transform, err := estimateSimilarityTransform(det.Landmarks)
		if err != nil {
			return nil, nil, err
		}

		warped := warpFaceImage(img, transform)
		direction := faceDirection(det.Landmarks)
		blur := computeBlurValue(warped, direction)

		results = append(results, FaceResult{
			Detection: det,
			BlurValue: blur,
			Alignment: transform,
			FaceID:    toFaceID(fileID, det.BBox),
		})
		aligned = append(aligned, AlignedFace{RGB: warped})
	}

	return aligned, results, nil
}

// estimateSimilarityTransform fits a 2D similarity transform (uniform
// scale, rotation, translation) mapping landmarks onto idealFiveLandmarks,
// via Umeyama's method specialized to five 2D point correspondences.
func estimateSimilarityTransform(landmarks [5][2]float32) (AlignmentResult, error) {
	const n = 5

	var srcMean, dstMean [2]float64
	for i := 0; i < n; i++ {
		srcMean[0] += float64(landmarks[i][0])
		srcMean[1] += float64(landmarks[i][1])
		dstMean[0] += float64(idealFiveLandmarks[i][0])
		dstMean[1] += float64(idealFiveLandmarks[i][1])
	}
	srcMean[0] /= n
	srcMean[1] /= n
	dstMean[0] /= n
	dstMean[1] /= n

	var srcVar float64
	var cov [2][2]float64 // cov[i][j] = E[(dst_i - dstMean_i)(src_j - srcMean_j)]
	for i := 0; i < n; i++ {
		sx := float64(landmarks[i][0]) - srcMean[0]
		sy := float64(landmarks[i][1]) - srcMean[1]
		dx := float64(idealFiveLandmarks[i][0]) - dstMean[0]
		dy := float64(idealFiveLandmarks[i][1]) - dstMean[1]

		srcVar += sx*sx + sy*sy

		cov[0][0] += dx * sx
		cov[0][1] += dx * sy
		cov[1][0] += dy * sx
		cov[1][1] += dy * sy
	}
	srcVar /= n
	cov[0][0] /= n
	cov[0][1] /= n
	cov[1][0] /= n
	cov[1][1] /= n

	if srcVar == 0 {
		return AlignmentResult{}, mlerr.Preprocess("degenerate landmark set: zero variance")
	}

	u, d, vt, err := svd2x2(cov)
	if err != nil {
		return AlignmentResult{}, mlerr.WrapPreprocess(err, "svd of landmark covariance")
	}

	// Determinant sign correction (Umeyama's S matrix): if det(cov) < 0,
	// or the covariance is rank-deficient and det(U)*det(V) < 0, flip the
	// sign of the smaller singular value's contribution to avoid a
	// reflection.
	detCov := cov[0][0]*cov[1][1] - cov[0][1]*cov[1][0]
	s := [2]float64{1, 1}
	if detCov < 0 {
		s[1] = -1
	} else if d[1] < 1e-8 {
		// rank-1 degenerate covariance: determine the correct sign from
		// det(U)*det(V).
		detU := u[0][0]*u[1][1] - u[0][1]*u[1][0]
		detV := vt[0][0]*vt[1][1] - vt[1][0]*vt[0][1]
		if detU*detV < 0 {
			s[1] = -1
		}
	}

	// R = U * diag(s) * V^T
	var r [2][2]float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			r[i][j] = u[i][0]*s[0]*vt[0][j] + u[i][1]*s[1]*vt[1][j]
		}
	}

	scale := (d[0]*s[0] + d[1]*s[1]) / srcVar

	var affine [2][3]float32
	affine[0][0] = float32(scale * r[0][0])
	affine[0][1] = float32(scale * r[0][1])
	affine[1][0] = float32(scale * r[1][0])
	affine[1][1] = float32(scale * r[1][1])
	affine[0][2] = float32(dstMean[0] - scale*(r[0][0]*srcMean[0]+r[0][1]*srcMean[1]))
	affine[1][2] = float32(dstMean[1] - scale*(r[1][0]*srcMean[0]+r[1][1]*srcMean[1]))

	rotation := math.Atan2(r[1][0], r[0][0])

	size := 1.0
	if math.Abs(scale) > 1e-12 {
		size = 1.0 / scale
	}
	// center = src_mean - (dst_mean - (0.5, 0.5)) * size: the source-space
	// point that maps onto the destination crop's center.
	centerX := srcMean[0] - (dstMean[0]-0.5)*size
	centerY := srcMean[1] - (dstMean[1]-0.5)*size

	return AlignmentResult{
		AffineMatrix: affine,
		Center:       [2]float32{float32(centerX), float32(centerY)},
		Size:         float32(size),
		Rotation:     float32(rotation),
	}, nil
}

// svd2x2 computes the SVD of a 2x2 matrix analytically: m = u * diag(d) * vt,
// with d sorted descending.
func svd2x2(m [2][2]float64) (u [2][2]float64, d [2]float64, vt [2][2]float64, err error) {
	// Eigendecompose m^T*m to get V and singular values.
	mtm := [2][2]float64{
		{m[0][0]*m[0][0] + m[1][0]*m[1][0], m[0][0]*m[0][1] + m[1][0]*m[1][1]},
		{m[0][1]*m[0][0] + m[1][1]*m[1][0], m[0][1]*m[0][1] + m[1][1]*m[1][1]},
	}

	tr := mtm[0][0] + mtm[1][1]
	det := mtm[0][0]*mtm[1][1] - mtm[0][1]*mtm[1][0]
	disc := tr*tr/4 - det
	if disc < 0 {
		disc = 0
	}
	sq := math.Sqrt(disc)
	lambda1 := tr/2 + sq
	lambda2 := tr/2 - sq
	if lambda1 < 0 {
		lambda1 = 0
	}
	if lambda2 < 0 {
		lambda2 = 0
	}
	d[0] = math.Sqrt(lambda1)
	d[1] = math.Sqrt(lambda2)

	v1 := eigenvector2x2(mtm, lambda1)
	v2 := [2]float64{-v1[1], v1[0]} // orthogonal complement in 2D

	vt[0][0], vt[0][1] = v1[0], v1[1]
	vt[1][0], vt[1][1] = v2[0], v2[1]

	for i := 0; i < 2; i++ {
		var col [2]float64
		for r := 0; r < 2; r++ {
			col[r] = m[r][0]*vt[i][0] + m[r][1]*vt[i][1]
		}
		if d[i] > 1e-12 {
			u[0][i] = col[0] / d[i]
			u[1][i] = col[1] / d[i]
		} else if i == 0 {
			u[0][i], u[1][i] = 1, 0
		} else {
			u[0][i], u[1][i] = -u[1][0], u[0][0]
		}
	}

	return u, d, vt, nil
}

func eigenvector2x2(m [2][2]float64, lambda float64) [2]float64 {
	a, b := m[0][0]-lambda, m[0][1]
	c, dd := m[1][0], m[1][1]-lambda
	var v [2]float64
	if math.Abs(b) > 1e-12 || math.Abs(a) > 1e-12 {
		v = [2]float64{-b, a}
		if math.Abs(v[0])+math.Abs(v[1]) < 1e-12 {
			v = [2]float64{-dd, c}
		}
	} else {
		v = [2]float64{-dd, c}
	}
	norm := math.Hypot(v[0], v[1])
	if norm < 1e-12 {
		return [2]float64{1, 0}
	}
	return [2]float64{v[0] / norm, v[1] / norm}
}

// warpFaceImage applies the inverse of transform — which maps normalized
// source image coordinates to normalized destination coordinates for the
// 112x112 crop — to sample each destination pixel from img via bicubic
// interpolation, filling out-of-bounds samples with mid-gray (114,114,114).
func warpFaceImage(img DecodedImage, transform AlignmentResult) []byte {
	out := make([]byte, alignedFaceSize*alignedFaceSize*3)

	m := transform.AffineMatrix
	det := float64(m[0][0]*m[1][1] - m[0][1]*m[1][0])
	if det == 0 {
		for i := range out {
			out[i] = letterboxFill
		}
		return out
	}
	invDet := 1 / det
	inv00 := float64(m[1][1]) * invDet
	inv01 := -float64(m[0][1]) * invDet
	inv10 := -float64(m[1][0]) * invDet
	inv11 := float64(m[0][0]) * invDet
	// solve inv * (normDst - t) = normSrc
	tx, ty := float64(m[0][2]), float64(m[1][2])

	w, h := img.Dimensions.Width, img.Dimensions.Height

	for dy := 0; dy < alignedFaceSize; dy++ {
		normDstY := (float64(dy) + 0.5) / alignedFaceSize
		for dx := 0; dx < alignedFaceSize; dx++ {
			normDstX := (float64(dx) + 0.5) / alignedFaceSize

			rx := normDstX - tx
			ry := normDstY - ty
			normSrcX := inv00*rx + inv01*ry
			normSrcY := inv10*rx + inv11*ry

			srcX := normSrcX * float64(w)
			srcY := normSrcY * float64(h)

			off := (dy*alignedFaceSize + dx) * 3
			for c := 0; c < 3; c++ {
				out[off+c] = bicubicSample(img, srcX, srcY, c, w, h)
			}
		}
	}
	return out
}

func bicubicSample(img DecodedImage, x, y float64, channel, w, h int) byte {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0

	sample := func(px, py int) float64 {
		if px < 0 || px >= w || py < 0 || py >= h {
			return float64(letterboxFill)
		}
		return float64(img.RGB[(py*w+px)*3+channel])
	}

	cubic := func(p [4]float64, t float64) float64 {
		return p[1] + 0.5*t*(p[2]-p[0]+t*(2*p[0]-5*p[1]+4*p[2]-p[3]+t*(3*(p[1]-p[2])+p[3]-p[0])))
	}

	var rows [4]float64
	for j := -1; j <= 2; j++ {
		var p [4]float64
		for i := -1; i <= 2; i++ {
			p[i+1] = sample(int(x0)+i, int(y0)+j)
		}
		rows[j+1] = cubic(p, fx)
	}
	v := cubic(rows, fy)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v + 0.5)
}

// faceDirection classifies head pose from landmark geometry: the nose's
// horizontal position relative to the eye midpoint determines whether the
// subject is turned LEFT, RIGHT, or facing STRAIGHT ahead.
func faceDirection(landmarks [5][2]float32) FaceDirection {
	leftEye, rightEye, nose := landmarks[0], landmarks[1], landmarks[2]
	eyeMidX := (leftEye[0] + rightEye[0]) / 2
	eyeSpan := rightEye[0] - leftEye[0]
	if eyeSpan == 0 {
		return FaceStraight
	}
	offset := (nose[0] - eyeMidX) / eyeSpan
	switch {
	case offset < -0.15:
		return FaceLeft
	case offset > 0.15:
		return FaceRight
	default:
		return FaceStraight
	}
}

// removeSideColumns is how many columns are stripped from the aligned crop
// before blur scoring: all from one side for a turned pose, half from each
// side for a straight one.
const removeSideColumns = 56

// laplacianHardThreshold is the blur score below which a face counts as
// blurry. Nothing in this package compares against it: computeBlurValue
// only reports the score.
const laplacianHardThreshold = 10.0

// computeBlurValue scores sharpness via direction-aware Laplacian
// variance: the crop is padded asymmetrically depending on pose, converted
// to grayscale, passed through a discrete Laplacian kernel, and scored by
// the population variance of the response.
func computeBlurValue(rgb []byte, direction FaceDirection) float32 {
	gray := toGrayscaleMatrix(rgb, alignedFaceSize, alignedFaceSize)
	padded := padImageForDirection(gray, alignedFaceSize, alignedFaceSize, direction)
	laplacian := applyLaplacian(padded)
	return variance2D(laplacian)
}

func toGrayscaleMatrix(rgb []byte, w, h int) [][]float64 {
	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		row := make([]float64, w)
		for x := 0; x < w; x++ {
			off := (y*w + x) * 3
			r := float64(rgb[off])
			g := float64(rgb[off+1])
			b := float64(rgb[off+2])
			v := math.Round(0.299*r + 0.587*g + 0.114*b)
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			row[x] = v
		}
		out[y] = row
	}
	return out
}

// padImageForDirection keeps a w-removeSideColumns wide stripe of columns
// (at the left for FaceLeft, the right for FaceRight, centered otherwise)
// and pads it by one row top/bottom and one column left/right, reflecting
// the neighbor one step in, so the result is (h+2)x(w-removeSideColumns+2).
func padImageForDirection(gray [][]float64, w, h int, direction FaceDirection) [][]float64 {
	startCol := 0
	switch direction {
	case FaceLeft:
		startCol = 0
	case FaceRight:
		startCol = removeSideColumns
	default:
		startCol = removeSideColumns / 2
	}
	if startCol+w-removeSideColumns > w {
		startCol = w - removeSideColumns
	}

	trimmedW := w - removeSideColumns
	if trimmedW < 1 {
		trimmedW = 1
	}

	trimmed := make([][]float64, h)
	for y := 0; y < h; y++ {
		row := make([]float64, trimmedW)
		for x := 0; x < trimmedW; x++ {
			srcX := startCol + x
			if srcX >= w {
				srcX = w - 1
			}
			row[x] = gray[y][srcX]
		}
		trimmed[y] = row
	}

	// Reflect-pad one row top/bottom, mirror-pad one column left/right, to
	// give the Laplacian kernel a border to operate on.
	out := make([][]float64, h+2)
	for y := 0; y < h+2; y++ {
		srcY := y - 1
		if srcY < 0 {
			srcY = 1
		}
		if srcY >= h {
			srcY = h - 2
		}
		row := make([]float64, trimmedW+2)
		for x := 0; x < trimmedW+2; x++ {
			srcX := x - 1
			if srcX < 0 {
				srcX = 1
			}
			if srcX >= trimmedW {
				srcX = trimmedW - 2
			}
			if srcX < 0 {
				srcX = 0
			}
			row[x] = trimmed[srcY][srcX]
		}
		out[y] = row
	}
	return out
}

// applyLaplacian convolves padded with the discrete kernel
// [[0,1,0],[1,-4,1],[0,1,0]], returning a (h-2)x(w-2) response.
func applyLaplacian(padded [][]float64) [][]float64 {
	h := len(padded)
	w := len(padded[0])
	out := make([][]float64, h-2)
	for y := 1; y < h-1; y++ {
		row := make([]float64, w-2)
		for x := 1; x < w-1; x++ {
			row[x-1] = padded[y-1][x] + padded[y+1][x] + padded[y][x-1] + padded[y][x+1] - 4*padded[y][x]
		}
		out[y-1] = row
	}
	return out
}

func variance2D(m [][]float64) float32 {
	var sum, sumSq float64
	n := 0
	for _, row := range m {
		for _, v := range row {
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return float32(sumSq/float64(n) - mean*mean)
}

// toFaceID derives a deterministic identifier from the file ID and a
// detection's already-normalized bounding box: each coordinate is clamped
// to [0, 0.999999], formatted to 5 decimal digits, and its leading "0." is
// stripped.
func toFaceID(fileID int64, box [4]float32) string {
	x1 := clampUnit(box[0])
	y1 := clampUnit(box[1])
	x2 := clampUnit(box[2])
	y2 := clampUnit(box[3])

	return fmt.Sprintf("%d_%s_%s_%s_%s", fileID, formatFraction(x1), formatFraction(y1), formatFraction(x2), formatFraction(y2))
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 0.999999 {
		return 0.999999
	}
	return v
}

// formatFraction renders v (already in [0, 0.999999]) to 5 decimal digits
// and strips the leading "0.".
func formatFraction(v float32) string {
	s := fmt.Sprintf("%.5f", v)
	if len(s) >= 2 && s[0] == '0' && s[1] == '.' {
		return s[2:]
	}
	return s
}
