package vision

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/ente-io/ml-core/internal/mlerr"
)

const (
	yoloInputSize = 640
	clipInputSize = 256
	letterboxFill = 114 // mid-gray padding value, matches the Rust reference
)

// PreprocessYOLO letterboxes img into a 640x640 canvas: it bilinear-resizes
// the longer side to fit, centers the result, and pads the border with
// mid-gray. Returns CHW float32 data normalized to [0,1], the scaled
// (pre-pad) dimensions, and the pad offsets.
//
// The pad offsets are reported for completeness but are deliberately NOT
// applied by the detector's own un-letterboxing step (see detect.go):
// that step only corrects for the scale factor, matching a discrepancy
// present in the reference implementation this pipeline was built from.
func PreprocessYOLO(img DecodedImage) (data []float32, scaledW, scaledH, padLeft, padTop int, err error) {
	w, h := img.Dimensions.Width, img.Dimensions.Height
	if w <= 0 || h <= 0 {
		return nil, 0, 0, 0, 0, mlerr.Preprocess("cannot letterbox an image with zero width or height")
	}

	scale := float64(yoloInputSize) / float64(w)
	if alt := float64(yoloInputSize) / float64(h); alt < scale {
		scale = alt
	}

	scaledW = int(float64(w)*scale + 0.5)
	scaledH = int(float64(h)*scale + 0.5)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	if scaledW > yoloInputSize {
		scaledW = yoloInputSize
	}
	if scaledH > yoloInputSize {
		scaledH = yoloInputSize
	}

	padLeft = (yoloInputSize - scaledW) / 2
	padTop = (yoloInputSize - scaledH) / 2

	resized := imaging.Resize(rgbToImage(img), scaledW, scaledH, imaging.Linear)

	data = make([]float32, 3*yoloInputSize*yoloInputSize)
	fillValue := float32(letterboxFill) / 255.0
	for i := range data {
		data[i] = fillValue
	}

	writeCHWPlanes(data, resized, yoloInputSize, padLeft, padTop)

	return data, scaledW, scaledH, padLeft, padTop, nil
}

// PreprocessCLIP cover-scales img (so the shorter side fills 256, which may
// crop the longer side) via bilinear convolution resampling and
// center-crops to 256x256, returning CHW float32 data normalized to [0,1].
func PreprocessCLIP(img DecodedImage) ([]float32, error) {
	w, h := img.Dimensions.Width, img.Dimensions.Height
	if w <= 0 || h <= 0 {
		return nil, mlerr.Preprocess("cannot preprocess a CLIP input with zero width or height")
	}

	scale := float64(clipInputSize) / float64(w)
	if alt := float64(clipInputSize) / float64(h); alt > scale {
		scale = alt
	}

	scaledW := int(float64(w)*scale + 0.5)
	scaledH := int(float64(h)*scale + 0.5)
	if scaledW < clipInputSize {
		scaledW = clipInputSize
	}
	if scaledH < clipInputSize {
		scaledH = clipInputSize
	}

	resized := imaging.Resize(rgbToImage(img), scaledW, scaledH, imaging.Linear)

	cropLeft := (scaledW - clipInputSize) / 2
	cropTop := (scaledH - clipInputSize) / 2
	cropped := imaging.Crop(resized, image.Rect(cropLeft, cropTop, cropLeft+clipInputSize, cropTop+clipInputSize))

	data := make([]float32, 3*clipInputSize*clipInputSize)
	writeCHWPlanes(data, cropped, clipInputSize, 0, 0)

	return data, nil
}

// writeCHWPlanes writes src's pixels into dst's three CHW planes (each
// planeSize x planeSize), normalized to [0,1] and offset by (dstX, dstY).
func writeCHWPlanes(dst []float32, src *image.NRGBA, planeSize, dstX, dstY int) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	planeArea := planeSize * planeSize

	for y := 0; y < h; y++ {
		rowOff := src.PixOffset(b.Min.X, b.Min.Y+y)
		dy := dstY + y
		for x := 0; x < w; x++ {
			pix := src.Pix[rowOff+x*4 : rowOff+x*4+4]
			dx := dstX + x
			planeOff := dy*planeSize + dx
			dst[0*planeArea+planeOff] = float32(pix[0]) / 255.0
			dst[1*planeArea+planeOff] = float32(pix[1]) / 255.0
			dst[2*planeArea+planeOff] = float32(pix[2]) / 255.0
		}
	}
}
