package vision

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/ente-io/ml-core/internal/mlerr"
)

const (
	regularPadding            = 0.4
	minimumPadding            = 0.1
	faceThumbnailMinDimension = 512
	faceThumbnailJPEGQuality  = 90
)

// GenerateFaceThumbnail crops img around box (padded) and resizes it so
// its shorter side is faceThumbnailMinDimension, then encodes JPEG at
// quality 90.
func GenerateFaceThumbnail(img DecodedImage, box FaceBox) ([]byte, error) {
	if err := validateFaceBox(box); err != nil {
		return nil, err
	}
	if want := img.Dimensions.Width * img.Dimensions.Height * 3; len(img.RGB) != want {
		return nil, mlerr.Postprocess("image buffer has %d bytes, expected %d for %dx%d RGB", len(img.RGB), want, img.Dimensions.Width, img.Dimensions.Height)
	}

	cropX, cropY, cropW, cropH, err := computeCropRect(img.Dimensions.Width, img.Dimensions.Height, box)
	if err != nil {
		return nil, err
	}

	src := rgbToImage(img)
	cropped := imaging.Crop(src, image.Rect(cropX, cropY, cropX+cropW, cropY+cropH))

	targetW, targetH := scaledMinSide(cropW, cropH, faceThumbnailMinDimension)
	ratio := maxF(float64(cropW)/float64(targetW), float64(cropH)/float64(targetH))
	filter := chooseResizeFilter(ratio)

	resized := imaging.Resize(cropped, targetW, targetH, filter)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: faceThumbnailJPEGQuality}); err != nil {
		return nil, mlerr.WrapPostprocess(err, "encode face thumbnail JPEG")
	}
	return buf.Bytes(), nil
}

func validateFaceBox(box FaceBox) error {
	if !isFinite(box.X) || !isFinite(box.Y) || !isFinite(box.Width) || !isFinite(box.Height) {
		return mlerr.InvalidRequest("face box contains non-finite values")
	}
	if box.Width <= 0 || box.Height <= 0 {
		return mlerr.InvalidRequest("face box width and height must be greater than 0")
	}
	return nil
}

func isFinite(v float32) bool {
	return v == v && v > -1e38 && v < 1e38
}

// computeCropRect pads box by regularPadding on each axis (proportional to
// the box's own width/height), falling back to minimumPadding and then to
// a hard image-bounds clamp if the regular padding would run off the
// image. Matches the reference scenario: a 100x80 image with box
// (0.25,0.25,0.5,0.5) yields crop (5,4,90,72).
func computeCropRect(imgW, imgH int, box FaceBox) (x, y, w, h int, err error) {
	boxX := float64(box.X) * float64(imgW)
	boxY := float64(box.Y) * float64(imgH)
	boxW := float64(box.Width) * float64(imgW)
	boxH := float64(box.Height) * float64(imgH)

	tryPadding := func(padding float64) (float64, float64, float64, float64) {
		padW := padding * boxW
		padH := padding * boxH
		return boxX - padW, boxY - padH, boxW + 2*padW, boxH + 2*padH
	}

	fits := func(cx, cy, cw, ch float64) bool {
		return cx >= 0 && cy >= 0 && cx+cw <= float64(imgW) && cy+ch <= float64(imgH)
	}

	cx, cy, cw, ch := tryPadding(regularPadding)
	if !fits(cx, cy, cw, ch) {
		cx, cy, cw, ch = tryPadding(minimumPadding)
	}
	if !fits(cx, cy, cw, ch) {
		if cx < 0 {
			cx = 0
		}
		if cy < 0 {
			cy = 0
		}
		if cx+cw > float64(imgW) {
			cw = float64(imgW) - cx
		}
		if cy+ch > float64(imgH) {
			ch = float64(imgH) - cy
		}
	}

	if cw <= 0 || ch <= 0 {
		return 0, 0, 0, 0, mlerr.Preprocess("computed crop rect has zero or negative size for box %+v on a %dx%d image", box, imgW, imgH)
	}

	return int(cx), int(cy), int(cw + 0.5), int(ch + 0.5), nil
}

func scaledMinSide(w, h, minSide int) (int, int) {
	if w <= h {
		scale := float64(minSide) / float64(w)
		return minSide, int(float64(h)*scale + 0.5)
	}
	scale := float64(minSide) / float64(h)
	return int(float64(w)*scale + 0.5), minSide
}

// chooseResizeFilter picks a resampling filter by how aggressive the
// resize ratio is: CatmullRom for upscaling, Lanczos3 for a large
// downscale, MitchellNetravali for a moderate one, Bilinear near 1:1.
func chooseResizeFilter(ratio float64) imaging.ResampleFilter {
	switch {
	case ratio < 1:
		return imaging.CatmullRom
	case ratio > 2:
		return imaging.Lanczos
	case ratio > 1.2:
		return imaging.MitchellNetravali
	default:
		return imaging.Linear
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func rgbToImage(img DecodedImage) *image.RGBA {
	w, h := img.Dimensions.Width, img.Dimensions.Height
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		src := img.RGB[i*3 : i*3+3]
		dst.Pix[i*4+0] = src[0]
		dst.Pix[i*4+1] = src[1]
		dst.Pix[i*4+2] = src[2]
		dst.Pix[i*4+3] = 255
	}
	return dst
}
