package vision

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	_ "github.com/deepteams/webp"

	"github.com/ente-io/ml-core/internal/mlerr"
	"github.com/ente-io/ml-core/internal/observability"
)

const (
	maxInputBytes     = 128 * 1024 * 1024
	maxDecodedPixels  = 256_000_000
	maxTempSpoolBytes = 256 * 1024 * 1024
)

// DecodeImage reads the file at path, guards it against oversized or
// pathological input, decodes it to RGB8, and applies the image's
// orientation (HEIF/HEIC container transform, or EXIF tag for everything
// else) so the returned pixels are upright.
func DecodeImage(path string) (DecodedImage, error) {
	img, err := decodeImage(path)
	if err != nil {
		observability.ImagesDecoded.WithLabelValues("error").Inc()
		return DecodedImage{}, err
	}
	observability.ImagesDecoded.WithLabelValues("ok").Inc()
	return img, nil
}

func decodeImage(path string) (DecodedImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return DecodedImage{}, mlerr.WrapDecode(err, "stat image file %q", path)
	}
	if info.Size() > maxInputBytes {
		return DecodedImage{}, mlerr.Decode("image file %q is %d bytes, exceeds the %d byte guardrail", path, info.Size(), maxInputBytes)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return DecodedImage{}, mlerr.WrapDecode(err, "read image file %q", path)
	}

	isHEIF := pathExtensionIsHEIF(path)

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return DecodedImage{}, mlerr.WrapDecode(err, "decode image %q (guessed format after HEIF check: %s)", path, format)
	}

	bounds := img.Bounds()
	pixels := int64(bounds.Dx()) * int64(bounds.Dy())
	if pixels > maxDecodedPixels {
		return DecodedImage{}, mlerr.Decode("image %q decodes to %d pixels, exceeds the %d pixel guardrail", path, pixels, maxDecodedPixels)
	}
	if pixels*3 > maxTempSpoolBytes {
		return DecodedImage{}, mlerr.Decode("image %q would require %d bytes of RGB spool, exceeds the %d byte guardrail", path, pixels*3, maxTempSpoolBytes)
	}

	oriented := orientImage(img, raw, isHEIF)
	rgb := toRGB8(oriented)

	b := rgb.Bounds()
	return DecodedImage{
		Dimensions: Dimensions{Width: b.Dx(), Height: b.Dy()},
		RGB:        rgb.Pix,
	}, nil
}

func pathExtensionIsHEIF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif":
		return true
	default:
		return false
	}
}

// orientImage applies whichever orientation source takes priority: the
// HEIF/HEIC container's own irot transform box when present, else the
// standard EXIF orientation tag.
func orientImage(img image.Image, raw []byte, isHEIF bool) image.Image {
	if isHEIF {
		if quarterTurns, ok := heifRotationQuarterTurns(raw); ok {
			return rotateQuarterTurnsCW(img, quarterTurns)
		}
	}

	orientation := readEXIFOrientation(raw)
	return applyEXIFOrientation(img, orientation)
}

func readEXIFOrientation(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyEXIFOrientation maps EXIF orientation values 1-8 onto the
// corresponding composition of flips and rotations.
func applyEXIFOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipH(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipV(img)
	case 5:
		return rotate270(flipH(img))
	case 6:
		return rotate90(img)
	case 7:
		return rotate90(flipH(img))
	case 8:
		return rotate270(img)
	default:
		return img
	}
}

func rotateQuarterTurnsCW(img image.Image, quarterTurns int) image.Image {
	switch ((quarterTurns % 4) + 4) % 4 {
	case 1:
		return rotate90(img)
	case 2:
		return rotate180(img)
	case 3:
		return rotate270(img)
	default:
		return img
	}
}

func toRGB8(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == rgba.Rect.Dx()*4 {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// --- minimal geometric transforms (avoid pulling in a general affine lib
// for four fixed rotations and two fixed flips) ---

func flipH(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func flipV(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, b.Dy()-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dy()-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, b.Dy()-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate270(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(y, b.Dx()-1-x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// --- HEIF/HEIC ISO-BMFF box walk, narrowed to the primary item's irot
// rotation property. Mirrors the box structure of a real HEIF metadata
// reader, trimmed to the one property this pipeline needs. ---

type fourCC [4]byte

var (
	fccFtyp = fourCC{'f', 't', 'y', 'p'}
	fccMeta = fourCC{'m', 'e', 't', 'a'}
	fccIprp = fourCC{'i', 'p', 'r', 'p'}
	fccIpco = fourCC{'i', 'p', 'c', 'o'}
	fccIpma = fourCC{'i', 'p', 'm', 'a'}
	fccIspe = fourCC{'i', 's', 'p', 'e'}
	fccIrot = fourCC{'i', 'r', 'o', 't'}
	fccPitm = fourCC{'p', 'i', 't', 'm'}
)

type boxReader struct {
	r   *bufio.Reader
	pos int64
	eof bool
}

func newBoxReader(raw []byte) *boxReader {
	return &boxReader{r: bufio.NewReader(bytes.NewReader(raw))}
}

func (b *boxReader) read(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		b.eof = true
		return nil
	}
	b.pos += int64(n)
	return buf
}

func (b *boxReader) u8() uint8   { v := b.read(1); if v == nil { return 0 }; return v[0] }
func (b *boxReader) u16() uint16 { v := b.read(2); if v == nil { return 0 }; return binary.BigEndian.Uint16(v) }
func (b *boxReader) u32() uint32 { v := b.read(4); if v == nil { return 0 }; return binary.BigEndian.Uint32(v) }

func (b *boxReader) skip(n int64) {
	if n <= 0 {
		return
	}
	if _, err := io.CopyN(io.Discard, b.r, n); err != nil {
		b.eof = true
		return
	}
	b.pos += n
}

// readBoxHeader returns the box's start position, its total size (header
// included; 0 means "extends to EOF"), and its four-character type.
func (b *boxReader) readBoxHeader() (start int64, size uint64, typ fourCC) {
	start = b.pos
	sz := b.u32()
	tb := b.read(4)
	if tb != nil {
		copy(typ[:], tb)
	}
	size = uint64(sz)
	if sz == 1 {
		size = binary.BigEndian.Uint64(b.read(8))
	}
	return
}

// heifRotationQuarterTurns walks ftyp/meta/iprp/ipco/ipma/pitm to find the
// number of clockwise quarter turns the primary item's irot property
// specifies. ok is false when no irot property is associated with the
// primary item (or the file isn't a well-formed HEIF container), meaning
// the caller should fall back to EXIF.
func heifRotationQuarterTurns(raw []byte) (quarterTurns int, ok bool) {
	defer func() { recover() }() // malformed boxes degrade to "no transform found"

	b := newBoxReader(raw)

	ftypStart, ftypSize, ftypType := b.readBoxHeader()
	if b.eof || ftypType != fccFtyp {
		return 0, false
	}
	if ftypSize > 0 {
		b.skip(int64(ftypSize) - (b.pos - ftypStart))
	}

	var metaStart int64
	var metaSize uint64
	for {
		start, size, typ := b.readBoxHeader()
		if b.eof {
			return 0, false
		}
		if typ == fccMeta {
			metaStart, metaSize = start, size
			break
		}
		if size == 0 {
			return 0, false
		}
		b.skip(start + int64(size) - b.pos)
	}
	b.skip(4) // meta FullBox version+flags

	metaEnd := int64(1) << 62 // unbounded (extends to EOF) sentinel
	if metaSize != 0 {
		metaEnd = metaStart + int64(metaSize)
	}

	var primaryItemID uint32
	type ipcoProp struct {
		isIspe bool
		isIrot bool
		angle  uint8
	}
	var props []ipcoProp
	var primaryIdx []int

	for b.pos+8 <= metaEnd {
		innerStart, innerSize, innerType := b.readBoxHeader()
		if b.eof || innerSize == 0 {
			break
		}
		innerEnd := innerStart + int64(innerSize)

		switch innerType {
		case fccPitm:
			vf := b.u32()
			if vf>>24 == 0 {
				primaryItemID = uint32(b.u16())
			} else {
				primaryItemID = b.u32()
			}
		case fccIprp:
			iprpEnd := innerEnd
			for b.pos+8 <= iprpEnd {
				childStart, childSize, childType := b.readBoxHeader()
				if b.eof || childSize == 0 {
					break
				}
				childEnd := childStart + int64(childSize)
				switch childType {
				case fccIpco:
					for b.pos+8 <= childEnd {
						propStart, propSize, propType := b.readBoxHeader()
						if b.eof || propSize == 0 {
							break
						}
						propEnd := propStart + int64(propSize)
						var p ipcoProp
						switch propType {
						case fccIspe:
							b.skip(4)
							b.u32()
							b.u32()
							p = ipcoProp{isIspe: true}
						case fccIrot:
							p = ipcoProp{isIrot: true, angle: b.u8()}
						}
						props = append(props, p)
						b.skip(propEnd - b.pos)
					}
				case fccIpma:
					vf := b.u32()
					version := uint8(vf >> 24)
					flags := vf & 0xFFFFFF
					entryCount := b.u32()
					for i := uint32(0); i < entryCount && !b.eof; i++ {
						var itemID uint32
						if version < 1 {
							itemID = uint32(b.u16())
						} else {
							itemID = b.u32()
						}
						assocCount := b.u8()
						for j := uint8(0); j < assocCount; j++ {
							var idx int
							if flags&1 != 0 {
								idx = int(b.u16() & 0x7FFF)
							} else {
								idx = int(b.u8() & 0x7F)
							}
							if itemID == primaryItemID && primaryItemID != 0 {
								primaryIdx = append(primaryIdx, idx)
							}
						}
					}
				}
				b.skip(childEnd - b.pos)
			}
		}
		b.skip(innerEnd - b.pos)
	}

	for _, idx := range primaryIdx {
		if idx < 1 || idx > len(props) {
			continue
		}
		if p := props[idx-1]; p.isIrot {
			return int(p.angle & 0x3), true
		}
	}
	return 0, false
}
