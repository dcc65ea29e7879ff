package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// DensityScore is a cheap proxy for how much readable content an image holds:
// the standard deviation of its grayscale intensities divided by 100, capped
// at 1. A blank or single-colour capture scores 0.
func DensityScore(img image.Image) float64 {
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0
	}

	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			sum += g
			sumSq += g * g
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Min(1, math.Sqrt(variance)/100)
}

// DensityFromBytes decodes an encoded image and scores it.
func DensityFromBytes(data []byte) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return DensityScore(img), nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// SetPNGDPI rewrites the pHYs chunk of a PNG so viewers render it at dpi.
// Any existing pHYs chunk is replaced; pixel data is untouched. Data already
// tagged with dpi is returned as is.
func SetPNGDPI(data []byte, dpi int) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.New("not a PNG")
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid dpi %d", dpi)
	}
	if PNGDPI(data) == dpi {
		return data, nil
	}

	ppm := uint32(math.Round(float64(dpi) / 0.0254))
	phys := make([]byte, 9)
	binary.BigEndian.PutUint32(phys[0:4], ppm)
	binary.BigEndian.PutUint32(phys[4:8], ppm)
	phys[8] = 1 // unit: metre

	out := bytes.NewBuffer(make([]byte, 0, len(data)+21))
	out.Write(pngSignature)

	rest := data[len(pngSignature):]
	inserted := false
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, errors.New("truncated PNG chunk")
		}
		length := binary.BigEndian.Uint32(rest[0:4])
		if uint64(length)+12 > uint64(len(rest)) {
			return nil, errors.New("truncated PNG chunk")
		}
		typ := string(rest[4:8])
		chunk := rest[:12+length]
		rest = rest[12+length:]

		if typ == "pHYs" {
			continue
		}
		out.Write(chunk)
		if typ == "IHDR" && !inserted {
			writePNGChunk(out, "pHYs", phys)
			inserted = true
		}
	}
	if !inserted {
		return nil, errors.New("PNG has no IHDR chunk")
	}
	return out.Bytes(), nil
}

func writePNGChunk(w *bytes.Buffer, typ string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	copy(hdr[4:8], typ)
	w.Write(hdr[:])
	w.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:8])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}

// PNGDPI reads the DPI stored in a PNG pHYs chunk, or 0 when absent.
func PNGDPI(data []byte) int {
	if !bytes.HasPrefix(data, pngSignature) {
		return 0
	}
	rest := data[len(pngSignature):]
	for len(rest) >= 12 {
		length := binary.BigEndian.Uint32(rest[0:4])
		if uint64(length)+12 > uint64(len(rest)) {
			return 0
		}
		if string(rest[4:8]) == "pHYs" && length == 9 && rest[16] == 1 {
			ppm := binary.BigEndian.Uint32(rest[8:12])
			return int(math.Round(float64(ppm) * 0.0254))
		}
		rest = rest[12+length:]
	}
	return 0
}
