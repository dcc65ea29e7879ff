package capture_test

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/article-capture/internal/capture"
	"github.com/user/article-capture/internal/capture/capturetest"
)

func TestDensityScore(t *testing.T) {
	flat, err := capture.DensityFromBytes(capturetest.FlatPNG(64, 64))
	require.NoError(t, err)
	assert.Zero(t, flat)

	noise, err := capture.DensityFromBytes(capturetest.NoisePNG(64, 64))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, noise, 0.001)

	// Two halves at 100 and 200 have a standard deviation of 50.
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = 100
		if i%2 == 0 {
			img.Pix[i] = 200
		}
	}
	assert.InDelta(t, 0.5, capture.DensityScore(img), 1e-9)

	assert.Zero(t, capture.DensityScore(image.NewGray(image.Rect(0, 0, 0, 0))))

	_, err = capture.DensityFromBytes([]byte("garbage"))
	assert.Error(t, err)
}

func TestSetPNGDPI(t *testing.T) {
	src := capturetest.NoisePNG(32, 32)
	assert.Zero(t, capture.PNGDPI(src))

	tagged, err := capture.SetPNGDPI(src, 192)
	require.NoError(t, err)
	assert.Equal(t, 192, capture.PNGDPI(tagged))

	same, err := capture.SetPNGDPI(tagged, 192)
	require.NoError(t, err)
	assert.Equal(t, tagged, same, "already tagged data is left alone")

	retagged, err := capture.SetPNGDPI(tagged, 96)
	require.NoError(t, err)
	assert.Equal(t, 96, capture.PNGDPI(retagged))
	assert.Equal(t, len(tagged), len(retagged), "existing pHYs chunk is replaced, not duplicated")

	img, err := png.Decode(bytes.NewReader(retagged))
	require.NoError(t, err, "tagged file stays a valid PNG")
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestSetPNGDPIRejectsBadInput(t *testing.T) {
	_, err := capture.SetPNGDPI([]byte("GIF89a"), 96)
	assert.ErrorContains(t, err, "not a PNG")

	_, err = capture.SetPNGDPI(capturetest.NoisePNG(4, 4), 0)
	assert.Error(t, err)

	src := capturetest.NoisePNG(4, 4)
	_, err = capture.SetPNGDPI(src[:20], 96)
	assert.ErrorContains(t, err, "truncated")
}
