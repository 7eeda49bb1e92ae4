package vision

import (
	"encoding/base64"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataURL(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeDataURL("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	for _, bad := range []string{"", "data:image/png,abc", "data:image/png;base64", "!!!"} {
		_, err := DecodeDataURL(bad)
		assert.ErrorIs(t, err, ErrInvalidImage, bad)
	}
}

func TestTopLabelsSortsBySoftmax(t *testing.T) {
	scores := topLabels([]float32{0.1, 3, 1}, []string{"cat", "cell", "leaf"}, 2)
	require.Len(t, scores, 2)
	assert.Equal(t, "cell", scores[0].Label)
	assert.Equal(t, "leaf", scores[1].Label)
	assert.Greater(t, scores[0].Score, scores[1].Score)

	var sum float32
	for _, p := range softmax([]float32{1, 2, 3}) {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestTopLabelsFallsBackToClassIndex(t *testing.T) {
	scores := topLabels([]float32{5}, nil, 3)
	require.Len(t, scores, 1)
	assert.Equal(t, "class 0", scores[0].Label)
}

func TestFormatLabels(t *testing.T) {
	assert.Equal(t, "", formatLabels(nil))
	assert.Equal(t, "Image likely shows: microscope (80%), slide (15%)",
		formatLabels([]LabelScore{{Label: "microscope", Score: 0.8}, {Label: "slide", Score: 0.15}}))
}

func TestComposeDescription(t *testing.T) {
	assert.Equal(t, "Image shows: diagram, cell. Text in image: Mitochondria ATP",
		composeDescription([]string{"diagram", "cell"}, "Mitochondria\nATP"))
	assert.Equal(t, "", composeDescription(nil, "  "))
}

func TestPreprocessProducesNormalizedNCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	out := preprocess(img)
	require.Len(t, out, 3*inputSide*inputSide)
	assert.InDelta(t, (1-imagenetMean[0])/imagenetStd[0], out[0], 1e-3)
	assert.InDelta(t, (1-imagenetMean[2])/imagenetStd[2], out[len(out)-1], 1e-3)
}
