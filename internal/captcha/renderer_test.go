package captcha

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer(0, 0)

	out, err := r.Render("AB12")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, img.Bounds().Dx())
	assert.Equal(t, DefaultHeight, img.Bounds().Dy())
}

func TestRenderer_EmptyText(t *testing.T) {
	_, err := NewRenderer(100, 40).Render("")
	assert.Error(t, err)
}

func TestDataURL(t *testing.T) {
	url := DataURL([]byte{0x89, 'P', 'N', 'G'})
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}
