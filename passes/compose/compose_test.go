package compose

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var templateColor = color.RGBA{R: 240, G: 230, B: 200, A: 255}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()
	c, err := New(solid(900, 800, templateColor), DefaultLayout())
	require.NoError(t, err)
	return c
}

func TestRenderIsDeterministic(t *testing.T) {
	c := newTestCompositor(t)
	avatar := encodePNG(t, solid(64, 64, color.RGBA{R: 200, A: 255}))

	first, err := c.Render(avatar, "OG | ID: #1", "fugz")
	require.NoError(t, err)
	second, err := c.Render(avatar, "OG | ID: #1", "fugz")
	require.NoError(t, err)
	require.True(t, bytes.Equal(first, second), "renders differ")

	decoded, err := png.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 900, 800), decoded.Bounds())
}

func TestAvatarAlphaMasksRotatedCorners(t *testing.T) {
	c := newTestCompositor(t)
	avatar := encodePNG(t, solid(64, 64, color.RGBA{R: 200, A: 255}))

	img, err := c.Compose(avatar, "", "")
	require.NoError(t, err)

	anchor := c.Layout().AvatarAnchor
	// The expanded canvas corner lies outside the rotated square.
	require.Equal(t, templateColor, img.RGBAAt(anchor.X+1, anchor.Y+1))
	// The centre of the tilted avatar is opaque avatar colour.
	centre := img.RGBAAt(anchor.X+116, anchor.Y+116)
	require.InDelta(t, 200, int(centre.R), 2)
	require.LessOrEqual(t, int(centre.G), 2)
	// Far away from every layer the template is untouched.
	require.Equal(t, templateColor, img.RGBAAt(5, 5))
}

func TestTextLayersChangeOutput(t *testing.T) {
	c := newTestCompositor(t)
	avatar := encodePNG(t, solid(32, 32, color.RGBA{B: 200, A: 255}))

	plain, err := c.Render(avatar, "", "")
	require.NoError(t, err)
	withRole, err := c.Render(avatar, "WL | ID: #7", "")
	require.NoError(t, err)
	withBoth, err := c.Render(avatar, "WL | ID: #7", "wazoo")
	require.NoError(t, err)
	require.False(t, bytes.Equal(plain, withRole))
	require.False(t, bytes.Equal(withRole, withBoth))
}

func TestRenderRejectsUndecodableAvatar(t *testing.T) {
	c := newTestCompositor(t)
	_, err := c.Render([]byte("definitely not an image"), "OG", "fugz")
	require.True(t, errors.Is(err, ErrImageDecode), "got %v", err)
}

func TestRotateExpandGrowsCanvas(t *testing.T) {
	src := solid(200, 200, color.RGBA{G: 255, A: 255})
	same := rotateExpand(src, 0)
	require.Equal(t, src.Bounds(), same.Bounds())

	tilted := rotateExpand(src, 10)
	require.Equal(t, image.Rect(0, 0, 232, 232), tilted.Bounds())
	require.Zero(t, tilted.RGBAAt(0, 0).A)
	require.GreaterOrEqual(t, int(tilted.RGBAAt(116, 116).A), 250)

	quarter := rotateExpand(solid(100, 40, color.RGBA{A: 255}), 90)
	require.Equal(t, image.Rect(0, 0, 40, 100), quarter.Bounds())
}

func TestRotateInPlaceKeepsCanvas(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 200))
	draw.Draw(src, image.Rect(140, 90, 160, 110), image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	rotated := rotateInPlace(src, 9)
	require.Equal(t, src.Bounds(), rotated.Bounds())
	require.GreaterOrEqual(t, int(rotated.RGBAAt(150, 100).A), 250)
	require.Zero(t, rotated.RGBAAt(10, 10).A)
}

func TestLoadFallsBackToDefaultFont(t *testing.T) {
	dir := t.TempDir()
	templatePath := filepath.Join(dir, "base.png")
	require.NoError(t, os.WriteFile(templatePath, encodePNG(t, solid(900, 800, templateColor)), 0o600))
	badFont := filepath.Join(dir, "broken.ttf")
	require.NoError(t, os.WriteFile(badFont, []byte("not a font"), 0o600))

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	c, err := Load(Config{
		TemplatePath: templatePath,
		RoleFontPath: badFont,
		NameFontPath: filepath.Join(dir, "missing.ttf"),
	}, logger)
	require.NoError(t, err)
	require.Contains(t, logs.String(), "role font load failed")
	require.Contains(t, logs.String(), "name font load failed")

	out, err := c.Render(encodePNG(t, solid(10, 10, color.White)), "Member | ID: #3", "someone")
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestLoadRequiresTemplate(t *testing.T) {
	_, err := Load(Config{TemplatePath: filepath.Join(t.TempDir(), "missing.jpg")}, nil)
	require.Error(t, err)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#102030")
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, c)
	c, err = ParseColor("10203080")
	require.NoError(t, err)
	require.Equal(t, uint8(0x80), c.A)
	_, err = ParseColor("#12")
	require.Error(t, err)
}
