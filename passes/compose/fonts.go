package compose

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// ErrFontLoad reports a font that could not be read or parsed. Callers degrade
// to the built-in face instead of failing.
var ErrFontLoad = errors.New("font unavailable")

// typeface produces faces at a given pixel size. A nil font means the built-in
// bitmap face.
type typeface struct {
	font *opentype.Font
}

// loadTypeface reads and parses an OpenType/TrueType file.
func loadTypeface(path string) (typeface, error) {
	if path == "" {
		return typeface{}, fmt.Errorf("%w: no path configured", ErrFontLoad)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return typeface{}, fmt.Errorf("%w: %w", ErrFontLoad, err)
	}
	parsed, err := opentype.Parse(raw)
	if err != nil {
		return typeface{}, fmt.Errorf("%w: parse %s: %w", ErrFontLoad, path, err)
	}
	return typeface{font: parsed}, nil
}

// face returns a fresh face; opentype faces cache glyph state and must not be
// shared across goroutines.
func (t typeface) face(size float64) (font.Face, func(), error) {
	if t.font == nil {
		return basicfont.Face7x13, func() {}, nil
	}
	face, err := opentype.NewFace(t.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, nil, err
	}
	return face, func() { _ = face.Close() }, nil
}
