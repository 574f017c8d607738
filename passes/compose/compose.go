package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode is returned when avatar or template bytes are not a supported image.
var ErrImageDecode = errors.New("image decode failed")

// Config locates the compositor assets.
type Config struct {
	TemplatePath string `yaml:"template" toml:"template"`
	RoleFontPath string `yaml:"role_font" toml:"role_font"`
	NameFontPath string `yaml:"name_font" toml:"name_font"`
	Layout       Layout `yaml:"layout" toml:"layout"`
}

// Compositor renders pass images from a fixed template. It is safe for
// concurrent use.
type Compositor struct {
	template  *image.RGBA
	layout    Layout
	roleColor color.NRGBA
	nameColor color.NRGBA
	roleFont  typeface
	nameFont  typeface
}

// Load reads the template and fonts from disk. Font failures are logged and
// replaced by the built-in face; a missing template is fatal.
func Load(cfg Config, logger *slog.Logger) (*Compositor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := os.ReadFile(cfg.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	tmpl, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: template: %w", ErrImageDecode, err)
	}
	roleFont, err := loadTypeface(cfg.RoleFontPath)
	if err != nil {
		logger.Warn("role font load failed, using default font", slog.String("path", cfg.RoleFontPath), slog.Any("error", err))
	}
	nameFont, err := loadTypeface(cfg.NameFontPath)
	if err != nil {
		logger.Warn("name font load failed, using default font", slog.String("path", cfg.NameFontPath), slog.Any("error", err))
	}
	return newCompositor(tmpl, roleFont, nameFont, cfg.Layout)
}

// New builds a compositor from an in-memory template using the built-in face
// for both text lines.
func New(tmpl image.Image, layout Layout) (*Compositor, error) {
	return newCompositor(tmpl, typeface{}, typeface{}, layout)
}

func newCompositor(tmpl image.Image, roleFont, nameFont typeface, layout Layout) (*Compositor, error) {
	if tmpl == nil {
		return nil, errors.New("template required")
	}
	layout = layout.WithDefaults()
	roleColor, err := ParseColor(layout.Role.Color)
	if err != nil {
		return nil, fmt.Errorf("role text: %w", err)
	}
	nameColor, err := ParseColor(layout.Name.Color)
	if err != nil {
		return nil, fmt.Errorf("name text: %w", err)
	}
	b := tmpl.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), tmpl, b.Min, draw.Src)
	return &Compositor{
		template:  base,
		layout:    layout,
		roleColor: roleColor,
		nameColor: nameColor,
		roleFont:  roleFont,
		nameFont:  nameFont,
	}, nil
}

// Layout returns the effective layout.
func (c *Compositor) Layout() Layout { return c.layout }

// Render composes avatar, role line and name line onto a copy of the template
// and returns PNG bytes.
func (c *Compositor) Render(avatar []byte, roleText, nameText string) ([]byte, error) {
	img, err := c.Compose(avatar, roleText, nameText)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Compose is Render without the final encoding step.
func (c *Compositor) Compose(avatar []byte, roleText, nameText string) (*image.RGBA, error) {
	src, err := decodeAvatar(avatar)
	if err != nil {
		return nil, err
	}
	base := cloneRGBA(c.template)

	tilted := rotateExpand(resize(src, c.layout.AvatarSize), c.layout.AvatarAngle)
	anchor := image.Pt(c.layout.AvatarAnchor.X, c.layout.AvatarAnchor.Y)
	draw.Draw(base, tilted.Bounds().Add(anchor), tilted, image.Point{}, draw.Over)

	if err := c.drawText(base, c.roleFont, c.layout.Role, c.roleColor, roleText); err != nil {
		return nil, fmt.Errorf("role text: %w", err)
	}
	if err := c.drawText(base, c.nameFont, c.layout.Name, c.nameColor, nameText); err != nil {
		return nil, fmt.Errorf("name text: %w", err)
	}
	return base, nil
}

func decodeAvatar(raw []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: avatar: %w", ErrImageDecode, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: avatar has no pixels", ErrImageDecode)
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

func resize(src *image.RGBA, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// drawText renders one line on a transparent canvas the size of the template,
// rotates the canvas without expanding it and blends it over base.
func (c *Compositor) drawText(base *image.RGBA, tf typeface, style TextStyle, col color.NRGBA, text string) error {
	if text == "" {
		return nil
	}
	face, release, err := tf.face(style.Size)
	if err != nil {
		return err
	}
	defer release()

	layer := image.NewRGBA(base.Bounds())
	ascent := face.Metrics().Ascent
	drawer := font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(style.Anchor.X, style.Anchor.Y).Add(fixed.Point26_6{Y: ascent}),
	}
	drawer.DrawString(text)

	rotated := rotateInPlace(layer, style.Angle)
	draw.Draw(base, base.Bounds(), rotated, image.Point{}, draw.Over)
	return nil
}
