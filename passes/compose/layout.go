package compose

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Point is a pixel offset from the template's top-left corner.
type Point struct {
	X int `yaml:"x" toml:"x"`
	Y int `yaml:"y" toml:"y"`
}

// TextStyle places one line of text. Angle is in degrees, counter-clockwise.
type TextStyle struct {
	Anchor Point   `yaml:"anchor" toml:"anchor"`
	Angle  float64 `yaml:"angle" toml:"angle"`
	Size   float64 `yaml:"size" toml:"size"`
	Color  string  `yaml:"color" toml:"color"`
}

// Layout holds the per-template calibration. Positions are absolute and are
// not scaled with the template; a new template needs a new layout.
type Layout struct {
	AvatarSize   int       `yaml:"avatar_size" toml:"avatar_size"`
	AvatarAnchor Point     `yaml:"avatar_anchor" toml:"avatar_anchor"`
	AvatarAngle  float64   `yaml:"avatar_angle" toml:"avatar_angle"`
	Role         TextStyle `yaml:"role" toml:"role"`
	Name         TextStyle `yaml:"name" toml:"name"`
}

// DefaultLayout is calibrated for the deployed pass template.
func DefaultLayout() Layout {
	return Layout{
		AvatarSize:   200,
		AvatarAnchor: Point{X: 250, Y: 428},
		AvatarAngle:  10,
		Role:         TextStyle{Anchor: Point{X: 480, Y: 560}, Angle: 9, Size: 28, Color: "#000000"},
		Name:         TextStyle{Anchor: Point{X: 350, Y: 635}, Angle: 10, Size: 44, Color: "#000000"},
	}
}

// WithDefaults fills zero fields from DefaultLayout.
func (l Layout) WithDefaults() Layout {
	def := DefaultLayout()
	if l.AvatarSize <= 0 {
		l.AvatarSize = def.AvatarSize
	}
	if l.Role.Size <= 0 {
		l.Role.Size = def.Role.Size
	}
	if l.Name.Size <= 0 {
		l.Name.Size = def.Name.Size
	}
	if strings.TrimSpace(l.Role.Color) == "" {
		l.Role.Color = def.Role.Color
	}
	if strings.TrimSpace(l.Name.Color) == "" {
		l.Name.Color = def.Name.Color
	}
	return l
}

// ParseColor accepts #RRGGBB or #RRGGBBAA.
func ParseColor(raw string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("color %q must be #RRGGBB or #RRGGBBAA", raw)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: %w", raw, err)
	}
	return color.NRGBA{
		R: uint8(value >> 24),
		G: uint8(value >> 16),
		B: uint8(value >> 8),
		A: uint8(value),
	}, nil
}
