package compose

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// rotation returns the source-to-destination affine transform that turns src
// counter-clockwise by degrees about its centre and places that centre at
// (dstCX, dstCY).
func rotation(degrees float64, srcCX, srcCY, dstCX, dstCY float64) f64.Aff3 {
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return f64.Aff3{
		cos, sin, dstCX - srcCX*cos - srcCY*sin,
		-sin, cos, dstCY + srcCX*sin - srcCY*cos,
	}
}

// rotateExpand rotates src and grows the canvas so no pixel is clipped. Areas
// outside the rotated source stay fully transparent.
func rotateExpand(src *image.RGBA, degrees float64) *image.RGBA {
	b := src.Bounds()
	if math.Mod(degrees, 360) == 0 {
		return cloneRGBA(src)
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	rad := degrees * math.Pi / 180
	cos, sin := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	nw := int(math.Ceil(w*cos + h*sin - 1e-9))
	nh := int(math.Ceil(w*sin + h*cos - 1e-9))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	s2d := rotation(degrees, w/2, h/2, float64(nw)/2, float64(nh)/2)
	xdraw.CatmullRom.Transform(dst, s2d, src, b, xdraw.Over, nil)
	return dst
}

// rotateInPlace rotates src about its centre keeping the canvas size, so
// content anchored on the canvas stays on the same canvas.
func rotateInPlace(src *image.RGBA, degrees float64) *image.RGBA {
	b := src.Bounds()
	if math.Mod(degrees, 360) == 0 {
		return cloneRGBA(src)
	}
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	dst := image.NewRGBA(b)
	xdraw.CatmullRom.Transform(dst, rotation(degrees, cx, cy, cx, cy), src, b, xdraw.Over, nil)
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
