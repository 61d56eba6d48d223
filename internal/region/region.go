// Package region converts hand landmarks into a padded pixel crop region.
package region

import (
	"fmt"
	"image"

	"github.com/ayusman/beabled/internal/detector"
	"gocv.io/x/gocv"
)

// PaddingKind selects how a landmark box is expanded before cropping.
type PaddingKind string

const (
	// PaddingFixed expands every side by a constant number of pixels.
	PaddingFixed PaddingKind = "fixed"
	// PaddingProportional expands each axis by a fraction of the box size.
	PaddingProportional PaddingKind = "proportional"
)

// Default padding amounts.
const (
	DefaultMarginPixels = 20
	DefaultMarginRatio  = 0.2
)

// Padding describes the margin added around the landmark box.
type Padding struct {
	Kind   PaddingKind
	Pixels int     // used by PaddingFixed
	Ratio  float64 // used by PaddingProportional
}

// FixedMargin returns a padding that adds px pixels on each side.
func FixedMargin(px int) Padding {
	return Padding{Kind: PaddingFixed, Pixels: px}
}

// ProportionalMargin returns a padding that adds ratio*width on the left and
// right and ratio*height on the top and bottom.
func ProportionalMargin(ratio float64) Padding {
	return Padding{Kind: PaddingProportional, Ratio: ratio}
}

// ParsePadding builds a Padding from its configuration name and amount.
// For "fixed" the amount is pixels, for "proportional" it is a ratio.
func ParsePadding(kind string, amount float64) (Padding, error) {
	switch PaddingKind(kind) {
	case PaddingFixed:
		if amount < 0 {
			return Padding{}, fmt.Errorf("fixed margin must not be negative: %v", amount)
		}
		return FixedMargin(int(amount)), nil
	case PaddingProportional:
		if amount < 0 {
			return Padding{}, fmt.Errorf("margin ratio must not be negative: %v", amount)
		}
		return ProportionalMargin(amount), nil
	default:
		return Padding{}, fmt.Errorf("unknown padding policy %q", kind)
	}
}

// margins returns the horizontal and vertical margin for a raw box.
// Proportional margins are derived from the unclipped box so that clipping
// one side never changes the margin applied to the other.
func (p Padding) margins(xMin, yMin, xMax, yMax int) (int, int) {
	switch p.Kind {
	case PaddingProportional:
		return int(p.Ratio * float64(xMax-xMin)), int(p.Ratio * float64(yMax-yMin))
	default:
		return p.Pixels, p.Pixels
	}
}

// BoundingBox is a pixel-space crop region. Max edges are exclusive.
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() int { return b.XMax - b.XMin }

// Height returns the box height in pixels.
func (b BoundingBox) Height() int { return b.YMax - b.YMin }

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool { return b.Width() <= 0 || b.Height() <= 0 }

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Extract computes the padded, clipped crop region for a hand in a frame of
// the given size. It returns false when there is no usable region: no hand,
// an invalid frame size, or a box that has no area after clipping.
func Extract(width, height int, hand *detector.HandLandmarks, pad Padding) (BoundingBox, bool) {
	if hand == nil || width <= 0 || height <= 0 {
		return BoundingBox{}, false
	}

	minX, minY, maxX, maxY := hand.Extent()

	xMin := int(minX * float64(width))
	yMin := int(minY * float64(height))
	xMax := int(maxX * float64(width))
	yMax := int(maxY * float64(height))

	mx, my := pad.margins(xMin, yMin, xMax, yMax)
	xMin -= mx
	yMin -= my
	xMax += mx
	yMax += my

	box := BoundingBox{
		XMin: max(xMin, 0),
		YMin: max(yMin, 0),
		XMax: min(xMax, width),
		YMax: min(yMax, height),
	}
	if box.Empty() {
		return BoundingBox{}, false
	}

	return box, true
}

// Crop returns the sub-image of frame covered by box. The returned Mat shares
// memory with frame and must be closed by the caller. It returns false when
// the crop would be empty.
func Crop(frame gocv.Mat, box BoundingBox) (gocv.Mat, bool) {
	if frame.Empty() {
		return gocv.Mat{}, false
	}

	r := box.Rect().Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if r.Empty() {
		return gocv.Mat{}, false
	}

	return frame.Region(r), true
}
