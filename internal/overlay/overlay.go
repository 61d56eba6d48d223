// Package overlay draws the caption display onto a video frame: the hand
// box, the landmark skeleton, a caption bar and recent history.
package overlay

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/detector"
	"github.com/ayusman/beabled/internal/region"
)

// Layout constants in pixels.
const (
	CaptionBarHeight = 80
	HistoryLines     = 3
	historyLeft      = 20
	historySpacing   = 30
)

var (
	boxColor      = color.RGBA{G: 255, A: 255}
	jointColor    = color.RGBA{R: 250, G: 44, B: 121, A: 255}
	boneColor     = color.RGBA{R: 248, G: 119, B: 164, A: 255}
	barColor      = color.RGBA{R: 50, G: 50, B: 50, A: 255}
	captionColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	historyColor  = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

// Scene is what to draw on one frame.
type Scene struct {
	Box     *region.BoundingBox
	Hand    *detector.HandLandmarks
	Caption string
	// History is oldest first. Only the newest HistoryLines entries are drawn.
	History []string
}

// Draw renders s onto img in place.
func Draw(img *gocv.Mat, s Scene) {
	if img == nil || img.Empty() {
		return
	}

	if s.Hand != nil {
		drawHand(img, s.Hand)
	}
	if s.Box != nil && !s.Box.Empty() {
		gocv.Rectangle(img, s.Box.Rect(), boxColor, 2)
	}
	drawCaption(img, s.Caption)
	drawHistory(img, Recent(s.History, HistoryLines))
}

// Recent returns up to n of the newest entries of history, newest first.
func Recent(history []string, n int) []string {
	if n > len(history) {
		n = len(history)
	}
	out := make([]string, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		out = append(out, history[i])
	}
	return out
}

func drawHand(img *gocv.Mat, hand *detector.HandLandmarks) {
	w, h := float64(img.Cols()), float64(img.Rows())
	px := func(p detector.Point3D) image.Point {
		return image.Pt(int(p.X*w), int(p.Y*h))
	}

	for _, c := range detector.Connections {
		gocv.Line(img, px(hand.Points[c[0]]), px(hand.Points[c[1]]), boneColor, 2)
	}
	for _, p := range hand.Points {
		gocv.Circle(img, px(p), 2, jointColor, 2)
	}
}

func drawCaption(img *gocv.Mat, text string) {
	w, h := img.Cols(), img.Rows()
	top := h - CaptionBarHeight
	if top < 0 {
		top = 0
	}
	gocv.Rectangle(img, image.Rect(0, top, w, h), barColor, -1)

	if text == "" {
		return
	}
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, 1.5, 3)
	org := image.Pt((w-size.X)/2, h-CaptionBarHeight/2+size.Y/2)
	gocv.PutText(img, text, org, gocv.FontHersheySimplex, 1.5, captionColor, 3)
}

func drawHistory(img *gocv.Mat, newestFirst []string) {
	y := img.Rows() - CaptionBarHeight - 10
	for i, text := range newestFirst {
		gocv.PutText(img, text, image.Pt(historyLeft, y-i*historySpacing), gocv.FontHersheySimplex, 0.8, historyColor, 2)
	}
}
