package region

import (
	"math/rand"
	"testing"

	"github.com/ayusman/beabled/internal/detector"
	"gocv.io/x/gocv"
)

// boxHand returns landmarks whose extent is exactly (x0,y0)-(x1,y1).
func boxHand(x0, y0, x1, y1 float64) *detector.HandLandmarks {
	hand := &detector.HandLandmarks{Handedness: "Right", Score: 0.9}
	for i := range hand.Points {
		hand.Points[i] = detector.Point3D{X: (x0 + x1) / 2, Y: (y0 + y1) / 2}
	}
	hand.Points[detector.Wrist] = detector.Point3D{X: x0, Y: y0}
	hand.Points[detector.MiddleTip] = detector.Point3D{X: x1, Y: y1}
	return hand
}

func TestExtract_Padding(t *testing.T) {
	// 640x480 frame, raw box (10,120)-(160,240).
	hand := boxHand(0.015625, 0.25, 0.25, 0.5)

	tests := []struct {
		name string
		pad  Padding
		want BoundingBox
	}{
		{
			name: "fixed margin clips left edge",
			pad:  FixedMargin(20),
			want: BoundingBox{XMin: 0, YMin: 100, XMax: 180, YMax: 260},
		},
		{
			name: "zero fixed margin is the raw box",
			pad:  FixedMargin(0),
			want: BoundingBox{XMin: 10, YMin: 120, XMax: 160, YMax: 240},
		},
		{
			// Width 150 -> 30px, height 120 -> 24px. The right margin must come
			// from the raw width, not from the width after XMin was clipped.
			name: "proportional margin uses unclipped box",
			pad:  ProportionalMargin(0.2),
			want: BoundingBox{XMin: 0, YMin: 96, XMax: 190, YMax: 264},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(640, 480, hand, tt.pad)
			if !ok {
				t.Fatal("Extract() reported no usable region")
			}
			if got != tt.want {
				t.Errorf("Extract() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtract_EdgeClipping(t *testing.T) {
	tests := []struct {
		name string
		hand *detector.HandLandmarks
		want BoundingBox
	}{
		{
			name: "touches right and bottom edges",
			hand: boxHand(0.9, 0.9, 1.0, 1.0),
			want: BoundingBox{XMin: 556, YMin: 412, XMax: 640, YMax: 480},
		},
		{
			name: "landmarks past the frame edge",
			hand: boxHand(-0.1, -0.1, 0.1, 0.1),
			want: BoundingBox{XMin: 0, YMin: 0, XMax: 84, YMax: 68},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(640, 480, tt.hand, FixedMargin(20))
			if !ok {
				t.Fatal("edge hand should clip, not be rejected")
			}
			if got != tt.want {
				t.Errorf("Extract() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtract_NoUsableRegion(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		hand   *detector.HandLandmarks
		pad    Padding
	}{
		{name: "nil hand", width: 640, height: 480, hand: nil, pad: FixedMargin(20)},
		{name: "zero frame", width: 0, height: 0, hand: boxHand(0.2, 0.2, 0.4, 0.4), pad: FixedMargin(20)},
		{name: "box right of frame", width: 640, height: 480, hand: boxHand(1.2, 0.2, 1.5, 0.4), pad: FixedMargin(20)},
		{name: "box above frame", width: 640, height: 480, hand: boxHand(0.2, -0.6, 0.4, -0.3), pad: ProportionalMargin(0.2)},
		{name: "collapsed box without margin", width: 640, height: 480, hand: boxHand(0.5, 0.5, 0.5, 0.5), pad: FixedMargin(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if box, ok := Extract(tt.width, tt.height, tt.hand, tt.pad); ok {
				t.Errorf("Extract() = %+v, want no usable region", box)
			}
		})
	}
}

func TestExtract_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pads := []Padding{FixedMargin(20), FixedMargin(0), ProportionalMargin(0.2), ProportionalMargin(1.5)}

	for i := 0; i < 2000; i++ {
		width := 1 + rng.Intn(1280)
		height := 1 + rng.Intn(720)

		hand := &detector.HandLandmarks{}
		for j := range hand.Points {
			hand.Points[j] = detector.Point3D{
				X: rng.Float64()*1.6 - 0.3,
				Y: rng.Float64()*1.6 - 0.3,
			}
		}

		box, ok := Extract(width, height, hand, pads[i%len(pads)])
		if !ok {
			continue
		}
		if box.XMin < 0 || box.XMin >= box.XMax || box.XMax > width {
			t.Fatalf("iteration %d: x bounds violated: %+v for width %d", i, box, width)
		}
		if box.YMin < 0 || box.YMin >= box.YMax || box.YMax > height {
			t.Fatalf("iteration %d: y bounds violated: %+v for height %d", i, box, height)
		}
	}
}

func TestParsePadding(t *testing.T) {
	tests := []struct {
		kind    string
		amount  float64
		want    Padding
		wantErr bool
	}{
		{kind: "fixed", amount: 20, want: FixedMargin(20)},
		{kind: "proportional", amount: 0.2, want: ProportionalMargin(0.2)},
		{kind: "fixed", amount: -1, wantErr: true},
		{kind: "proportional", amount: -0.1, wantErr: true},
		{kind: "percent", amount: 20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := ParsePadding(tt.kind, tt.amount)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePadding() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParsePadding() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	t.Run("crop matches box size", func(t *testing.T) {
		crop, ok := Crop(frame, BoundingBox{XMin: 0, YMin: 100, XMax: 180, YMax: 260})
		if !ok {
			t.Fatal("Crop() returned no region")
		}
		defer crop.Close()

		if crop.Cols() != 180 || crop.Rows() != 160 {
			t.Errorf("crop size = %dx%d, want 180x160", crop.Cols(), crop.Rows())
		}
	})

	t.Run("box outside frame is empty", func(t *testing.T) {
		if _, ok := Crop(frame, BoundingBox{XMin: 700, YMin: 0, XMax: 800, YMax: 100}); ok {
			t.Error("expected empty crop")
		}
	})

	t.Run("empty frame", func(t *testing.T) {
		empty := gocv.NewMat()
		defer empty.Close()

		if _, ok := Crop(empty, BoundingBox{XMax: 10, YMax: 10}); ok {
			t.Error("expected empty crop for empty frame")
		}
	})
}
