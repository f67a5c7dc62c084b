package isyntax

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"
	"time"
)

func TestNewSyntheticLevels(t *testing.T) {
	for _, tc := range []struct {
		w, h, want int
	}{
		{1500, 1100, 4},
		{4096, 3000, 5},
		{256, 256, 2},
		{255, 255, 1},
		{700, 300, 2},
	} {
		s := NewSynthetic(tc.w, tc.h)
		if got := s.NumLevels(); got != tc.want {
			t.Errorf("NewSynthetic(%d, %d).NumLevels() = %d, want %d", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestSyntheticDimensionRanges(t *testing.T) {
	s := NewSynthetic(1500, 1100)

	dr, err := s.DimensionRanges(0)
	if err != nil {
		t.Fatalf("level 0: %v", err)
	}
	want := [2]DimensionRange{{0, 1, 1500}, {0, 1, 1100}}
	if dr != want {
		t.Errorf("level 0 ranges %v, want %v", dr, want)
	}

	// Derived levels snap the end down to a step multiple.
	dr, err = s.DimensionRanges(2)
	if err != nil {
		t.Fatalf("level 2: %v", err)
	}
	want = [2]DimensionRange{{0, 4, 1500}, {0, 4, 1100}}
	if dr != want {
		t.Errorf("level 2 ranges %v, want %v", dr, want)
	}

	if _, err := s.DimensionRanges(s.NumLevels()); err == nil {
		t.Error("expected error for out-of-range level")
	}
	if _, err := s.DimensionRanges(-1); err == nil {
		t.Error("expected error for negative level")
	}
}

func TestSyntheticRegionRead(t *testing.T) {
	s := NewSynthetic(512, 512)
	patch := Patch{XStart: 100, XEnd: 103, YStart: 200, YEnd: 201, Level: 0}
	pending, err := s.RequestRegions([]Patch{patch}, [3]uint8{0, 0, 0})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ready, err := pending.WaitAny(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("got %d regions, want 1", len(ready))
	}

	r := ready[0]
	x0, x1, y0, y1, lvl := r.Range()
	if x0 != 100 || x1 != 103 || y0 != 200 || y1 != 201 || lvl != 0 {
		t.Fatalf("range (%d,%d,%d,%d,%d) does not echo the patch", x0, x1, y0, y1, lvl)
	}

	// Inclusive ends: 4x2 pixels.
	buf := make([]byte, 4*2*3)
	if err := r.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			want := PatternAt(100+x, 200+y)
			i := (y*4 + x) * 3
			got := [3]uint8{buf[i], buf[i+1], buf[i+2]}
			if got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", 100+x, 200+y, got, want)
			}
		}
	}

	if err := r.Read(make([]byte, 5)); err == nil {
		t.Error("expected error for undersized buffer")
	}
}

func TestSyntheticWaitAnyDrains(t *testing.T) {
	s := NewSynthetic(2048, 2048)
	patches := make([]Patch, 7)
	for i := range patches {
		patches[i] = Patch{XStart: i * 16, XEnd: i*16 + 15, YEnd: 15, TileX: i}
	}
	pending, err := s.RequestRegions(patches, [3]uint8{0, 0, 0})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	total := 0
	for pending.Remaining() > 0 {
		ready, err := pending.WaitAny(context.Background())
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if len(ready) == 0 {
			t.Fatal("WaitAny returned no regions without error")
		}
		total += len(ready)
	}
	if total != len(patches) {
		t.Errorf("drained %d regions, want %d", total, len(patches))
	}
	if _, err := pending.WaitAny(context.Background()); err == nil {
		t.Error("expected error waiting on a drained set")
	}
}

func TestSyntheticWaitAnyHonorsContext(t *testing.T) {
	s := NewSynthetic(512, 512, WithStalledWaits())
	pending, err := s.RequestRegions([]Patch{{XEnd: 15, YEnd: 15}}, [3]uint8{0, 0, 0})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pending.WaitAny(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestSyntheticFailingTile(t *testing.T) {
	s := NewSynthetic(512, 512, WithFailingTile(1, 0))
	pending, err := s.RequestRegions([]Patch{{XEnd: 15, YEnd: 15, TileX: 1, TileY: 0}}, [3]uint8{0, 0, 0})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ready, err := pending.WaitAny(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := ready[0].Read(make([]byte, 16*16*3)); err == nil {
		t.Error("expected read failure for the failing tile")
	}
}

func TestSyntheticAssociatedImages(t *testing.T) {
	s := NewSynthetic(512, 512, WithMacro(64, 48), WithLabel(32, 24))

	kinds := s.Images()
	if len(kinds) != 3 || kinds[0] != KindWSI {
		t.Fatalf("images %v, want WSI first of three", kinds)
	}

	for kind, want := range map[ImageKind][2]int{KindMacro: {64, 48}, KindLabel: {32, 24}} {
		payload, err := s.AssociatedImage(kind)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		img, err := jpeg.Decode(bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("%s payload does not decode: %v", kind, err)
		}
		b := img.Bounds()
		if b.Dx() != want[0] || b.Dy() != want[1] {
			t.Errorf("%s decoded to %dx%d, want %dx%d", kind, b.Dx(), b.Dy(), want[0], want[1])
		}
	}

	if _, err := NewSynthetic(64, 64).AssociatedImage(KindMacro); err == nil {
		t.Error("expected error for absent sub-image")
	}
}

func TestSyntheticCorruptPayload(t *testing.T) {
	s := NewSynthetic(512, 512, WithCorruptPayload(KindMacro))
	payload, err := s.AssociatedImage(KindMacro)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(payload)); err == nil {
		t.Error("corrupt payload unexpectedly decoded")
	}
}

func TestSyntheticClosedRejectsRequests(t *testing.T) {
	s := NewSynthetic(512, 512)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.RequestRegions([]Patch{{XEnd: 15, YEnd: 15}}, [3]uint8{0, 0, 0}); err == nil {
		t.Error("expected error after Close")
	}
}

func TestSyntheticPixelSpacing(t *testing.T) {
	x, y := NewSynthetic(64, 64).PixelSpacing()
	if x != 0.25 || y != 0.25 {
		t.Errorf("default spacing (%g, %g), want (0.25, 0.25)", x, y)
	}
	x, y = NewSynthetic(64, 64, WithPixelSpacing(0.5, 0.5)).PixelSpacing()
	if x != 0.5 || y != 0.5 {
		t.Errorf("override spacing (%g, %g), want (0.5, 0.5)", x, y)
	}
}
