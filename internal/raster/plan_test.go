package raster

import (
	"errors"
	"testing"

	"github.com/ccpvault00/isyntax2tiff/pkg/isyntax"
)

func TestPixelLength(t *testing.T) {
	tests := []struct {
		name    string
		r       isyntax.DimensionRange
		want    int
		wantErr bool
	}{
		{"level zero", isyntax.DimensionRange{Start: 0, Step: 1, End: 1500}, 1500, false},
		{"level two", isyntax.DimensionRange{Start: 0, Step: 4, End: 1500}, 375, false},
		{"nonzero origin", isyntax.DimensionRange{Start: 100, Step: 2, End: 300}, 100, false},
		{"remainder", isyntax.DimensionRange{Start: 0, Step: 4, End: 1501}, 0, true},
		{"negative span", isyntax.DimensionRange{Start: 10, Step: 1, End: 0}, 0, true},
		{"zero step", isyntax.DimensionRange{Start: 0, Step: 0, End: 10}, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PixelLength(tc.r)
			if tc.wantErr {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Fatalf("expected ConfigError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	x := isyntax.DimensionRange{Start: 0, Step: 4, End: 100}
	y := isyntax.DimensionRange{Start: 0, Step: 4, End: 80}
	level, err := Level(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != 2 {
		t.Errorf("got level %d, want 2", level)
	}

	if _, err := Level(x, isyntax.DimensionRange{Step: 2}); err == nil {
		t.Error("expected error for disagreeing steps")
	}
	if _, err := Level(isyntax.DimensionRange{Step: 3}, isyntax.DimensionRange{Step: 3}); err == nil {
		t.Error("expected error for non-power-of-two step")
	}
}

func level0Dims(width, height int) [2]isyntax.DimensionRange {
	return [2]isyntax.DimensionRange{
		{Start: 0, Step: 1, End: width},
		{Start: 0, Step: 1, End: height},
	}
}

func TestPlanGrid(t *testing.T) {
	patches, err := Plan(level0Dims(1500, 1100), 1024, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 4 {
		t.Fatalf("got %d patches, want 4", len(patches))
	}

	// Row-major, so the last patch is the bottom-right cell.
	last := patches[3]
	if last.TileX != 1 || last.TileY != 1 {
		t.Fatalf("last patch at (%d,%d), want (1,1)", last.TileX, last.TileY)
	}
	wantLast := isyntax.Patch{
		XStart: 1024, XEnd: 1499,
		YStart: 1024, YEnd: 1099,
		Level: 0, TileX: 1, TileY: 1,
	}
	if last != wantLast {
		t.Errorf("last patch %+v, want %+v", last, wantLast)
	}

	// Realized sizes with inclusive ends.
	if w := 1 + last.XEnd - last.XStart; w != 476 {
		t.Errorf("edge patch width %d, want 476", w)
	}
	if h := 1 + last.YEnd - last.YStart; h != 76 {
		t.Errorf("edge patch height %d, want 76", h)
	}
}

func TestPlanCoversEveryPixelOnce(t *testing.T) {
	const width, height, tile = 1500, 1100, 1024
	patches, err := Plan(level0Dims(width, height), tile, tile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	covered := make([]int, width*height)
	for _, p := range patches {
		for y := p.YStart; y <= p.YEnd; y++ {
			for x := p.XStart; x <= p.XEnd; x++ {
				covered[y*width+x]++
			}
		}
	}
	for i, n := range covered {
		if n != 1 {
			t.Fatalf("pixel (%d,%d) covered %d times", i%width, i/width, n)
		}
	}
}

func TestPlanExactMultiple(t *testing.T) {
	patches, err := Plan(level0Dims(2048, 1024), 1024, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("got %d patches, want 2", len(patches))
	}
	for _, p := range patches {
		if w := 1 + p.XEnd - p.XStart; w != 1024 {
			t.Errorf("patch (%d,%d) width %d, want 1024", p.TileX, p.TileY, w)
		}
		if h := 1 + p.YEnd - p.YStart; h != 1024 {
			t.Errorf("patch (%d,%d) height %d, want 1024", p.TileX, p.TileY, h)
		}
	}
}

func TestPlanDerivedLevel(t *testing.T) {
	// Level 2: step 4, same tile grid expressed in source coordinates.
	dims := [2]isyntax.DimensionRange{
		{Start: 0, Step: 4, End: 1500 &^ 3},
		{Start: 0, Step: 4, End: 1100 &^ 3},
	}
	patches, err := Plan(dims, 256, 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := patches[0]
	if first.Level != 2 {
		t.Errorf("level %d, want 2", first.Level)
	}
	if first.XEnd != 256*4-4 {
		t.Errorf("first patch XEnd %d, want %d", first.XEnd, 256*4-4)
	}
}

func TestPlanRejectsBadTileSize(t *testing.T) {
	if _, err := Plan(level0Dims(100, 100), 0, 256); err == nil {
		t.Error("expected error for zero tile width")
	}
}
