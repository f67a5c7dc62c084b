package isyntax

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"sync"
	"time"
)

const syntheticScheme = "synthetic:"

// PatternAt is the deterministic per-pixel value of a synthetic source.
// Tests compare assembled canvases against it coordinate by coordinate.
func PatternAt(x, y int) [3]uint8 {
	return [3]uint8{uint8(x), uint8(y), uint8(x ^ y)}
}

// SyntheticOption configures a synthetic source.
type SyntheticOption func(*Synthetic)

// WithMacro attaches a macro sub-image with a JPEG payload of the given
// size.
func WithMacro(w, h int) SyntheticOption {
	return func(s *Synthetic) { s.payloads[KindMacro] = encodeSolidJPEG(w, h, color.RGBA{200, 180, 160, 255}) }
}

// WithLabel attaches a label sub-image with a JPEG payload of the given
// size.
func WithLabel(w, h int) SyntheticOption {
	return func(s *Synthetic) { s.payloads[KindLabel] = encodeSolidJPEG(w, h, color.RGBA{60, 60, 60, 255}) }
}

// WithCorruptPayload attaches a sub-image whose payload is not decodable.
func WithCorruptPayload(kind ImageKind) SyntheticOption {
	return func(s *Synthetic) { s.payloads[kind] = []byte("not a jpeg") }
}

// WithFailingTile makes the region for one grid cell fail its Read.
func WithFailingTile(tileX, tileY int) SyntheticOption {
	return func(s *Synthetic) { s.failing[[2]int{tileX, tileY}] = true }
}

// WithStalledWaits makes every WaitAny block until the context expires.
func WithStalledWaits() SyntheticOption {
	return func(s *Synthetic) { s.stall = true }
}

// WithSlowWaits makes every WaitAny take d and deliver exactly one
// region, so a batch drains serially at that pace.
func WithSlowWaits(d time.Duration) SyntheticOption {
	return func(s *Synthetic) { s.slow = d }
}

// WithPixelSpacing overrides the default 0.25 µm pixel size.
func WithPixelSpacing(x, y float64) SyntheticOption {
	return func(s *Synthetic) { s.spacingX, s.spacingY = x, y }
}

// Synthetic is an in-memory Source serving the PatternAt pattern. It
// honors the same inclusive-end region semantics as the SDK and returns
// regions in a shuffled, request-order-unrelated sequence.
type Synthetic struct {
	width, height int
	levels        int
	spacingX      float64
	spacingY      float64
	payloads      map[ImageKind][]byte
	failing       map[[2]int]bool
	stall         bool
	slow          time.Duration
	rng           *rand.Rand
	closed        bool
}

// NewSynthetic creates a synthetic source with the given level-0 pixel
// extent.
func NewSynthetic(width, height int, opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		width:    width,
		height:   height,
		levels:   1,
		spacingX: 0.25,
		spacingY: 0.25,
		payloads: map[ImageKind][]byte{},
		failing:  map[[2]int]bool{},
		rng:      rand.New(rand.NewSource(int64(width)*31 + int64(height))),
	}
	for d := min(width, height); d >= 256; d /= 2 {
		s.levels++
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func openSynthetic(path string) (Source, error) {
	var w, h int
	if _, err := fmt.Sscanf(path, syntheticScheme+"%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return nil, &SourceError{Path: path, Op: "open", Err: fmt.Errorf("want %sWxH", syntheticScheme)}
	}
	return NewSynthetic(w, h, WithMacro(640, 480), WithLabel(320, 240)), nil
}

func (s *Synthetic) Images() []ImageKind {
	kinds := []ImageKind{KindWSI}
	for _, k := range []ImageKind{KindMacro, KindLabel} {
		if _, ok := s.payloads[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (s *Synthetic) NumLevels() int { return s.levels }

func (s *Synthetic) DimensionRanges(level int) ([2]DimensionRange, error) {
	if level < 0 || level >= s.levels {
		return [2]DimensionRange{}, fmt.Errorf("isyntax: level %d out of range", level)
	}
	step := 1 << level
	return [2]DimensionRange{
		{Start: 0, Step: step, End: (s.width >> level) << level},
		{Start: 0, Step: step, End: (s.height >> level) << level},
	}, nil
}

func (s *Synthetic) PixelSpacing() (float64, float64) { return s.spacingX, s.spacingY }

func (s *Synthetic) AssociatedImage(kind ImageKind) ([]byte, error) {
	payload, ok := s.payloads[kind]
	if !ok {
		return nil, fmt.Errorf("isyntax: no %s sub-image", kind)
	}
	return payload, nil
}

func (s *Synthetic) RequestRegions(patches []Patch, fill [3]uint8) (PendingSet, error) {
	if s.closed {
		return nil, fmt.Errorf("isyntax: source closed")
	}
	regions := make([]Region, 0, len(patches))
	for _, p := range patches {
		regions = append(regions, &syntheticRegion{
			patch: p,
			fail:  s.failing[[2]int{p.TileX, p.TileY}],
		})
	}
	return &syntheticPending{regions: regions, rng: s.rng, stall: s.stall, slow: s.slow}, nil
}

func (s *Synthetic) Close() error {
	s.closed = true
	return nil
}

type syntheticRegion struct {
	patch Patch
	fail  bool
}

func (r *syntheticRegion) Range() (int, int, int, int, int) {
	p := r.patch
	return p.XStart, p.XEnd, p.YStart, p.YEnd, p.Level
}

func (r *syntheticRegion) Read(buf []byte) error {
	if r.fail {
		return fmt.Errorf("synthetic: tile (%d,%d) unreadable", r.patch.TileX, r.patch.TileY)
	}
	step := 1 << r.patch.Level
	width := 1 + (r.patch.XEnd-r.patch.XStart)/step
	height := 1 + (r.patch.YEnd-r.patch.YStart)/step
	if len(buf) != width*height*3 {
		return fmt.Errorf("synthetic: buffer is %d bytes, want %d", len(buf), width*height*3)
	}
	// The SDK hands back planar-interleavable RGB; emit the same
	// channel-interleaved layout it uses.
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := PatternAt(r.patch.XStart/step+x, r.patch.YStart/step+y)
			buf[i], buf[i+1], buf[i+2] = px[0], px[1], px[2]
			i += 3
		}
	}
	return nil
}

type syntheticPending struct {
	mu      sync.Mutex
	regions []Region
	rng     *rand.Rand
	stall   bool
	slow    time.Duration
}

func (p *syntheticPending) WaitAny(ctx context.Context) ([]Region, error) {
	if p.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.slow > 0 {
		select {
		case <-time.After(p.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.regions) == 0 {
		return nil, fmt.Errorf("synthetic: wait on drained set")
	}
	// Model nondeterministic readiness: return a shuffled prefix, or
	// exactly one region when pacing is slow.
	p.rng.Shuffle(len(p.regions), func(i, j int) {
		p.regions[i], p.regions[j] = p.regions[j], p.regions[i]
	})
	n := 1
	if p.slow == 0 {
		n = 1 + p.rng.Intn(len(p.regions))
	}
	ready := append([]Region(nil), p.regions[:n]...)
	p.regions = p.regions[n:]
	return ready, nil
}

func (p *syntheticPending) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regions)
}

func encodeSolidJPEG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 255
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
