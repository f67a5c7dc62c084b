package convert

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccpvault00/isyntax2tiff/internal/raster"
	"github.com/ccpvault00/isyntax2tiff/pkg/pyrtiff"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// assertBigTIFF checks the fixed header of a written container.
func assertBigTIFF(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var header [16]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if string(header[0:2]) != "II" || binary.LittleEndian.Uint16(header[2:]) != 43 {
		t.Fatalf("%s is not a little-endian BigTIFF", path)
	}
	if binary.LittleEndian.Uint64(header[8:]) == 0 {
		t.Fatalf("%s was not finalized", path)
	}
}

func TestRunSyntheticSource(t *testing.T) {
	out := filepath.Join(t.TempDir(), "slide.tiff")
	res, err := Run(context.Background(), testLogger(), "synthetic:1500x1100", out, Options{
		Codec: pyrtiff.CodecNone,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Width != 1500 || res.Height != 1100 {
		t.Errorf("dimensions %dx%d, want 1500x1100", res.Width, res.Height)
	}
	// 1500x1100 halves once before dropping below the 256 floor.
	if res.Levels != 2 {
		t.Errorf("levels %d, want 2", res.Levels)
	}
	if res.DegradedTiles != 0 {
		t.Errorf("degraded tiles %d, want 0", res.DegradedTiles)
	}
	if res.Fallback {
		t.Error("unexpected fallback")
	}
	if len(res.Outputs) != 1 || res.Outputs[0] != out {
		t.Errorf("outputs %v, want [%s]", res.Outputs, out)
	}
	if res.Duration <= 0 {
		t.Error("duration not recorded")
	}
	assertBigTIFF(t, out)
}

func TestRunPyramid512(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "slide.tiff")
	res, err := Run(context.Background(), testLogger(), "synthetic:1500x1100", out, Options{
		Codec:      pyrtiff.CodecNone,
		Pyramid512: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p512 := filepath.Join(dir, "slide_512.tiff")
	if len(res.Outputs) != 2 || res.Outputs[1] != p512 {
		t.Fatalf("outputs %v, want primary plus %s", res.Outputs, p512)
	}
	assertBigTIFF(t, out)
	assertBigTIFF(t, p512)
}

func TestRunXMLSidecar(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "slide.tiff")
	res, err := Run(context.Background(), testLogger(), "synthetic:1500x1100", out, Options{
		Codec:      pyrtiff.CodecNone,
		XMLSidecar: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	xmlPath := filepath.Join(dir, "slide.xml")
	if len(res.Outputs) != 2 || res.Outputs[1] != xmlPath {
		t.Fatalf("outputs %v, want primary plus %s", res.Outputs, xmlPath)
	}
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	doc := string(data)
	for _, want := range []string{
		`<DataObject ObjectType="DPUfsImport">`,
		// Default 0.25 µm spacing is 0.00025 mm.
		`&quot;0.00025&quot; &quot;0.00025&quot;`,
		// The synthetic scheme ships macro and label payloads.
		"MACROIMAGE",
		"LABELIMAGE",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("sidecar lacks %s", want)
		}
	}
	if got := strings.Count(doc, `<DataObject ObjectType="PixelDataRepresentation">`); got != res.Levels {
		t.Errorf("sidecar lists %d levels, result has %d", got, res.Levels)
	}
}

// countDirectories walks the written file's IFD chain.
func countDirectories(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	le := binary.LittleEndian
	n := 0
	for off := le.Uint64(data[8:]); off != 0; {
		entries := le.Uint64(data[off:])
		n++
		off = le.Uint64(data[off+8+20*entries:])
	}
	return n
}

func TestRunFallbackBaseLevelOnly(t *testing.T) {
	orig := writeContainer
	defer func() { writeContainer = orig }()
	calls := 0
	writeContainer = func(path string, levels []*raster.Image, macro, label *raster.Image, ppcm float64, tileSize int, opts Options) error {
		calls++
		if calls == 1 {
			return &pyrtiff.WriteError{Path: path, Op: "append", Err: errors.New("label directory rejected")}
		}
		if len(levels) != 1 {
			t.Errorf("retry got %d levels, want base level only", len(levels))
		}
		if macro != nil || label != nil {
			t.Error("retry still carries auxiliary images")
		}
		return orig(path, levels, macro, label, ppcm, tileSize, opts)
	}

	out := filepath.Join(t.TempDir(), "slide.tiff")
	res, err := Run(context.Background(), testLogger(), "synthetic:1500x1100", out, Options{
		Codec: pyrtiff.CodecNone,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("writer called %d times, want 2", calls)
	}
	if !res.Fallback {
		t.Error("result not flagged as fallback")
	}
	if res.Levels != 1 {
		t.Errorf("result reports %d levels, want 1", res.Levels)
	}
	if len(res.Outputs) != 1 || res.Outputs[0] != out {
		t.Errorf("outputs %v, want [%s]", res.Outputs, out)
	}
	assertBigTIFF(t, out)
	if got := countDirectories(t, out); got != 1 {
		t.Errorf("fallback output has %d directories, want 1", got)
	}
}

func TestRunBadInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "slide.tiff")
	if _, err := Run(context.Background(), testLogger(), "synthetic:0x0", out, Options{}); err == nil {
		t.Error("expected error for an invalid source spec")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output created for a failed open")
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := filepath.Join(t.TempDir(), "slide.tiff")
	if _, err := Run(ctx, testLogger(), "synthetic:1500x1100", out, Options{
		Codec: pyrtiff.CodecNone,
	}); err == nil {
		t.Error("expected error for a canceled context")
	}
}

func TestRunUnwritableOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "absent", "slide.tiff")
	_, err := Run(context.Background(), testLogger(), "synthetic:600x400", out, Options{
		Codec: pyrtiff.CodecNone,
	})
	if err == nil {
		t.Fatal("expected error for an unwritable output path")
	}
	var werr *pyrtiff.WriteError
	if !errors.As(err, &werr) {
		t.Errorf("got %T, want WriteError", err)
	}
}

func TestSiblingPath(t *testing.T) {
	for _, tc := range []struct {
		path, suffix, ext, want string
	}{
		{"/out/slide.tiff", "_512", ".tiff", "/out/slide_512.tiff"},
		{"/out/slide.tiff", "", ".xml", "/out/slide.xml"},
		{"slide", "_512", ".tiff", "slide_512.tiff"},
	} {
		if got := siblingPath(tc.path, tc.suffix, tc.ext); got != tc.want {
			t.Errorf("siblingPath(%q, %q, %q) = %q, want %q", tc.path, tc.suffix, tc.ext, got, tc.want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.TileSize != DefaultTileSize || o.Quality != DefaultQuality {
		t.Errorf("defaults %+v", o)
	}
	if o.Codec != pyrtiff.CodecJPEG {
		t.Errorf("default codec %q, want jpeg", o.Codec)
	}
	if o.PyramidFloor <= 0 {
		t.Error("default pyramid floor not set")
	}
	o = Options{TileSize: 512, Quality: 70, Codec: pyrtiff.CodecLZW, BatchTimeout: time.Minute}.withDefaults()
	if o.TileSize != 512 || o.Quality != 70 || o.Codec != pyrtiff.CodecLZW {
		t.Errorf("explicit options overwritten: %+v", o)
	}
}
