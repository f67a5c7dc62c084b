package isyntax

import "fmt"

// The vendor SDK exists in two incompatible shapes. The current SDK
// hangs geometry off a per-image view object; the legacy SDK exposes a
// single file-wide view with different method names. Both are mapped
// onto Source here, and nothing outside this file branches on dialect.

// Handle is the current-SDK shape of an open file.
type Handle interface {
	Images() []ImageHandle
	Close() error
}

// ImageHandle is one sub-image of a current-SDK file.
type ImageHandle interface {
	Kind() ImageKind
	// Payload returns the embedded encoded image bytes of a macro or
	// label sub-image.
	Payload() ([]byte, error)
	View() View
}

// View carries the geometry and region-serving surface of one
// current-SDK sub-image.
type View interface {
	NumDerivedLevels() int
	DimensionRanges(level int) ([2]DimensionRange, error)
	// Scale returns the pixel size in micrometers per axis.
	Scale() [2]float64
	RequestRegions(patches []Patch, fill [3]uint8) (PendingSet, error)
}

// LegacyHandle is the legacy-SDK shape of an open file.
type LegacyHandle interface {
	NumImages() int
	ImageType(index int) string
	NumLevels() int
	ImagePayload(index int) ([]byte, error)
	ImageScaleFactor() [2]float64
	SourceView() LegacyView
	Close() error
}

// LegacyView is the legacy file-wide view.
type LegacyView interface {
	DimensionRanges(level int) ([2]DimensionRange, error)
	RequestRegions(patches []Patch, fill [3]uint8) (PendingSet, error)
}

type source struct {
	h   Handle
	wsi ImageHandle
}

func newSource(h Handle) *source {
	s := &source{h: h}
	for _, img := range h.Images() {
		if img.Kind() == KindWSI {
			s.wsi = img
			break
		}
	}
	return s
}

func (s *source) Images() []ImageKind {
	kinds := make([]ImageKind, 0, len(s.h.Images()))
	for _, img := range s.h.Images() {
		kinds = append(kinds, img.Kind())
	}
	return kinds
}

func (s *source) NumLevels() int {
	if s.wsi == nil {
		return 0
	}
	return s.wsi.View().NumDerivedLevels()
}

func (s *source) DimensionRanges(level int) ([2]DimensionRange, error) {
	if s.wsi == nil {
		return [2]DimensionRange{}, fmt.Errorf("isyntax: no WSI sub-image")
	}
	return s.wsi.View().DimensionRanges(level)
}

func (s *source) PixelSpacing() (float64, float64) {
	if s.wsi == nil {
		return 0, 0
	}
	sc := s.wsi.View().Scale()
	return sc[0], sc[1]
}

func (s *source) AssociatedImage(kind ImageKind) ([]byte, error) {
	for _, img := range s.h.Images() {
		if img.Kind() == kind {
			return img.Payload()
		}
	}
	return nil, fmt.Errorf("isyntax: no %s sub-image", kind)
}

func (s *source) RequestRegions(patches []Patch, fill [3]uint8) (PendingSet, error) {
	if s.wsi == nil {
		return nil, fmt.Errorf("isyntax: no WSI sub-image")
	}
	return s.wsi.View().RequestRegions(patches, fill)
}

func (s *source) Close() error { return s.h.Close() }

type legacySource struct {
	h LegacyHandle
}

func newLegacySource(h LegacyHandle) *legacySource {
	return &legacySource{h: h}
}

func (s *legacySource) Images() []ImageKind {
	kinds := make([]ImageKind, 0, s.h.NumImages())
	for i := 0; i < s.h.NumImages(); i++ {
		kinds = append(kinds, ImageKind(s.h.ImageType(i)))
	}
	return kinds
}

func (s *legacySource) NumLevels() int { return s.h.NumLevels() }

func (s *legacySource) DimensionRanges(level int) ([2]DimensionRange, error) {
	return s.h.SourceView().DimensionRanges(level)
}

func (s *legacySource) PixelSpacing() (float64, float64) {
	sc := s.h.ImageScaleFactor()
	return sc[0], sc[1]
}

func (s *legacySource) AssociatedImage(kind ImageKind) ([]byte, error) {
	for i := 0; i < s.h.NumImages(); i++ {
		if ImageKind(s.h.ImageType(i)) == kind {
			return s.h.ImagePayload(i)
		}
	}
	return nil, fmt.Errorf("isyntax: no %s sub-image", kind)
}

func (s *legacySource) RequestRegions(patches []Patch, fill [3]uint8) (PendingSet, error) {
	return s.h.SourceView().RequestRegions(patches, fill)
}

func (s *legacySource) Close() error { return s.h.Close() }
