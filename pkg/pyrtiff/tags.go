package pyrtiff

// TIFF tag numbers used by the writer.
const (
	tagNewSubfileType   = 254
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagXResolution      = 282
	tagYResolution      = 283
	tagPlanarConfig     = 284
	tagResolutionUnit   = 296
	tagSoftware         = 305
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagYCbCrSubSampling = 530
)

// TIFF field types.
const (
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeLong8    = 16
)

// Compression scheme codes.
const (
	compressionNone    = 1
	compressionLZW     = 5
	compressionJPEG    = 7
	compressionDeflate = 8
)

// Photometric interpretations.
const (
	photometricRGB   = 2
	photometricYCbCr = 6
)

// NewSubfileType flags.
const (
	subfileFullResolution = 0
	subfileReducedImage   = 1
)

// ResolutionUnit code for centimeters.
const resolutionUnitCM = 3
