// Package philips renders the DPUfsImport XML sidecar some viewers
// read alongside the pyramidal container. The document mirrors the
// scanner's own export: DICOM header attributes, one DPScannedImage
// per image, and a PixelDataRepresentation entry per pyramid level.
package philips

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level records the dimensions of one pyramid level, base first.
type Level struct {
	Width  int
	Height int
}

// Document holds everything the sidecar needs. Macro and Label carry
// raw JPEG bytes and are embedded base64-encoded when present.
type Document struct {
	SourceFile     string
	Width          int
	Height         int
	PixelSpacingMM float64
	Levels         []Level
	Quality        int
	Macro          []byte
	Label          []byte

	// Now overrides the timestamp source in tests.
	Now time.Time
}

const (
	manufacturer     = "PHILIPS"
	deviceSerial     = "FMT0411"
	interfaceVersion = "1.8.6824"
)

var softwareVersions = [3]string{"1.8.6824", "20180906_R51", "4.0.3"}

// Render produces the complete XML document.
func (d *Document) Render() string {
	now := d.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" ?>` + "\n")
	b.WriteString(`<DataObject ObjectType="DPUfsImport">` + "\n")

	attr(&b, 1, "DICOM_ACQUISITION_DATETIME", "0x0008", "0x002A", "IString", now.Format("20060102150405.000000"))
	attr(&b, 1, "DICOM_DATE_OF_LAST_CALIBRATION", "0x0018", "0x1200", "IStringArray", quoted(now.Format("20060102")))
	attr(&b, 1, "DICOM_DEVICE_SERIAL_NUMBER", "0x0018", "0x1000", "IString", deviceSerial)
	attr(&b, 1, "DICOM_MANUFACTURER", "0x0008", "0x0070", "IString", manufacturer)
	attr(&b, 1, "DICOM_SOFTWARE_VERSIONS", "0x0018", "0x1020", "IStringArray",
		quoted(softwareVersions[0])+" "+quoted(softwareVersions[1])+" "+quoted(softwareVersions[2]))
	attr(&b, 1, "DICOM_TIME_OF_LAST_CALIBRATION", "0x0018", "0x1201", "IStringArray", quoted(now.Format("150405")))
	attr(&b, 1, "PIIM_DP_SCANNER_CALIBRATION_STATUS", "0x101D", "0x100A", "IString", "OK")
	attr(&b, 1, "PIIM_DP_SCANNER_RACK_NUMBER", "0x101D", "0x1007", "IUInt16", "11")
	attr(&b, 1, "PIIM_DP_SCANNER_SLOT_NUMBER", "0x101D", "0x1008", "IUInt16", "10")

	indent(&b, 1)
	b.WriteString(`<Attribute Name="PIM_DP_SCANNED_IMAGES" Group="0x301D" Element="0x1003" PMSVR="IDataObjectArray">` + "\n")
	indent(&b, 2)
	b.WriteString("<Array>\n")

	d.renderWSI(&b)
	if len(d.Macro) > 0 {
		d.renderAssociated(&b, "MACROIMAGE", d.Macro)
	}
	if len(d.Label) > 0 {
		d.renderAssociated(&b, "LABELIMAGE", d.Label)
	}

	indent(&b, 2)
	b.WriteString("</Array>\n")
	indent(&b, 1)
	b.WriteString("</Attribute>\n")

	attr(&b, 1, "PIM_DP_UFS_BARCODE", "0x301D", "0x1002", "IString", "S114-99047-_-A-3")
	attr(&b, 1, "PIM_DP_UFS_INTERFACE_VERSION", "0x301D", "0x1001", "IString", interfaceVersion)

	b.WriteString("</DataObject>\n")
	return b.String()
}

func (d *Document) renderWSI(b *strings.Builder) {
	indent(b, 3)
	b.WriteString(`<DataObject ObjectType="DPScannedImage">` + "\n")

	derivation := fmt.Sprintf(
		"tiff-useBigTIFF=0-useRgb=0-levels=%d,10002,10000,10001-processing=0-q%d-sourceFilename=%s;PHILIPS UFS V%s | Quality=2 | DWT=1 | Compressor=16",
		len(d.Levels), d.Quality, quoted(d.SourceFile), interfaceVersion)
	attr(b, 4, "DICOM_DERIVATION_DESCRIPTION", "0x0008", "0x2111", "IString", derivation)

	attr(b, 4, "DICOM_LOSSY_IMAGE_COMPRESSION_METHOD", "0x0028", "0x2114", "IStringArray",
		quoted("PHILIPS_DP_1_0")+" "+quoted("PHILIPS_TIFF_1_0"))
	attr(b, 4, "DICOM_LOSSY_IMAGE_COMPRESSION_RATIO", "0x0028", "0x2112", "IDoubleArray",
		quoted("3")+" "+quoted("3"))
	attr(b, 4, "PIM_DP_IMAGE_TYPE", "0x301D", "0x1004", "IString", "WSI")
	attr(b, 4, "UFS_IMAGE_PIXEL_TRANSFORMATION_METHOD", "0x301D", "0x2013", "IString", "0")

	attr(b, 4, "DICOM_BITS_ALLOCATED", "0x0028", "0x0100", "IUInt16", "8")
	attr(b, 4, "DICOM_BITS_STORED", "0x0028", "0x0101", "IUInt16", "8")
	attr(b, 4, "DICOM_HIGH_BIT", "0x0028", "0x0102", "IUInt16", "7")
	attr(b, 4, "DICOM_LOSSY_IMAGE_COMPRESSION", "0x0028", "0x2110", "IString", "01")
	attr(b, 4, "DICOM_PHOTOMETRIC_INTERPRETATION", "0x0028", "0x0004", "IString", "RGB")
	attr(b, 4, "DICOM_PIXEL_REPRESENTATION", "0x0028", "0x0103", "IUInt16", "0")
	attr(b, 4, "DICOM_PIXEL_SPACING", "0x0028", "0x0030", "IDoubleArray",
		quoted(formatFloat(d.PixelSpacingMM))+" "+quoted(formatFloat(d.PixelSpacingMM)))
	attr(b, 4, "DICOM_PLANAR_CONFIGURATION", "0x0028", "0x0006", "IUInt16", "0")
	attr(b, 4, "DICOM_SAMPLES_PER_PIXEL", "0x0028", "0x0002", "IUInt16", "3")

	indent(b, 4)
	b.WriteString(`<Attribute Name="PIIM_PIXEL_DATA_REPRESENTATION_SEQUENCE" Group="0x1001" Element="0x8B01" PMSVR="IDataObjectArray">` + "\n")
	indent(b, 5)
	b.WriteString("<Array>\n")
	for i, lvl := range d.Levels {
		spacing := formatFloat(d.PixelSpacingMM * float64(uint64(1)<<uint(i)))
		indent(b, 6)
		b.WriteString(`<DataObject ObjectType="PixelDataRepresentation">` + "\n")
		attr(b, 7, "DICOM_PIXEL_SPACING", "0x0028", "0x0030", "IDoubleArray",
			quoted(spacing)+" "+quoted(spacing))
		attr(b, 7, "PIIM_DP_PIXEL_DATA_REPRESENTATION_POSITION", "0x101D", "0x100B", "IDoubleArray",
			quoted("0")+" "+quoted("0")+" "+quoted("0"))
		attr(b, 7, "PIIM_PIXEL_DATA_REPRESENTATION_COLUMNS", "0x2001", "0x115E", "IUInt32", strconv.Itoa(lvl.Width))
		attr(b, 7, "PIIM_PIXEL_DATA_REPRESENTATION_NUMBER", "0x1001", "0x8B02", "IUInt16", strconv.Itoa(i))
		attr(b, 7, "PIIM_PIXEL_DATA_REPRESENTATION_ROWS", "0x2001", "0x115D", "IUInt32", strconv.Itoa(lvl.Height))
		indent(b, 6)
		b.WriteString("</DataObject>\n")
	}
	indent(b, 5)
	b.WriteString("</Array>\n")
	indent(b, 4)
	b.WriteString("</Attribute>\n")

	attr(b, 4, "PIM_DP_IMAGE_COLUMNS", "0x301D", "0x1007", "IUInt32", strconv.Itoa(d.Width))
	attr(b, 4, "PIM_DP_IMAGE_ROWS", "0x301D", "0x1006", "IUInt32", strconv.Itoa(d.Height))
	attr(b, 4, "PIM_DP_SOURCE_FILE", "0x301D", "0x1000", "IString", "%FILENAME%")

	indent(b, 3)
	b.WriteString("</DataObject>\n")
}

func (d *Document) renderAssociated(b *strings.Builder, imageType string, jpegData []byte) {
	indent(b, 3)
	b.WriteString(`<DataObject ObjectType="DPScannedImage">` + "\n")
	attr(b, 4, "PIM_DP_IMAGE_DATA", "0x301D", "0x1005", "IString", base64.StdEncoding.EncodeToString(jpegData))
	attr(b, 4, "PIM_DP_IMAGE_TYPE", "0x301D", "0x1004", "IString", imageType)
	indent(b, 3)
	b.WriteString("</DataObject>\n")
}

func attr(b *strings.Builder, depth int, name, group, element, pmsvr, value string) {
	indent(b, depth)
	fmt.Fprintf(b, `<Attribute Name=%q Group=%q Element=%q PMSVR=%q>%s</Attribute>`,
		name, group, element, pmsvr, value)
	b.WriteByte('\n')
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteByte('\t')
	}
}

func quoted(s string) string { return "&quot;" + s + "&quot;" }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
