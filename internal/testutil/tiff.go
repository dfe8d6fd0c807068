// Package testutil builds small binary fixtures for metadata tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"sort"
)

const (
	tagGPSVersionID      = 0x0000
	tagGPSLatitudeRef    = 0x0001
	tagGPSLatitude       = 0x0002
	tagGPSLongitudeRef   = 0x0003
	tagGPSLongitude      = 0x0004
	tagMake              = 0x010F
	tagOrientation       = 0x0112
	tagExifIFDPointer    = 0x8769
	tagGPSInfoIFDPointer = 0x8825
	tagDateTimeOriginal  = 0x9003

	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

var order = binary.LittleEndian

// Rational is a numerator/denominator pair.
type Rational [2]uint32

// DMS is a degrees/minutes/seconds triplet.
type DMS [3]Rational

// GPSTags describes the GPS IFD. Omit* flags drop individual tags.
type GPSTags struct {
	LatitudeRef  string
	Latitude     DMS
	LongitudeRef string
	Longitude    DMS

	OmitLatitude     bool
	OmitLatitudeRef  bool
	OmitLongitude    bool
	OmitLongitudeRef bool
}

// ExifFixture describes a little-endian TIFF with optional Exif and GPS IFDs.
type ExifFixture struct {
	Make             string
	Orientation      uint16
	DateTimeOriginal string
	GPS              *GPSTags
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// FortalezaGPS is 3°43'1.9"S 38°31'41.9"W.
func FortalezaGPS() *GPSTags {
	return &GPSTags{
		LatitudeRef:  "S",
		Latitude:     DMS{{3, 1}, {43, 1}, {19, 10}},
		LongitudeRef: "W",
		Longitude:    DMS{{38, 1}, {31, 1}, {419, 10}},
	}
}

// Bytes encodes the fixture as a raw TIFF stream.
func (f ExifFixture) Bytes() []byte {
	ifd0 := []ifdEntry{}
	if f.Make != "" {
		ifd0 = append(ifd0, asciiEntry(tagMake, f.Make))
	}
	if f.Orientation != 0 {
		ifd0 = append(ifd0, shortEntry(tagOrientation, f.Orientation))
	}

	var exifIFD []ifdEntry
	if f.DateTimeOriginal != "" {
		exifIFD = append(exifIFD, asciiEntry(tagDateTimeOriginal, f.DateTimeOriginal))
	}

	var gpsIFD []ifdEntry
	if f.GPS != nil {
		gpsIFD = append(gpsIFD, ifdEntry{tag: tagGPSVersionID, typ: typeByte, count: 4, data: []byte{2, 3, 0, 0}})
		if !f.GPS.OmitLatitudeRef {
			gpsIFD = append(gpsIFD, asciiEntry(tagGPSLatitudeRef, f.GPS.LatitudeRef))
		}
		if !f.GPS.OmitLatitude {
			gpsIFD = append(gpsIFD, rationalEntry(tagGPSLatitude, f.GPS.Latitude))
		}
		if !f.GPS.OmitLongitudeRef {
			gpsIFD = append(gpsIFD, asciiEntry(tagGPSLongitudeRef, f.GPS.LongitudeRef))
		}
		if !f.GPS.OmitLongitude {
			gpsIFD = append(gpsIFD, rationalEntry(tagGPSLongitude, f.GPS.Longitude))
		}
	}

	// Pointer values do not change block sizes, so lay out with zeros first.
	if len(exifIFD) > 0 {
		ifd0 = append(ifd0, longEntry(tagExifIFDPointer, 0))
	}
	if len(gpsIFD) > 0 {
		ifd0 = append(ifd0, longEntry(tagGPSInfoIFDPointer, 0))
	}

	const ifd0Offset = 8
	exifOffset := ifd0Offset + uint32(len(encodeIFD(ifd0, ifd0Offset)))
	gpsOffset := exifOffset
	if len(exifIFD) > 0 {
		gpsOffset += uint32(len(encodeIFD(exifIFD, exifOffset)))
	}

	for i := range ifd0 {
		switch ifd0[i].tag {
		case tagExifIFDPointer:
			ifd0[i] = longEntry(tagExifIFDPointer, exifOffset)
		case tagGPSInfoIFDPointer:
			ifd0[i] = longEntry(tagGPSInfoIFDPointer, gpsOffset)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	_ = binary.Write(&buf, order, uint16(42))
	_ = binary.Write(&buf, order, uint32(ifd0Offset))
	buf.Write(encodeIFD(ifd0, ifd0Offset))
	if len(exifIFD) > 0 {
		buf.Write(encodeIFD(exifIFD, exifOffset))
	}
	if len(gpsIFD) > 0 {
		buf.Write(encodeIFD(gpsIFD, gpsOffset))
	}
	return buf.Bytes()
}

func encodeIFD(entries []ifdEntry, base uint32) []byte {
	sorted := make([]ifdEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tag < sorted[j].tag })

	dirLen := uint32(2 + 12*len(sorted) + 4)
	var dir, data bytes.Buffer

	_ = binary.Write(&dir, order, uint16(len(sorted)))
	for _, e := range sorted {
		_ = binary.Write(&dir, order, e.tag)
		_ = binary.Write(&dir, order, e.typ)
		_ = binary.Write(&dir, order, e.count)
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			dir.Write(inline)
			continue
		}
		_ = binary.Write(&dir, order, base+dirLen+uint32(data.Len()))
		data.Write(e.data)
		if data.Len()%2 == 1 {
			data.WriteByte(0)
		}
	}
	_ = binary.Write(&dir, order, uint32(0))

	return append(dir.Bytes(), data.Bytes()...)
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

func shortEntry(tag uint16, v uint16) ifdEntry {
	b := make([]byte, 2)
	order.PutUint16(b, v)
	return ifdEntry{tag: tag, typ: typeShort, count: 1, data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: typeLong, count: 1, data: b}
}

func rationalEntry(tag uint16, dms DMS) ifdEntry {
	b := make([]byte, 0, 24)
	for _, r := range dms {
		b = order.AppendUint32(b, r[0])
		b = order.AppendUint32(b, r[1])
	}
	return ifdEntry{tag: tag, typ: typeRational, count: 3, data: b}
}
