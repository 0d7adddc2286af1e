// Package audiotest builds audio containers for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
)

// OggPage describes one page to write with [OggStream].
type OggPage struct {
	// Segments are the lacing values' payloads, already split at 255 bytes.
	Segments [][]byte

	// Continued marks the page as continuing a packet from the previous page.
	Continued bool
}

// OggPackets lays packets out as an Ogg stream with one packet per page.
// The CRC field is left zero; readers under test do not verify it.
func OggPackets(packets ...[]byte) []byte {
	pages := make([]OggPage, 0, len(packets))
	for _, p := range packets {
		pages = append(pages, OggPage{Segments: Lace(p)})
	}
	return OggStream(pages...)
}

// Lace splits p into Ogg segments. A packet whose length is a multiple of
// 255 gets a trailing empty segment.
func Lace(p []byte) [][]byte {
	var segs [][]byte
	for len(p) >= 255 {
		segs = append(segs, p[:255])
		p = p[255:]
	}
	return append(segs, p)
}

// OggStream writes pages in order, flagging the first as beginning of
// stream and the last as end of stream.
func OggStream(pages ...OggPage) []byte {
	var buf bytes.Buffer
	for i, pg := range pages {
		var headerType byte
		if pg.Continued {
			headerType |= 0x01
		}
		if i == 0 {
			headerType |= 0x02
		}
		if i == len(pages)-1 {
			headerType |= 0x04
		}

		hdr := make([]byte, 27)
		copy(hdr[0:4], "OggS")
		hdr[5] = headerType
		binary.LittleEndian.PutUint32(hdr[14:18], 1)         // serial
		binary.LittleEndian.PutUint32(hdr[18:22], uint32(i)) // sequence
		hdr[26] = byte(len(pg.Segments))
		buf.Write(hdr)
		for _, s := range pg.Segments {
			buf.WriteByte(byte(len(s)))
		}
		for _, s := range pg.Segments {
			buf.Write(s)
		}
	}
	return buf.Bytes()
}

// OpusHead returns an OpusHead identification packet.
func OpusHead(channels, preSkip, inputRate int) []byte {
	p := make([]byte, 19)
	copy(p[0:8], "OpusHead")
	p[8] = 1
	p[9] = byte(channels)
	binary.LittleEndian.PutUint16(p[10:12], uint16(preSkip))
	binary.LittleEndian.PutUint32(p[12:16], uint32(inputRate))
	return p
}

// OpusTags returns a minimal OpusTags comment packet.
func OpusTags() []byte {
	p := []byte("OpusTags")
	p = binary.LittleEndian.AppendUint32(p, 6)
	p = append(p, "murmur"...)
	return binary.LittleEndian.AppendUint32(p, 0)
}
