package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotOpus is returned by [ParseOpusHead] when the packet is not an Opus
// identification header.
var ErrNotOpus = errors.New("audio: not an Opus identification header")

// OggReader splits an Ogg bitstream into packets. It assumes a single
// logical stream, which is what Discord voice messages contain.
type OggReader struct {
	r       *bufio.Reader
	partial []byte
	queue   [][]byte
	eos     bool
}

// NewOggReader returns a reader for the Ogg stream in r.
func NewOggReader(r io.Reader) *OggReader {
	return &OggReader{r: bufio.NewReader(r)}
}

// NextPacket returns the next complete packet, or io.EOF after the last one.
// A stream that ends inside a packet returns io.ErrUnexpectedEOF.
func (o *OggReader) NextPacket() ([]byte, error) {
	for len(o.queue) == 0 {
		if o.eos {
			return nil, io.EOF
		}
		if err := o.readPage(); err != nil {
			if errors.Is(err, io.EOF) {
				if len(o.partial) > 0 {
					return nil, io.ErrUnexpectedEOF
				}
				return nil, io.EOF
			}
			return nil, err
		}
	}
	p := o.queue[0]
	o.queue = o.queue[1:]
	return p, nil
}

// readPage reads one page and queues every packet it completes.
func (o *OggReader) readPage() error {
	var hdr [27]byte
	if _, err := io.ReadFull(o.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("audio: truncated ogg page header: %w", err)
		}
		return err
	}
	if string(hdr[0:4]) != "OggS" {
		return errors.New("audio: missing ogg capture pattern")
	}
	if hdr[4] != 0 {
		return fmt.Errorf("audio: unsupported ogg version %d", hdr[4])
	}
	headerType := hdr[5]
	segments := make([]byte, hdr[26])
	if _, err := io.ReadFull(o.r, segments); err != nil {
		return fmt.Errorf("audio: read ogg segment table: %w", err)
	}

	// A page that does not continue a packet discards any stale partial.
	if headerType&0x01 == 0 {
		o.partial = o.partial[:0]
	}
	for _, size := range segments {
		seg := make([]byte, size)
		if _, err := io.ReadFull(o.r, seg); err != nil {
			return fmt.Errorf("audio: read ogg segment: %w", err)
		}
		o.partial = append(o.partial, seg...)
		if size < 255 {
			o.queue = append(o.queue, o.partial)
			o.partial = nil
		}
	}
	if headerType&0x04 != 0 {
		o.eos = true
	}
	return nil
}

// OpusHead is the identification header of an Ogg Opus stream.
type OpusHead struct {
	Channels        int
	PreSkip         int
	InputSampleRate int
}

// ParseOpusHead decodes an OpusHead packet.
func ParseOpusHead(p []byte) (OpusHead, error) {
	if len(p) < 19 || string(p[0:8]) != "OpusHead" {
		return OpusHead{}, ErrNotOpus
	}
	h := OpusHead{
		Channels:        int(p[9]),
		PreSkip:         int(binary.LittleEndian.Uint16(p[10:12])),
		InputSampleRate: int(binary.LittleEndian.Uint32(p[12:16])),
	}
	if h.Channels < 1 || h.Channels > 2 {
		return OpusHead{}, fmt.Errorf("audio: unsupported opus channel count %d", h.Channels)
	}
	return h, nil
}

// IsOpusTags reports whether p is an OpusTags comment packet.
func IsOpusTags(p []byte) bool {
	return len(p) >= 8 && string(p[0:8]) == "OpusTags"
}
