package audio_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/audiotest"
)

func readAll(t *testing.T, data []byte) ([][]byte, error) {
	t.Helper()
	r := audio.NewOggReader(bytes.NewReader(data))
	var out [][]byte
	for {
		p, err := r.NextPacket()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

func TestOggReader_PacketPerPage(t *testing.T) {
	t.Parallel()
	long := bytes.Repeat([]byte{7}, 600)
	exact := bytes.Repeat([]byte{8}, 255)
	data := audiotest.OggPackets([]byte("first"), long, exact, []byte("last"))

	got, err := readAll(t, data)
	if err != nil {
		t.Fatalf("NextPacket: %v", err)
	}
	want := [][]byte{[]byte("first"), long, exact, []byte("last")}
	if len(got) != len(want) {
		t.Fatalf("packets: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("packet %d: got %d bytes, want %d", i, len(got[i]), len(want[i]))
		}
	}
}

func TestOggReader_PacketSpanningPages(t *testing.T) {
	t.Parallel()
	payload := bytes.Repeat([]byte{1}, 300)
	data := audiotest.OggStream(
		audiotest.OggPage{Segments: [][]byte{payload[:255]}},
		audiotest.OggPage{Segments: [][]byte{payload[255:], []byte("b")}, Continued: true},
	)

	got, err := readAll(t, data)
	if err != nil {
		t.Fatalf("NextPacket: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], payload) || string(got[1]) != "b" {
		t.Errorf("got %d packets, first %d bytes", len(got), len(got[0]))
	}
}

func TestOggReader_Errors(t *testing.T) {
	t.Parallel()

	if _, err := readAll(t, []byte("RIFF0000WAVEfmt ............")); err == nil {
		t.Error("expected error for non-ogg data")
	}

	unterminated := audiotest.OggStream(audiotest.OggPage{Segments: [][]byte{bytes.Repeat([]byte{1}, 255)}})
	// Clear the end-of-stream flag so the reader looks for more pages.
	unterminated[5] &^= 0x04
	if _, err := readAll(t, unterminated); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}

	full := audiotest.OggPackets([]byte("abcdef"))
	if _, err := readAll(t, full[:len(full)-2]); err == nil {
		t.Error("expected error for truncated segment")
	}
}

func TestParseOpusHead(t *testing.T) {
	t.Parallel()
	h, err := audio.ParseOpusHead(audiotest.OpusHead(2, 312, 48000))
	if err != nil {
		t.Fatalf("ParseOpusHead: %v", err)
	}
	if h.Channels != 2 || h.PreSkip != 312 || h.InputSampleRate != 48000 {
		t.Errorf("got %+v", h)
	}

	if _, err := audio.ParseOpusHead([]byte("OpusTags........")); !errors.Is(err, audio.ErrNotOpus) {
		t.Errorf("expected ErrNotOpus, got %v", err)
	}
	if _, err := audio.ParseOpusHead(audiotest.OpusHead(6, 0, 48000)); err == nil {
		t.Error("expected error for surround stream")
	}
	if !audio.IsOpusTags(audiotest.OpusTags()) {
		t.Error("IsOpusTags should recognise the comment header")
	}
}
