package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/murmur/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})

	if len(wav) != 44+len(pcm) {
		t.Fatalf("length: got %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d", got)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("payload mismatch")
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{-5, 5, -6, 6})
	f := audio.Format{SampleRate: 44100, Channels: 2}

	got, gotF, err := audio.DecodeWAV(audio.EncodeWAV(pcm, f))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotF != f {
		t.Errorf("format: got %+v, want %+v", gotF, f)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm: got %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{9, 9})
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	var buf bytes.Buffer
	buf.Write(wav[:36])
	buf.Write(list)
	buf.Write(wav[36:])

	got, _, err := audio.DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm: got %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	t.Parallel()
	if _, _, err := audio.DecodeWAV([]byte("OggS....")); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("expected ErrNotWAV, got %v", err)
	}

	eightBit := audio.EncodeWAV([]byte{1, 2}, audio.SpeechFormat)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)
	if _, _, err := audio.DecodeWAV(eightBit); err == nil {
		t.Error("expected error for 8-bit wav")
	}

	noData := audio.EncodeWAV(nil, audio.SpeechFormat)[:36]
	if _, _, err := audio.DecodeWAV(noData); err == nil {
		t.Error("expected error for wav without data chunk")
	}
}
