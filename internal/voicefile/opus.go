package voicefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Ogg Opus always decodes at 48 kHz regardless of the input rate in OpusHead.
const opusSampleRate = 48000

// maxOpusFrameSize is the largest Opus frame (120 ms) in samples per channel.
const maxOpusFrameSize = opusSampleRate * 120 / 1000

// decodeOggOpus demuxes an Ogg Opus file and decodes it to interleaved PCM.
// The encoder pre-skip is trimmed from the start.
func decodeOggOpus(data []byte) ([]byte, audio.Format, error) {
	r := audio.NewOggReader(bytes.NewReader(data))

	first, err := r.NextPacket()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("voicefile: read opus header: %w", err)
	}
	head, err := audio.ParseOpusHead(first)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("voicefile: %w", err)
	}

	dec, err := gopus.NewDecoder(opusSampleRate, head.Channels)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("voicefile: create opus decoder: %w", err)
	}

	var samples []int16
	for {
		pkt, err := r.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("voicefile: read ogg: %w", err)
		}
		if audio.IsOpusTags(pkt) || len(pkt) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt, maxOpusFrameSize, false)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("voicefile: opus decode: %w", err)
		}
		samples = append(samples, pcm...)
	}

	skip := head.PreSkip * head.Channels
	if skip >= len(samples) {
		samples = nil
	} else {
		samples = samples[skip:]
	}
	return audio.Int16sToBytes(samples), audio.Format{SampleRate: opusSampleRate, Channels: head.Channels}, nil
}
