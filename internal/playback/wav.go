package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// pcm is mono 16-bit audio at sampleRate.
type pcm struct {
	samples    []int16
	sampleRate int
}

// decodeWAV reads a little-endian PCM16 RIFF/WAVE payload and downmixes it to mono.
func decodeWAV(data []byte) (pcm, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return pcm{}, errors.New("not a RIFF/WAVE payload")
	}

	var (
		format     uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		body       []byte
		haveFmt    bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		start := offset + 8
		end := start + size
		if end > len(data) {
			// Streamed WAVs often carry a placeholder data size.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-start < 16 {
				return pcm{}, errors.New("wav fmt chunk too short")
			}
			chunk := data[start:end]
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			bits = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			body = data[start:end]
		}

		offset = end + size%2
		if body != nil {
			break
		}
	}

	switch {
	case !haveFmt:
		return pcm{}, errors.New("wav missing fmt chunk")
	case format != 1:
		return pcm{}, fmt.Errorf("unsupported wav format %d (want PCM)", format)
	case bits != 16:
		return pcm{}, fmt.Errorf("unsupported wav bit depth %d (want 16)", bits)
	case channels == 0:
		return pcm{}, errors.New("wav declares zero channels")
	case body == nil:
		return pcm{}, errors.New("wav missing data chunk")
	}

	frames := len(body) / (2 * int(channels))
	interleaved := make([]int16, frames*int(channels))
	if err := binary.Read(bytes.NewReader(body[:len(interleaved)*2]), binary.LittleEndian, interleaved); err != nil {
		return pcm{}, fmt.Errorf("read wav samples: %w", err)
	}

	if channels == 1 {
		return pcm{samples: interleaved, sampleRate: int(sampleRate)}, nil
	}
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < int(channels); c++ {
			sum += int(interleaved[i*int(channels)+c])
		}
		mono[i] = int16(sum / int(channels))
	}
	return pcm{samples: mono, sampleRate: int(sampleRate)}, nil
}
