// Package transcribe bridges WAV uploads to an external streaming
// transcoder over TCP. Each event on the wire is a JSON header line
// terminated by a newline, optionally followed by a raw payload of the
// announced length.
package transcribe

import (
	"encoding/binary"
	"fmt"
)

// Format describes the PCM encoding carried by a WAV container.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// Width returns the sample width in bytes.
func (f Format) Width() int { return f.BitDepth / 8 }

// Validate reports whether the transcoder accepts this encoding. The
// bridge only forwards 16 kHz, 16-bit, mono PCM.
func (f Format) Validate() error {
	if f.SampleRate != 16000 {
		return fmt.Errorf("transcribe: unsupported sample rate %d Hz (want 16000)", f.SampleRate)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("transcribe: unsupported bit depth %d (want 16)", f.BitDepth)
	}
	if f.Channels != 1 {
		return fmt.Errorf("transcribe: unsupported channel count %d (want mono)", f.Channels)
	}
	return nil
}

// ParseWAV reads a RIFF/WAVE container and returns its format and raw
// PCM samples. Chunks other than fmt and data are skipped. Only
// uncompressed PCM is accepted.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("transcribe: not a RIFF/WAVE file")
	}

	var (
		format  Format
		pcm     []byte
		sawFmt  bool
		sawData bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Format{}, nil, fmt.Errorf("transcribe: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("transcribe: fmt chunk too short")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("transcribe: unsupported audio format %d (want PCM)", audioFormat)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			format.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			pcm = data[body : body+size]
			sawData = true
		}

		// Chunks are word aligned; odd sizes carry a padding byte.
		if size%2 == 1 {
			size++
		}
		off = body + size
	}

	if !sawFmt {
		return Format{}, nil, fmt.Errorf("transcribe: missing fmt chunk")
	}
	if !sawData {
		return Format{}, nil, fmt.Errorf("transcribe: missing data chunk")
	}
	return format, pcm, nil
}
