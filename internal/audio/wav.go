package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultSampleRate = 24000
	bitsPerSample     = 16
	numChannels       = 1
)

// wavHeader is the 44-byte canonical RIFF/WAVE header for PCM data.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newHeader(dataLen int, sampleRate int) wavHeader {
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataLen),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataLen),
	}
}

// EncodeWAV wraps raw mono PCM16LE samples in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	// Writes to a bytes.Buffer cannot fail.
	_ = WriteWAV(&buf, pcm, sampleRate)
	return buf.Bytes()
}

// WriteWAV streams a WAV container holding pcm to out.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if err := binary.Write(out, binary.LittleEndian, newHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// WriteWAVFile writes pcm as a WAV file at path. The file appears
// atomically: readers never see a partial container.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".wav-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteWAV(tmp, pcm, sampleRate); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PCMDuration is the playback length of mono PCM16LE data.
func PCMDuration(pcmLen int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := pcmLen / (bitsPerSample / 8)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// WAVDuration reads the data length and sample rate from a canonical WAV
// header. It returns zero for anything it cannot parse.
func WAVDuration(b []byte) time.Duration {
	if !IsWAV(b) || len(b) < 44 {
		return 0
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(b[:44]), binary.LittleEndian, &h); err != nil || h.ByteRate == 0 {
		return 0
	}
	return time.Duration(h.DataSize) * time.Second / time.Duration(h.ByteRate)
}
