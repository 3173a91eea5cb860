package capture

import (
	"bytes"
	"encoding/binary"
)

const (
	wavPCMFormatTag  = 1  // WAV PCM format tag
	wavBitsPerSample = 16 // s16le
)

// EncodeWAV wraps raw s16le PCM in a WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	var buf bytes.Buffer
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * bytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormatTag))
	binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRateHz))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVHeaderSize is the byte offset at which PCM data begins in EncodeWAV
// output.
const WAVHeaderSize = 44
