package audio

import (
	"bytes"
	"encoding/binary"
)

// WAV container layout constants, 16-bit PCM with the standard 16-byte fmt
// chunk. The two size fields live at fixed offsets so an incremental writer
// can patch them when it closes the file.
const (
	WAVHeaderSize     = 44
	WAVRiffSizeOffset = 4
	WAVDataSizeOffset = 40
	wavBytesPerSample = 2
)

// WAVHeader builds a 44-byte RIFF/WAVE header for dataBytes of 16-bit PCM.
func WAVHeader(sampleRate, channels, dataBytes int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataBytes))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*wavBytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(channels*wavBytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataBytes))

	return buf.Bytes()
}

// PCMToWAV wraps mono samples in a complete WAV file, the shape the REST
// transcription engines expect.
func PCMToWAV(pcm []int16, sampleRate int) []byte {
	data := int16SliceToBytes(pcm)
	out := make([]byte, 0, WAVHeaderSize+len(data))
	out = append(out, WAVHeader(sampleRate, Channels, len(data))...)
	return append(out, data...)
}
