package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVHeaderLayout(t *testing.T) {
	h := WAVHeader(SampleRate, 1, 9600)

	require.Len(t, h, WAVHeaderSize)
	assert.Equal(t, "RIFF", string(h[0:4]))
	assert.Equal(t, "WAVE", string(h[8:12]))
	assert.Equal(t, "fmt ", string(h[12:16]))
	assert.Equal(t, "data", string(h[36:40]))

	assert.Equal(t, uint32(36+9600), binary.LittleEndian.Uint32(h[WAVRiffSizeOffset:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(h[22:]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(h[24:]))
	assert.Equal(t, uint32(SampleRate*2), binary.LittleEndian.Uint32(h[28:]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(h[34:]))
	assert.Equal(t, uint32(9600), binary.LittleEndian.Uint32(h[WAVDataSizeOffset:]))
}

func TestPCMToWAV(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768}
	wav := PCMToWAV(pcm, SampleRate)

	require.Len(t, wav, WAVHeaderSize+len(pcm)*2)
	assert.Equal(t, uint32(len(pcm)*2), binary.LittleEndian.Uint32(wav[WAVDataSizeOffset:]))
	assert.Equal(t, int16(1), int16(binary.LittleEndian.Uint16(wav[WAVHeaderSize+2:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(wav[WAVHeaderSize+8:])))
}
