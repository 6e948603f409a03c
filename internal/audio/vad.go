package audio

import (
	"math"

	"github.com/maxhawkins/go-webrtcvad"
)

// WebRTCVAD classifies frames as voiced or silent, falling back to an RMS
// energy gate when the frame shape is not one webrtcvad accepts.
type WebRTCVAD struct {
	vad          *webrtcvad.VAD
	rmsThreshold float64
}

func NewWebRTCVAD() (*WebRTCVAD, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}

	// Set aggressiveness (0-3, where 3 is most aggressive)
	vad.SetMode(2)

	return &WebRTCVAD{
		vad:          vad,
		rmsThreshold: 500.0, // Fallback RMS threshold
	}, nil
}

func (v *WebRTCVAD) IsSpeech(pcm []int16, sampleRate int) bool {
	// webrtcvad only takes 10/20/30ms mono frames; anything else goes
	// through the RMS gate. Voice frames here are 20ms at 48kHz.
	if !validFrameLen(len(pcm), sampleRate) {
		return v.rmsIsSpeech(pcm)
	}

	isSpeech, err := v.vad.Process(sampleRate, int16SliceToBytes(pcm))
	if err != nil {
		return v.rmsIsSpeech(pcm)
	}
	return isSpeech
}

func validFrameLen(samples, sampleRate int) bool {
	for _, ms := range []int{10, 20, 30} {
		if samples == sampleRate*ms/1000 {
			return true
		}
	}
	return false
}

func (v *WebRTCVAD) rmsIsSpeech(pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}

	var sum float64
	for _, sample := range pcm {
		sum += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sum / float64(len(pcm)))
	return rms > v.rmsThreshold
}

// Close releases nothing directly: the underlying webrtcvad handle is
// freed by the library's runtime finalizer.
func (v *WebRTCVAD) Close() error {
	return nil
}

func int16SliceToBytes(samples []int16) []byte {
	bytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		bytes[i*2] = byte(sample)
		bytes[i*2+1] = byte(sample >> 8)
	}
	return bytes
}
