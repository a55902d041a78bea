package whisper

import "encoding/binary"

// pcmToFloat32 turns 16-bit signed little-endian PCM into float32 samples in
// [-1.0, 1.0], the input format whisper.cpp expects. A trailing odd byte is
// ignored.
func pcmToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = sampleAt(pcm, i)
	}
	return samples
}

// pcmToFloat32Mono down-mixes interleaved multi-channel PCM to mono by
// averaging each frame's channels. channels <= 1 passes through unchanged.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for f := range frames {
		var sum float32
		for ch := range channels {
			sum += sampleAt(pcm, f*channels+ch)
		}
		mono[f] = sum / float32(channels)
	}
	return mono
}

// sampleAt reads the i-th 16-bit sample as a normalized float32.
func sampleAt(pcm []byte, i int) float32 {
	return float32(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
}
