package audio

import "encoding/binary"

const wavHeaderSize = 44

// EncodeWAV wraps float samples in a minimal mono 16-bit RIFF/WAVE
// container and returns the base64 of the whole buffer. The header is the
// canonical 44-byte layout: "RIFF"@0, "WAVE"@8, "fmt "@12 with chunk size
// 16, sample rate @24, bits-per-sample @34, "data"@36.
func EncodeWAV(samples []float32, sampleRate int) string {
	pcm := EncodePCM16(samples)
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // channels: mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)

	return ToBase64(buf)
}
