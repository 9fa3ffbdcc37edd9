package httpserver

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

const toneSampleRate = 16000

// Tone renders a mono 16-bit PCM WAV of a sine at freq Hz.
func Tone(d time.Duration, freq float64) []byte {
	n := int(d.Seconds() * toneSampleRate)
	var buf bytes.Buffer
	dataLen := uint32(n * 2)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, toneSampleRate, toneSampleRate * 2, 2, 16})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)

	// 10 ms fade at both ends avoids clicks.
	fade := toneSampleRate / 100
	samples := make([]int16, n)
	for i := range samples {
		amp := 0.3
		if i < fade {
			amp *= float64(i) / float64(fade)
		} else if n-i < fade {
			amp *= float64(n-i) / float64(fade)
		}
		samples[i] = int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/toneSampleRate))
	}
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// wavDuration returns the playing time of a PCM WAV payload.
func wavDuration(b []byte) (time.Duration, bool) {
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return 0, false
	}
	byteRate := binary.LittleEndian.Uint32(b[28:32])
	if byteRate == 0 {
		return 0, false
	}
	// Streamed WAVs from ffmpeg carry a placeholder data size.
	data := len(b) - 44
	return time.Duration(float64(data) / float64(byteRate) * float64(time.Second)), true
}
