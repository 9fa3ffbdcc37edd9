package capture

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpegMicrophone_Args(t *testing.T) {
	m := NewFFmpegMicrophone("", "pulse", "default", "")
	assert.Equal(t, "ffmpeg", m.Command)
	assert.Equal(t, "wav", m.Container)

	args, err := m.Args(DefaultConstraints())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "pulse", "-i", "default",
		"-af", "afftdn",
		"-ac", "1", "-ar", "16000",
		"-c:a", "pcm_s16le", "-f", "wav",
		"-",
	}, args)

	m.Container = "webm"
	args, err = m.Args(Constraints{SampleRate: 48000})
	require.NoError(t, err)
	assert.NotContains(t, args, "afftdn")
	assert.Contains(t, args, "libopus")
	assert.Contains(t, args, "48000")

	m.Container = "mp3"
	_, err = m.Args(DefaultConstraints())
	assert.Error(t, err)
}

func TestNewFFmpegMicrophone_DeviceDefaults(t *testing.T) {
	assert.Equal(t, ":0", NewFFmpegMicrophone("", "avfoundation", "", "").InputDevice)
	assert.Equal(t, "audio=default", NewFFmpegMicrophone("", "dshow", "", "").InputDevice)
	assert.NotEmpty(t, NewFFmpegMicrophone("", "", "", "").InputFormat)
}

func samples(vals ...int16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func TestPCMMeter_SkipsHeaderAndSplitsSamples(t *testing.T) {
	m := &pcmMeter{skip: wavHeaderSize}
	m.observe(make([]byte, 40))
	assert.Zero(t, m.level())

	// Finish the header and deliver one full-scale sample split across reads.
	full := samples(-32768, -32768)
	m.observe(append(make([]byte, 4), full[:3]...))
	assert.InDelta(t, 1.0, m.level(), 1e-9)

	m.observe(append(full[3:], samples(0)...))
	assert.InDelta(t, 0.7071, m.level(), 1e-3)

	m.observe(samples(0, 0, 0))
	assert.Zero(t, m.level())
}
