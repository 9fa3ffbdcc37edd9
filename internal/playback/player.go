package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Player renders one decoded audio clip, blocking until it has finished.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// CommandPlayer writes each clip to a temporary file and hands it to an
// external player such as ffplay.
type CommandPlayer struct {
	name string
	args []string
	dir  string
}

// NewCommandPlayer parses a command line like "ffplay -nodisp -autoexit";
// the clip path is appended as the final argument.
func NewCommandPlayer(command string) (*CommandPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("playback: empty player command")
	}
	return &CommandPlayer{name: fields[0], args: fields[1:]}, nil
}

func (p *CommandPlayer) Play(ctx context.Context, audio []byte) error {
	f, err := os.CreateTemp(p.dir, "voicechat-*"+extension(audio))
	if err != nil {
		return fmt.Errorf("playback: temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		return fmt.Errorf("playback: write clip: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("playback: write clip: %w", err)
	}

	args := append(append([]string(nil), p.args...), f.Name())
	cmd := exec.CommandContext(ctx, p.name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("playback: %s: %w: %s", p.name, err, msg)
		}
		return fmt.Errorf("playback: %s: %w", p.name, err)
	}
	return nil
}

// extension guesses a file suffix from the clip's magic bytes so players
// that probe by name pick the right demuxer.
func extension(audio []byte) string {
	switch {
	case bytes.HasPrefix(audio, []byte("RIFF")):
		return ".wav"
	case bytes.HasPrefix(audio, []byte("OggS")):
		return ".ogg"
	case bytes.HasPrefix(audio, []byte("ID3")),
		len(audio) > 1 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0:
		return ".mp3"
	case bytes.HasPrefix(audio, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ".webm"
	default:
		return ".bin"
	}
}
