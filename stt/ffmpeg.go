package stt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Captures are raw s16le at this rate and channel count.
const (
	SampleRate = 48000
	Channels   = 2
)

// FFmpeg converts raw s16le captures into WAV files next to them.
type FFmpeg struct {
	Path string
}

func (f *FFmpeg) binary() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

func wavPathFor(pcmPath string) string {
	return strings.TrimSuffix(pcmPath, ".pcm") + ".wav"
}

func (f *FFmpeg) args(in, out string) []string {
	return []string{
		"-y",
		"-f", "s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-i", in,
		out,
	}
}

func (f *FFmpeg) Convert(ctx context.Context, pcmPath string) (string, error) {
	out := wavPathFor(pcmPath)

	cmd := exec.CommandContext(ctx, f.binary(), f.args(pcmPath, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return out, fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 512))
	}

	return out, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
