package stt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

// Whisper drives the whisper.cpp command line tool.
type Whisper struct {
	Path     string
	Model    string
	Language string
	Log      *log.Logger
}

func (w *Whisper) args(audioPath string) []string {
	lang := w.Language
	if lang == "" {
		lang = "pl"
	}
	return []string{"-m", w.Model, "-f", audioPath, "-l", lang}
}

// whisper-cli prefixes every segment with "[hh:mm:ss.mmm --> hh:mm:ss.mmm]".
var segmentStamp = regexp.MustCompile(`^\s*\[[0-9:.]+\s*-->\s*[0-9:.]+\]\s*`)

func cleanLine(line string) string {
	return strings.TrimSpace(segmentStamp.ReplaceAllString(line, ""))
}

// Transcribe starts the engine and streams its stdout line by line. A
// non-zero exit is reported as an error after all output was emitted.
func (w *Whisper) Transcribe(
	ctx context.Context,
	audioPath string,
	emit func(string),
) error {
	cmd := exec.CommandContext(ctx, w.Path, w.args(audioPath)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("whisper stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start whisper: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if text := cleanLine(scanner.Text()); text != "" {
			emit(text)
		}
	}
	scanErr := scanner.Err()

	err = cmd.Wait()
	if w.Log != nil {
		w.Log.Debug("whisper exited", "file", audioPath, "code", cmd.ProcessState.ExitCode())
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("whisper: %w", ctx.Err())
	case errors.As(err, &exitErr):
		return fmt.Errorf(
			"whisper exited with code %d: %s",
			exitErr.ExitCode(),
			tail(stderr.String(), 512),
		)
	case err != nil:
		return fmt.Errorf("wait for whisper: %w", err)
	case scanErr != nil:
		return fmt.Errorf("read whisper output: %w", scanErr)
	}

	return nil
}
