package stt

import (
	"context"
)

// Job is one finished utterance waiting for transcription.
type Job struct {
	ID        string
	UserID    string
	AudioPath string

	// OnText receives each transcribed line as soon as the engine prints it.
	OnText []func(text string)

	// Cleanup is called once for the capture copy and once for the
	// converted file after the engine exits, whatever the outcome.
	Cleanup func(path string)
}

func (j *Job) emit(text string) {
	for _, f := range j.OnText {
		f(text)
	}
}

// Converter turns a raw capture into something the engine can read. It
// returns the output path even on failure so partial output can be removed.
type Converter interface {
	Convert(ctx context.Context, pcmPath string) (string, error)
}

// Engine runs speech recognition on one audio file, calling emit for every
// piece of text it produces.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, emit func(string)) error
}
