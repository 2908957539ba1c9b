package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// PCMFile is an append-only s16le sink backed by a file on disk.
type PCMFile struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	scratch []byte
	written int64
}

// CreatePCMFile truncates or creates the file at path.
func CreatePCMFile(path string) (*PCMFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcm sink: %w", err)
	}

	return &PCMFile{
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, 64*1024),
	}, nil
}

func (p *PCMFile) Path() string {
	return p.path
}

// Written reports the number of PCM bytes appended so far.
func (p *PCMFile) Written() int64 {
	return p.written
}

func (p *PCMFile) WriteSamples(samples []int16) error {
	need := len(samples) * 2
	if cap(p.scratch) < need {
		p.scratch = make([]byte, need)
	}
	b := p.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}

	n, err := p.buf.Write(b)
	p.written += int64(n)
	if err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	return nil
}

// Close flushes buffered samples and closes the file.
func (p *PCMFile) Close() error {
	flushErr := p.buf.Flush()
	closeErr := p.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush pcm: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close pcm: %w", closeErr)
	}
	return nil
}
