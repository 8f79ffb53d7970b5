package table

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"GoKmerSpectra/internal/model"
)

const spillChunk = 4096

// spillFile buffers k-mers and writes them to disk as gob-encoded chunks.
type spillFile struct {
	file *os.File
	w    *bufio.Writer
	enc  *gob.Encoder
	buf  []model.KMer
}

func createSpillFile(path string) (*spillFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create spill file '%s': %w", path, err)
	}
	w := bufio.NewWriter(file)
	return &spillFile{
		file: file,
		w:    w,
		enc:  gob.NewEncoder(w),
		buf:  make([]model.KMer, 0, spillChunk),
	}, nil
}

func (s *spillFile) append(km model.KMer) error {
	s.buf = append(s.buf, km)
	if len(s.buf) < spillChunk {
		return nil
	}
	return s.flushChunk()
}

func (s *spillFile) flushChunk() error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.enc.Encode(s.buf); err != nil {
		return fmt.Errorf("failed to encode spill chunk: %w", err)
	}
	s.buf = s.buf[:0]
	return nil
}

// drain calls fn for every spilled k-mer, in write order.
func (s *spillFile) drain(fn func(model.KMer)) error {
	if err := s.flushChunk(); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush spill file: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spill file: %w", err)
	}

	dec := gob.NewDecoder(bufio.NewReader(s.file))
	var chunk []model.KMer
	for {
		chunk = chunk[:0]
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode spill chunk: %w", err)
		}
		for _, km := range chunk {
			fn(km)
		}
	}
}

func (s *spillFile) remove() error {
	name := s.file.Name()
	closeErr := s.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spill file: %w", err)
	}
	return closeErr
}
