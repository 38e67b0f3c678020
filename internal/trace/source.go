package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Source yields decoded instructions. Next returns io.EOF once the trace is
// exhausted; any other error terminates the trace.
type Source interface {
	Next() (Instruction, error)
}

// Filename returns the conventional trace path for a core: input_<id>.txt
// under dir.
func Filename(dir string, core int) string {
	return filepath.Join(dir, fmt.Sprintf("input_%d.txt", core))
}

// FileSource reads instructions line by line from a trace file. Blank lines
// are skipped; a malformed line fails the trace with its line number.
type FileSource struct {
	f    *os.File
	sc   *bufio.Scanner
	line int
}

// Open opens the trace file at path.
func Open(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return &FileSource{f: f, sc: bufio.NewScanner(f)}, nil
}

// Next returns the next instruction, or io.EOF at end of file.
func (s *FileSource) Next() (Instruction, error) {
	for s.sc.Scan() {
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" {
			continue
		}
		inst, err := Parse(text)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s:%d: %w", s.f.Name(), s.line, err)
		}
		return inst, nil
	}
	if err := s.sc.Err(); err != nil {
		return Instruction{}, fmt.Errorf("read trace: %w", err)
	}
	return Instruction{}, io.EOF
}

// Close closes the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }

// SliceSource serves a fixed instruction list. Used by tests.
type SliceSource struct {
	insts []Instruction
	pos   int
}

// FromInstructions wraps insts in a Source.
func FromInstructions(insts ...Instruction) *SliceSource {
	return &SliceSource{insts: insts}
}

func (s *SliceSource) Next() (Instruction, error) {
	if s.pos >= len(s.insts) {
		return Instruction{}, io.EOF
	}
	inst := s.insts[s.pos]
	s.pos++
	return inst, nil
}
