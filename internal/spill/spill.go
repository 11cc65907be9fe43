// Package spill implements an on-disk, length-prefixed key sink for
// residual sets that exceed a build's configured memory budget (spec
// §3 Builder state: "optional on-disk spill files for residuals").
//
// A Spill is write-once-then-read-many: keys are appended during a
// level's residual phase, then Seal switches it to read mode, after
// which Rewind/Next may be called repeatedly — mirroring how the
// builder needs to re-walk a level's residual input as the next level's
// key source.
package spill

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	bbherrors "github.com/bbhash-go/bbhash/errors"
)

// Spill buffers keys in a temp file instead of RAM. The temp file is
// unlinked immediately after creation, following the common technique
// for anonymous scratch files on POSIX systems (the teacher's
// createTempFile takes the O_TMPFILE route to the same end): the
// directory entry disappears immediately, but the open file descriptor
// keeps the backing storage alive until Close.
type Spill struct {
	file    *os.File
	w       *bufio.Writer
	r       *bufio.Reader
	count   uint64
	sealed  bool
	lenBuf  [4]byte
}

// New creates a Spill backed by a new temp file under dir (os.TempDir()
// if dir is empty).
func New(dir string) (*Spill, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "bbhash-spill-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bbherrors.ErrSpillSetup, err)
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", bbherrors.ErrSpillSetup, err)
	}
	return &Spill{file: f, w: bufio.NewWriter(f)}, nil
}

// Put appends key to the spill file. Must not be called after Seal.
func (s *Spill) Put(key []byte) error {
	if s.sealed {
		panic("spill: Put after Seal")
	}
	binary.LittleEndian.PutUint32(s.lenBuf[:], uint32(len(key)))
	if _, err := s.w.Write(s.lenBuf[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(key); err != nil {
		return err
	}
	s.count++
	return nil
}

// Seal flushes buffered writes and switches the Spill to read mode.
// After Seal, Put must not be called again.
func (s *Spill) Seal() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.sealed = true
	return s.Rewind()
}

// Rewind seeks back to the first key. Only valid after Seal.
//
// The builder reads a sealed Spill front-to-back once for a level's fill
// phase and once more for its residual phase (and once for the fallback
// table after the last level), so a sequential-access hint before each
// replay is a safe best-effort win on platforms that support it
// (fadvise_linux.go).
func (s *Spill) Rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	fadviseSequential(int(s.file.Fd()), 0, 0)
	s.r = bufio.NewReader(s.file)
	return nil
}

// Next returns the next key, or ok=false at end of file. The returned
// slice is reused across calls; callers needing to retain it must copy.
func (s *Spill) Next(buf []byte) (key []byte, ok bool, err error) {
	if _, err := io.ReadFull(s.r, s.lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, err
	}
	n := binary.LittleEndian.Uint32(s.lenBuf[:])
	if cap(buf) < int(n) {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// Len returns the number of keys written so far.
func (s *Spill) Len() uint64 { return s.count }

// Close releases the underlying temp file. Safe to call once.
func (s *Spill) Close() error {
	return s.file.Close()
}

// Preallocate pre-allocates size bytes on disk for f, best-effort, using
// the platform's native reservation call (fallocate on Linux,
// F_PREALLOCATE on Darwin, Truncate elsewhere). Exported so the
// top-level serializer can reserve space for a cascade file before
// writing it sequentially, exactly as the spill file itself would if its
// final size were known upfront.
func Preallocate(f *os.File, size int64) error {
	return fallocateFile(f, size)
}

// FadviseSequential hints that fd will be read front-to-back starting at
// offset for length bytes (0 meaning "to EOF" on platforms that support
// it). Exported for the same reason as Preallocate.
func FadviseSequential(fd int, offset, length int64) {
	fadviseSequential(fd, offset, length)
}
