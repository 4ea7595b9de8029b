// Package archive stores a run's lattice history as a zstd-compressed JSONL
// file: one header line followed by one RLE frame per simulated day.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/seir-lattice/internal/lattice"
)

// Version is the current archive format version.
const Version = 1

var (
	ErrBadHeader = errors.New("archive: bad header")
	ErrBadFrame  = errors.New("archive: bad frame")
)

// Header is the first line of an archive.
type Header struct {
	Version    int       `json:"version"`
	RunID      string    `json:"run_id"`
	Seed       int64     `json:"seed"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Population int       `json:"population"`
	EdgeMode   string    `json:"edge_mode,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type frame struct {
	Day   int    `json:"day"`
	Cells string `json:"cells"`
}

// Writer appends day frames to an archive. It is safe for concurrent use.
type Writer struct {
	hdr Header

	mu   sync.Mutex
	f    *os.File
	enc  *zstd.Encoder
	w    *bufio.Writer
	next int
}

// Create truncates or creates path and writes the header line.
func Create(path string, hdr Header) (*Writer, error) {
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d lattice", ErrBadHeader, hdr.Width, hdr.Height)
	}
	hdr.Version = Version
	if hdr.CreatedAt.IsZero() {
		hdr.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &Writer{hdr: hdr, f: f, enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}
	if err := w.writeLine(hdr); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// WriteFrame appends the lattice for day. Days must be written in order
// starting at 0.
func (w *Writer) WriteFrame(day int, snap lattice.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return errors.New("archive: write after close")
	}
	if day != w.next {
		return fmt.Errorf("%w: day %d, expected %d", ErrBadFrame, day, w.next)
	}
	if snap.Width != w.hdr.Width || snap.Height != w.hdr.Height || len(snap.Cells) != w.hdr.Width*w.hdr.Height {
		return fmt.Errorf("%w: day %d is %dx%d", ErrBadFrame, day, snap.Width, snap.Height)
	}
	if err := w.writeLine(frame{Day: day, Cells: EncodeRLE(snap.Cells)}); err != nil {
		return err
	}
	w.next++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

func (w *Writer) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Close flushes the stream and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
		w.w = nil
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	return errors.Join(errs...)
}

// ReadHistory decodes a whole archive.
func ReadHistory(path string) (Header, []lattice.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, nil, err
	}
	defer dec.Close()

	return decode(bufio.NewReaderSize(dec, 128*1024))
}

func decode(r io.Reader) (Header, []lattice.Snapshot, error) {
	jd := json.NewDecoder(r)

	var hdr Header
	if err := jd.Decode(&hdr); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if hdr.Version != Version {
		return Header{}, nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, hdr.Version)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return Header{}, nil, fmt.Errorf("%w: %dx%d lattice", ErrBadHeader, hdr.Width, hdr.Height)
	}

	size := hdr.Width * hdr.Height
	var history []lattice.Snapshot
	for {
		var fr frame
		if err := jd.Decode(&fr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return hdr, history, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		if fr.Day != len(history) {
			return hdr, history, fmt.Errorf("%w: day %d, expected %d", ErrBadFrame, fr.Day, len(history))
		}
		cells, err := DecodeRLE(fr.Cells, size)
		if err != nil {
			return hdr, history, fmt.Errorf("%w: day %d: %v", ErrBadFrame, fr.Day, err)
		}
		if len(cells) != size {
			return hdr, history, fmt.Errorf("%w: day %d has %d cells, want %d", ErrBadFrame, fr.Day, len(cells), size)
		}
		history = append(history, lattice.Snapshot{Width: hdr.Width, Height: hdr.Height, Cells: cells})
	}
	return hdr, history, nil
}
