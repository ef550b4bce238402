package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Archive framing. Integers are big-endian; floats are IEEE-754
// little-endian. Version 4 is the first version with portable floats;
// legacy host-order archives are rejected.
const (
	indexMagic    = "nexs-textcat dvindex"
	FormatVersion = 4

	noColumn = int64(-1)
)

// Archive errors.
var (
	ErrBadMagic      = errors.New("sparse index: bad magic")
	ErrFormatVersion = errors.New("sparse index: unsupported format version")
	ErrTruncated     = errors.New("sparse index: truncated archive")
)

// reader is the lazy-load state for an index opened from an archive.
type reader struct {
	src io.ReaderAt
	err error
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func writeFloat64(w io.Writer, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func readFloat64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// columnSize returns the encoded size of a column in bytes.
func columnSize(v *Vector) int64 {
	// entry count + IDF + entries of (di, count, weight)
	return 4 + 8 + int64(v.Len())*(4+4+8)
}

// WriteTo serializes the index: magic, version, term count, per-term offset
// table, then columns. Offsets are absolute so a reader can load columns on
// demand. Hidden terms are written like any other; hiding is session state.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := cw.Write([]byte(indexMagic)); err != nil {
		return cw.n, err
	}
	if err := writeInt32(cw, FormatVersion); err != nil {
		return cw.n, err
	}
	if err := writeInt32(cw, int32(len(x.cols))); err != nil {
		return cw.n, err
	}

	// The offset table is laid out before the columns, so every offset can
	// be computed ahead of writing.
	off := int64(len(indexMagic)) + 4 + 4 + int64(len(x.cols))*8
	offsets := make([]int64, len(x.cols))
	for wi := range x.cols {
		if x.cols[wi] == nil {
			offsets[wi] = noColumn
			continue
		}
		x.ensureLoaded(wi)
		offsets[wi] = off
		off += columnSize(x.cols[wi].vec)
	}
	for _, o := range offsets {
		if err := writeInt64(cw, o); err != nil {
			return cw.n, err
		}
	}

	for wi := range x.cols {
		if x.cols[wi] == nil {
			continue
		}
		v := x.cols[wi].vec
		if err := writeInt32(cw, int32(v.Len())); err != nil {
			return cw.n, err
		}
		if err := writeFloat64(cw, v.IDF); err != nil {
			return cw.n, err
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			if err := writeInt32(cw, int32(e.DI)); err != nil {
				return cw.n, err
			}
			if err := writeInt32(cw, int32(e.Count)); err != nil {
				return cw.n, err
			}
			if err := writeFloat64(cw, e.Weight); err != nil {
				return cw.n, err
			}
		}
	}
	return cw.n, nil
}

// Open reads the header and offset table from src and returns an index
// whose columns are loaded lazily on first access.
func Open(src io.ReaderAt) (*Index, error) {
	hdrLen := int64(len(indexMagic)) + 4 + 4
	hdr := make([]byte, hdrLen)
	if _, err := src.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if string(hdr[:len(indexMagic)]) != indexMagic {
		return nil, ErrBadMagic
	}
	version := int32(binary.BigEndian.Uint32(hdr[len(indexMagic):]))
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFormatVersion, version, FormatVersion)
	}
	numTerms := int(int32(binary.BigEndian.Uint32(hdr[len(indexMagic)+4:])))
	if numTerms < 0 {
		return nil, ErrTruncated
	}

	table := make([]byte, numTerms*8)
	if _, err := src.ReadAt(table, hdrLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	x := New()
	x.backing = &reader{src: src}
	x.cols = make([]*column, numTerms)
	for wi := 0; wi < numTerms; wi++ {
		off := int64(binary.BigEndian.Uint64(table[wi*8:]))
		if off == noColumn {
			continue
		}
		x.cols[wi] = &column{seek: off}
	}
	return x, nil
}

// Load materializes every lazy column, detaching the index from its backing
// reader. Returns the first load error encountered.
func (x *Index) Load() error {
	for wi := range x.cols {
		x.ensureLoaded(wi)
	}
	err := x.LoadErr()
	x.backing = nil
	return err
}

// LoadErr returns the first lazy-load failure, if any.
func (x *Index) LoadErr() error {
	if x.backing == nil {
		return nil
	}
	return x.backing.err
}

// ensureLoaded reads column wi from the backing file if it has not been
// materialized yet. A read failure is recorded in LoadErr and the column is
// left empty.
func (x *Index) ensureLoaded(wi int) {
	c := x.cols[wi]
	if c == nil || c.vec != nil {
		return
	}
	c.vec = &Vector{}
	if x.backing == nil || x.backing.err != nil {
		return
	}
	v, err := readColumnAt(x.backing.src, c.seek)
	if err != nil {
		x.backing.err = fmt.Errorf("column %d: %w", wi, err)
		return
	}
	c.vec = v
}

func readColumnAt(src io.ReaderAt, off int64) (*Vector, error) {
	head := make([]byte, 4+8)
	if _, err := src.ReadAt(head, off); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	n := int(int32(binary.BigEndian.Uint32(head[:4])))
	if n < 0 {
		return nil, ErrTruncated
	}
	v := &Vector{
		Entries: make([]Entry, n),
		IDF:     math.Float64frombits(binary.LittleEndian.Uint64(head[4:])),
	}
	body := make([]byte, n*(4+4+8))
	if _, err := src.ReadAt(body, off+4+8); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	p := 0
	for i := 0; i < n; i++ {
		v.Entries[i].DI = int(int32(binary.BigEndian.Uint32(body[p:])))
		v.Entries[i].Count = int(int32(binary.BigEndian.Uint32(body[p+4:])))
		v.Entries[i].Weight = math.Float64frombits(binary.LittleEndian.Uint64(body[p+8:]))
		p += 16
	}
	return v, nil
}

// countingWriter tracks bytes written for WriteTo's return value.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
