package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

const barrelMagic = "nexs-textcat barrel"

func putInt32(w io.Writer, v int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(v)))
	_, err := w.Write(buf[:])
	return err
}

func putFloat64(w io.Writer, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func putString(w io.Writer, s string) error {
	if err := putInt32(w, len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func getInt32(r io.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(int32(binary.BigEndian.Uint32(buf[:]))), nil
}

func getFloat64(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

func getString(r io.Reader) (string, error) {
	n, err := getInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("archive: negative string length")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func putFloats(w io.Writer, v []float64) error {
	if v == nil {
		return putInt32(w, -1)
	}
	if err := putInt32(w, len(v)); err != nil {
		return err
	}
	for _, f := range v {
		if err := putFloat64(w, f); err != nil {
			return err
		}
	}
	return nil
}

func getFloats(r io.Reader) ([]float64, error) {
	n, err := getInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	out := make([]float64, n)
	for i := range out {
		if out[i], err = getFloat64(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// writeVocabularyFile stores the vocabulary as int4str: a count followed by
// length-prefixed strings in id order. The hash table is re-derived on
// load.
func writeVocabularyFile(path string, v *vocab.Map) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := putInt32(w, v.Size()); err != nil {
		return err
	}
	for _, word := range v.Words() {
		if err := putString(w, word); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readVocabularyFile(path string) (*vocab.Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	n, err := getInt32(r)
	if err != nil {
		return nil, fmt.Errorf("archive: reading vocabulary: %w", err)
	}
	v := vocab.New(vocab.ModeClosed)
	for i := 0; i < n; i++ {
		word, err := getString(r)
		if err != nil {
			return nil, fmt.Errorf("archive: reading vocabulary: %w", err)
		}
		v.Add(word)
	}
	return v, nil
}

// writeBarrelFile stores one barrel: magic, version, method name, class
// flag, document records, classname map, then the sparse index with its
// own offset table.
func writeBarrelFile(path string, b *barrel.Barrel) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if _, err := io.WriteString(w, barrelMagic); err != nil {
		return err
	}
	if err := putInt32(w, FormatVersion); err != nil {
		return err
	}
	methodName := ""
	if b.Method != nil {
		methodName = b.Method.Name()
	}
	if err := putString(w, methodName); err != nil {
		return err
	}
	flag := 0
	if b.IsClassBarrel {
		flag = 1
	}
	if err := putInt32(w, flag); err != nil {
		return err
	}

	if err := putInt32(w, len(b.Docs)); err != nil {
		return err
	}
	for i := range b.Docs {
		if err := writeDoc(w, &b.Docs[i]); err != nil {
			return err
		}
	}

	names := b.Classes.Names()
	if err := putInt32(w, len(names)); err != nil {
		return err
	}
	for _, name := range names {
		if err := putString(w, name); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if _, err := b.Index.WriteTo(f); err != nil {
		return err
	}
	return nil
}

func writeDoc(w io.Writer, d *corpus.Doc) error {
	if err := putString(w, d.Name); err != nil {
		return err
	}
	if err := putInt32(w, int(d.Tag)); err != nil {
		return err
	}
	if err := putInt32(w, d.Class); err != nil {
		return err
	}
	if err := putInt32(w, d.WordCount); err != nil {
		return err
	}
	if err := putFloat64(w, d.Normalizer); err != nil {
		return err
	}
	if err := putFloat64(w, d.Prior); err != nil {
		return err
	}
	if err := putFloats(w, d.Labels); err != nil {
		return err
	}
	return putFloats(w, d.ClassDist)
}

// readBarrelFile opens a barrel with a lazily-loaded index; the returned
// file must stay open while the barrel is in use.
func readBarrelFile(path string, v *vocab.Map) (*barrel.Barrel, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
	}

	r := &trackingReader{f: f}
	magic := make([]byte, len(barrelMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != barrelMagic {
		f.Close()
		return nil, nil, fmt.Errorf("archive: %s: bad barrel magic", path)
	}
	version, err := getInt32(r)
	if err != nil || version != FormatVersion {
		f.Close()
		return nil, nil, fmt.Errorf("%w: barrel %s", ErrFormatVersion, path)
	}

	b := &barrel.Barrel{Vocab: v, Classes: corpus.NewClassMap()}
	methodName, err := getString(r)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if methodName != "" {
		if m, err := barrel.NewMethod(methodName); err == nil {
			b.Method = m
		}
	}
	flag, err := getInt32(r)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	b.IsClassBarrel = flag == 1

	numDocs, err := getInt32(r)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	for i := 0; i < numDocs; i++ {
		d, err := readDoc(r)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("archive: %s doc %d: %w", path, i, err)
		}
		b.Docs = append(b.Docs, d)
	}

	numNames, err := getInt32(r)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	for i := 0; i < numNames; i++ {
		name, err := getString(r)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		b.Classes.Intern(name)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	section := io.NewSectionReader(f, r.n, info.Size()-r.n)
	idx, err := index.Open(section)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("archive: %s: %w", path, err)
	}
	b.Index = idx
	return b, f, nil
}

func readDoc(r io.Reader) (corpus.Doc, error) {
	var d corpus.Doc
	var err error
	if d.Name, err = getString(r); err != nil {
		return d, err
	}
	tag, err := getInt32(r)
	if err != nil {
		return d, err
	}
	d.Tag = corpus.Tag(tag)
	if d.Class, err = getInt32(r); err != nil {
		return d, err
	}
	if d.WordCount, err = getInt32(r); err != nil {
		return d, err
	}
	if d.Normalizer, err = getFloat64(r); err != nil {
		return d, err
	}
	if d.Prior, err = getFloat64(r); err != nil {
		return d, err
	}
	if d.Labels, err = getFloats(r); err != nil {
		return d, err
	}
	if d.ClassDist, err = getFloats(r); err != nil {
		return d, err
	}
	return d, nil
}

// trackingReader counts consumed bytes so the index section offset is
// known without buffering.
type trackingReader struct {
	f *os.File
	n int64
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.f.Read(p)
	t.n += int64(n)
	return n, err
}
