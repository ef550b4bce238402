// Package archive persists trained models as a directory of files: a
// format-version marker, the vocabulary, the document and class barrels,
// and a YAML metadata file. Integers are big-endian, floats IEEE-754
// little-endian; barrel indexes support lazy column loading on read.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// FormatVersion is the archive's on-disk version. Version 3 and earlier
// wrote floats in host order and are rejected.
const FormatVersion = 4

// File names inside an archive directory.
const (
	versionFile  = "format-version"
	vocabFile    = "vocabulary"
	classFile    = "class-barrel"
	docFile      = "doc-barrel"
	metadataFile = "metadata"
	outFile      = "outfile"
)

// Archive errors.
var (
	ErrMissingFile   = errors.New("archive: missing required file")
	ErrFormatVersion = errors.New("archive: unsupported format version")
)

// Metadata describes a persisted model for tooling.
type Metadata struct {
	RunID      string    `yaml:"run_id"`
	Method     string    `yaml:"method"`
	EventModel string    `yaml:"event_model,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
	Classes    []string  `yaml:"classes"`
}

// Archive is a loaded model directory. Close releases the lazily-read
// barrel files.
type Archive struct {
	Vocab       *vocab.Map
	DocBarrel   *barrel.Barrel
	ClassBarrel *barrel.Barrel
	Meta        Metadata

	// OutFile is the optional text printed on query.
	OutFile string

	files []*os.File
}

// Close closes the archive's backing files.
func (a *Archive) Close() error {
	var first error
	for _, f := range a.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.files = nil
	return first
}

// Save writes the model directory. The class barrel is required; the
// document barrel may be nil when only inference is needed. runID stamps
// the metadata file; an empty id gets a fresh one.
func Save(dir string, doc, class *barrel.Barrel, runID string) error {
	if class == nil {
		return fmt.Errorf("archive: class barrel is required")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", dir, err)
	}

	if err := os.WriteFile(filepath.Join(dir, versionFile), []byte(strconv.Itoa(FormatVersion)+"\n"), 0o644); err != nil {
		return err
	}
	if err := writeVocabularyFile(filepath.Join(dir, vocabFile), class.Vocab); err != nil {
		return err
	}
	if err := writeBarrelFile(filepath.Join(dir, classFile), class); err != nil {
		return err
	}
	if doc != nil {
		if err := writeBarrelFile(filepath.Join(dir, docFile), doc); err != nil {
			return err
		}
	}

	meta := Metadata{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Classes:   class.Classes.Names(),
	}
	if class.Method != nil {
		meta.Method = class.Method.Name()
	}
	raw, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("archive: encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o644); err != nil {
		return err
	}
	logger.Info("archive saved", "dir", dir, "run_id", meta.RunID, "method", meta.Method)
	return nil
}

// Load opens a model directory. Barrel columns load lazily; callers must
// Close the archive when finished.
func Load(dir string) (*Archive, error) {
	version, err := readVersion(filepath.Join(dir, versionFile))
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFormatVersion, version, FormatVersion)
	}

	v, err := readVocabularyFile(filepath.Join(dir, vocabFile))
	if err != nil {
		return nil, err
	}

	a := &Archive{Vocab: v}

	class, f, err := readBarrelFile(filepath.Join(dir, classFile), v)
	if err != nil {
		return nil, err
	}
	a.ClassBarrel = class
	a.files = append(a.files, f)

	if _, err := os.Stat(filepath.Join(dir, docFile)); err == nil {
		doc, df, err := readBarrelFile(filepath.Join(dir, docFile), v)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DocBarrel = doc
		a.files = append(a.files, df)
	}

	if raw, err := os.ReadFile(filepath.Join(dir, metadataFile)); err == nil {
		if err := yaml.Unmarshal(raw, &a.Meta); err != nil {
			logger.Warn("archive metadata unreadable", "error", err)
		}
	}
	if raw, err := os.ReadFile(filepath.Join(dir, outFile)); err == nil {
		a.OutFile = strings.TrimSpace(string(raw))
	}

	// Rehydrate the method from the registry.
	if a.Meta.Method != "" {
		method, err := barrel.NewMethod(a.Meta.Method)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ClassBarrel.Method = method
		if a.DocBarrel != nil {
			a.DocBarrel.Method = method
		}
	}
	return a, nil
}

// readVersion tolerates a missing file as legacy version 3, which is then
// rejected by Load with a clear error.
func readVersion(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 3, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("archive: bad %s: %w", versionFile, err)
	}
	return n, nil
}
