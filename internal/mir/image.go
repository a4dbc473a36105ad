package mir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"miri/internal/layout"
	"miri/internal/types"
)

// Current schema version - increment when the image payload format changes
const imageSchemaVersion uint16 = 1

const imageMagic = "mirpack"

// ErrImageSchema reports an image written by an incompatible version.
var ErrImageSchema = errors.New("unsupported module image schema")

// imagePayload is the on-disk form of a linked module (.mirpack).
type imagePayload struct {
	Magic  string
	Schema uint16
	Target string

	Types   types.Table
	Funcs   []*Func
	Statics []*Static
}

// EncodeImage serialises m with msgpack.
func EncodeImage(w io.Writer, m *Module) error {
	if m == nil {
		return errors.New("encode image: nil module")
	}
	payload := imagePayload{
		Magic:   imageMagic,
		Schema:  imageSchemaVersion,
		Target:  m.Target.Triple,
		Types:   m.Types.Table(),
		Funcs:   m.SortedFuncs(),
		Statics: m.SortedStatics(),
	}
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(&payload); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	return nil
}

// DecodeImage reads a module written by EncodeImage.
func DecodeImage(r io.Reader) (*Module, error) {
	var payload imagePayload
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if payload.Magic != imageMagic {
		return nil, fmt.Errorf("decode image: bad magic %q", payload.Magic)
	}
	if payload.Schema != imageSchemaVersion {
		return nil, fmt.Errorf("decode image: %w: have %d, want %d", ErrImageSchema, payload.Schema, imageSchemaVersion)
	}
	target, ok := layout.TargetByTriple(payload.Target)
	if !ok {
		return nil, fmt.Errorf("decode image: unknown target %q", payload.Target)
	}
	typesIn, err := types.FromTable(payload.Types)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	m := NewModule(target, typesIn)
	for _, f := range payload.Funcs {
		if f == nil {
			continue
		}
		if m.Function(f.Path) != nil {
			return nil, fmt.Errorf("decode image: duplicate function %s", f.Path.Key())
		}
		m.AddFunc(f)
	}
	for _, s := range payload.Statics {
		if s == nil {
			continue
		}
		m.AddStatic(s)
	}
	return m, nil
}

// WriteImageFile atomically writes m to path.
func WriteImageFile(path string, m *Module) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".mirpack-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) //nolint:errcheck // already renamed on success

	if err := EncodeImage(f, m); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadImageFile loads a module image from path.
func ReadImageFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
