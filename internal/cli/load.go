package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/domain/model"
)

// Party and district IDs may contain dots, so keys are split on a byte
// that never appears in them.
const keyDelim = "\x1f"

// bytesProvider feeds an in-memory document, such as stdin, to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("bytes provider does not support Read")
}

// detectFormat picks the input format from the file extension, falling back
// to the content: BAZI blocks start with a =MARK= line.
func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".bazi", ".txt":
		return FormatBAZI
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("=")) {
		return FormatBAZI
	}
	return FormatYAML
}

// loadElection reads an election in the configured format. stdin is read
// when the path is "-".
func loadElection(cfg *Config, stdin io.Reader) (model.Election, error) {
	var (
		data []byte
		err  error
	)
	if cfg.Input == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = file.Provider(cfg.Input).ReadBytes()
	}
	if err != nil {
		return model.Election{}, fmt.Errorf("%w: %s: %w", ErrLoadInput, cfg.Input, err)
	}

	format := cfg.Format
	if format == FormatAuto {
		format = detectFormat(cfg.Input, data)
	}

	if format == FormatBAZI {
		doc, err := bazi.Decode(bytes.NewReader(data), bazi.WithCharset(cfg.Charset))
		if err != nil {
			return model.Election{}, fmt.Errorf("%w: %s: %w", ErrLoadInput, cfg.Input, err)
		}
		e, err := doc.Election()
		if err != nil {
			return model.Election{}, fmt.Errorf("%w: %s: %w", ErrLoadInput, cfg.Input, err)
		}
		return e, nil
	}

	// JSON is a subset of YAML, one parser serves both.
	var e model.Election
	if err := unmarshalDocument(data, &e); err != nil {
		return model.Election{}, fmt.Errorf("%w: %s: %w", ErrLoadInput, cfg.Input, err)
	}
	return e, nil
}

// loadReference reads a seat table keyed district -> party -> seats.
func loadReference(path string) (map[string]map[string]int, error) {
	data, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadInput, path, err)
	}
	ref := make(map[string]map[string]int)
	if err := unmarshalDocument(data, &ref); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadInput, path, err)
	}
	return ref, nil
}

func unmarshalDocument(data []byte, out any) error {
	k := koanf.New(keyDelim)
	if err := k.Load(bytesProvider(data), yaml.Parser()); err != nil {
		return err
	}
	return k.UnmarshalWithConf("", out, koanf.UnmarshalConf{Tag: "koanf"})
}
