package strategies

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// LoadFile reads a strategy config from a YAML or JSON file. Defaults are
// applied and the result is validated.
func LoadFile(path string) (models.StrategyConfig, error) {
	return LoadFileWithLotSize(path, 0)
}

// LoadFileWithLotSize is LoadFile with a fallback contract size for files
// that leave lot_size out.
func LoadFileWithLotSize(path string, lotSize int) (models.StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.StrategyConfig{}, fmt.Errorf("reading strategy file: %w", err)
	}
	cfg, err := decode(bytes.NewReader(data), lotSize)
	if err != nil {
		return cfg, apperrors.Wrapf(err, "strategy file %s", path)
	}
	return cfg, nil
}

// Decode parses one strategy document. Unknown keys are rejected so typos
// like "sl_pc" do not silently fall back to defaults.
func Decode(r io.Reader) (models.StrategyConfig, error) {
	return decode(r, 0)
}

func decode(r io.Reader, lotSize int) (models.StrategyConfig, error) {
	var cfg models.StrategyConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return cfg, apperrors.NewValidationError("strategy", nil, "empty document")
		}
		return cfg, fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	if cfg.LotSize == 0 {
		cfg.LotSize = lotSize
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg models.StrategyConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
