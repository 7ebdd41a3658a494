package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
	"github.com/ryanscovill/jp-work-automation/internal/pdfdata"
)

// LoadMapping reads the mapping file named by the config, or decodes the
// inline nop block when no path is set.
func LoadMapping(cfg config.Config) (mapping.Mapping, error) {
	if cfg.Mapping.Path != "" {
		return mapping.LoadFile(cfg.Mapping.Path)
	}
	if !cfg.HasInlineMapping() {
		return mapping.Mapping{}, errors.New("no mapping configured")
	}
	m, err := mapping.FromNode(&cfg.NOP)
	if err != nil {
		return mapping.Mapping{}, fmt.Errorf("inline mapping: %w", err)
	}
	return m, nil
}

// LoadRecord reads a data record from a JSON file or derives one from a
// source PDF.
func LoadRecord(path string, logger *zap.Logger) (mapping.Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdfdata.Extract(path, logger)
	}
	return mapping.LoadRecord(path)
}

// RunFile loads the mapping and the data file, then runs a session. Both
// inputs are fully read before the browser starts.
func RunFile(ctx context.Context, cfg config.Config, dataPath string, logger *zap.Logger, opts ...Option) (Summary, error) {
	m, err := LoadMapping(cfg)
	if err != nil {
		return Summary{}, err
	}
	record, err := LoadRecord(dataPath, logger)
	if err != nil {
		return Summary{}, err
	}
	return New(cfg, logger, opts...).Run(ctx, record, m)
}
