package browser

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
)

// NewDriver returns the driver selected by browser.backend.
func NewDriver(cfg config.Config, logger *zap.Logger) (Driver, error) {
	switch cfg.Browser.BackendName() {
	case config.BackendRod:
		return NewRodDriver(cfg.Browser, cfg.Timeouts, logger), nil
	case config.BackendPlaywright:
		return NewPlaywrightDriver(cfg.Browser, cfg.Timeouts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported browser backend %q", cfg.Browser.Backend)
	}
}
