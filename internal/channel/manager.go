package channel

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/opentalon/panelpilot/internal/config"
)

// Manager builds the configured channels and registers them with the
// Registry.
type Manager struct {
	registry *Registry
	logger   *slog.Logger
	stdin    io.Reader
	stdout   io.Writer
}

func NewManager(registry *Registry, stdin io.Reader, stdout io.Writer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{registry: registry, stdin: stdin, stdout: stdout, logger: logger.With("component", "channel-manager")}
}

// LoadAll starts every enabled channel. It fails when none is enabled.
func (m *Manager) LoadAll(cfg config.ChannelsConfig) error {
	var (
		loaded int
		errs   []string
	)
	if cfg.Console.Enabled {
		if err := m.registry.Register(NewConsole(m.stdin, m.stdout, cfg.Console.MentionPrefix)); err != nil {
			errs = append(errs, err.Error())
		} else {
			loaded++
		}
	} else {
		m.logger.Debug("console disabled, skipping")
	}
	if cfg.WebSocket.Enabled {
		ws := NewWebSocket(cfg.WebSocket.Addr, cfg.WebSocket.Path, cfg.WebSocket.MentionPrefix, m.logger)
		if err := m.registry.Register(ws); err != nil {
			errs = append(errs, err.Error())
		} else {
			loaded++
		}
	} else {
		m.logger.Debug("websocket disabled, skipping")
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load channels: %s", strings.Join(errs, "; "))
	}
	if loaded == 0 {
		return fmt.Errorf("no channel enabled")
	}
	return nil
}
