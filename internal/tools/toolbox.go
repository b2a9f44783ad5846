package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/provision"
)

// Provisioner follows servers after creation.
type Provisioner interface {
	Reserve(ctx context.Context, name string) (*provision.Claim, error)
	Abandon(ctx context.Context, c *provision.Claim)
	Track(ctx context.Context, c *provision.Claim, created panel.CreatedServer) (provision.Session, error)
}

// Toolbox implements every tool in Catalog against one panel.
type Toolbox struct {
	gw          panel.Gateway
	creation    config.CreationDefaults
	creationErr error
	provisioner Provisioner
	logger      *slog.Logger
}

// NewToolbox builds the handlers. Creation defaults are resolved once here;
// when they are missing, create_server refuses and every other tool still
// works.
func NewToolbox(gw panel.Gateway, prov config.ProvisioningConfig, p Provisioner, logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	tb := &Toolbox{gw: gw, provisioner: p, logger: logger.With("component", "tools")}
	tb.creation, tb.creationErr = prov.Defaults()
	if tb.creationErr != nil {
		tb.logger.Warn("server creation disabled", "reason", tb.creationErr)
	}
	return tb
}

func (tb *Toolbox) handlers() map[string]Handler {
	return map[string]Handler{
		ToolListServers:        HandlerFunc(tb.listServers),
		ToolGetServerStatus:    HandlerFunc(tb.serverStatus),
		ToolSendPowerAction:    HandlerFunc(tb.powerAction),
		ToolListServerTypes:    HandlerFunc(tb.listServerTypes),
		ToolDescribeServerType: HandlerFunc(tb.describeServerType),
		ToolCreateServer:       HandlerFunc(tb.createServer),
	}
}

// Register adds every catalog tool to r. It fails when a definition has no
// handler or a handler has no definition.
func (tb *Toolbox) Register(r *Registry) error {
	hs := tb.handlers()
	for _, def := range Catalog {
		h, ok := hs[def.Name]
		if !ok {
			return fmt.Errorf("tool %q has no handler", def.Name)
		}
		if err := r.Register(def, h); err != nil {
			return err
		}
		delete(hs, def.Name)
	}
	for name := range hs {
		return fmt.Errorf("handler %q has no definition", name)
	}
	return nil
}

// NewRegistryFor returns a registry holding the full catalog.
func NewRegistryFor(tb *Toolbox) (*Registry, error) {
	r := NewRegistry()
	if err := tb.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
