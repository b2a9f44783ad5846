package tools

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/resolve"
)

// statusLookups bounds concurrent resource lookups in list_servers.
const statusLookups = 4

const (
	stateInstalling = "installing"
	stateSuspended  = "suspended"
	stateUnknown    = "unknown"
)

type serverSummary struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	State      string `json:"state"`
	Node       string `json:"node,omitempty"`
	Address    string `json:"address,omitempty"`
}

type serverList struct {
	Count   int             `json:"count"`
	Servers []serverSummary `json:"servers"`
}

type serverStatus struct {
	serverSummary
	Description   string  `json:"description,omitempty"`
	MemoryMB      int64   `json:"memory_mb"`
	MemoryLimitMB int     `json:"memory_limit_mb,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	DiskMB        int64   `json:"disk_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

type powerResult struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Action     string `json:"action"`
	Accepted   bool   `json:"accepted"`
}

func summarize(srv panel.Server, res *panel.Resources) serverSummary {
	s := serverSummary{
		Name:       srv.Name,
		Identifier: srv.Identifier,
		Node:       srv.Node,
		Address:    primaryAddress(srv.Allocations),
	}
	switch {
	case srv.Installing():
		s.State = stateInstalling
	case srv.IsSuspended || (res != nil && res.IsSuspended):
		s.State = stateSuspended
	case res == nil || res.State == "":
		s.State = stateUnknown
	default:
		s.State = res.State
	}
	return s
}

func primaryAddress(allocs []panel.Allocation) string {
	for _, a := range allocs {
		if a.IsDefault {
			return a.Address()
		}
	}
	if len(allocs) > 0 {
		return allocs[0].Address()
	}
	return ""
}

// StateOf returns the power state of srv, or "unknown" when the panel cannot
// say. Lookup errors are logged, not returned.
func (tb *Toolbox) StateOf(ctx context.Context, srv panel.Server) string {
	if srv.Installing() {
		return stateInstalling
	}
	res, err := tb.gw.ServerResources(ctx, srv.Identifier)
	if err != nil {
		tb.logger.Warn("server state lookup failed", "server", srv.Identifier, "error", err)
		return stateUnknown
	}
	return summarize(srv, res).State
}

func (tb *Toolbox) listServers(ctx context.Context, _ Args) (any, error) {
	servers, err := tb.gw.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	out := serverList{Count: len(servers), Servers: make([]serverSummary, len(servers))}

	var g errgroup.Group
	g.SetLimit(statusLookups)
	for i, srv := range servers {
		g.Go(func() error {
			sum := summarize(srv, nil)
			sum.State = tb.StateOf(ctx, srv)
			out.Servers[i] = sum
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// findServer resolves the "server" argument against a fresh listing.
func (tb *Toolbox) findServer(ctx context.Context, args Args) (panel.Server, error) {
	query, err := args.RequireString("server")
	if err != nil {
		return panel.Server{}, err
	}
	servers, err := tb.gw.ListServers(ctx)
	if err != nil {
		return panel.Server{}, fmt.Errorf("listing servers: %w", err)
	}
	out := resolve.ResolveServer(query, servers)
	if err := out.Err(query); err != nil {
		return panel.Server{}, err
	}
	return out.Server, nil
}

func (tb *Toolbox) serverStatus(ctx context.Context, args Args) (any, error) {
	srv, err := tb.findServer(ctx, args)
	if err != nil {
		return nil, err
	}
	var res *panel.Resources
	if !srv.Installing() {
		res, err = tb.gw.ServerResources(ctx, srv.Identifier)
		if err != nil {
			return nil, fmt.Errorf("fetching status of %s: %w", srv.Name, err)
		}
	}
	st := serverStatus{
		serverSummary: summarize(srv, res),
		Description:   srv.Description,
		MemoryLimitMB: srv.Limits.Memory,
	}
	if res != nil {
		st.MemoryMB = res.MemoryBytes / (1 << 20)
		st.CPUPercent = res.CPUAbsolute
		st.DiskMB = res.DiskBytes / (1 << 20)
		st.UptimeSeconds = res.UptimeMillis / 1000
	}
	return st, nil
}

func (tb *Toolbox) powerAction(ctx context.Context, args Args) (any, error) {
	sig, err := panel.ParseSignal(args.String("action"))
	if err != nil {
		return nil, &ArgumentError{Name: "action", Reason: err.Error()}
	}
	srv, err := tb.findServer(ctx, args)
	if err != nil {
		return nil, err
	}
	if srv.Installing() {
		return nil, refuse("server %s is still installing and cannot receive %s yet", srv.Name, sig)
	}
	if err := tb.gw.SendPowerSignal(ctx, srv.Identifier, sig); err != nil {
		return nil, fmt.Errorf("sending %s to %s: %w", sig, srv.Name, err)
	}
	tb.logger.Info("power action sent", "server", srv.Identifier, "action", sig)
	return powerResult{Name: srv.Name, Identifier: srv.Identifier, Action: string(sig), Accepted: true}, nil
}
