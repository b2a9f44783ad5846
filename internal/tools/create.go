package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/provision"
)

type createdServer struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
	UUID       string `json:"uuid,omitempty"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Category   string `json:"category"`
	Address    string `json:"address"`
	Monitoring bool   `json:"monitoring"`
	Message    string `json:"user_message"`
}

func (c createdServer) UserMessage() string { return c.Message }

// MergeEnvironment overlays overrides on the type defaults. Every default key
// is kept; an override wins on collision.
func MergeEnvironment(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func (tb *Toolbox) createServer(ctx context.Context, args Args) (result any, err error) {
	if tb.creationErr != nil {
		return nil, refuse("server creation is disabled: %v", tb.creationErr)
	}
	name, err := args.RequireString("name")
	if err != nil {
		return nil, err
	}
	typeQuery, err := args.RequireString("type")
	if err != nil {
		return nil, err
	}
	overrides, err := args.StringMap("environment")
	if err != nil {
		return nil, err
	}

	var claim *provision.Claim
	if tb.provisioner != nil {
		claim, err = tb.provisioner.Reserve(ctx, name)
		if errors.Is(err, provision.ErrAlreadyProvisioning) {
			return nil, refuse("server %q is already being set up; wait for it to finish", name)
		}
		if err != nil {
			return nil, fmt.Errorf("reserving %q: %w", name, err)
		}
		defer func() {
			if err != nil {
				tb.provisioner.Abandon(context.WithoutCancel(ctx), claim)
			}
		}()
	}

	cat, details, err := tb.lookupType(ctx, typeQuery, args.String("category"))
	if err != nil {
		return nil, err
	}

	alloc, err := tb.gw.FindFreeAllocation(ctx, tb.creation.NodeID)
	if err != nil {
		return nil, fmt.Errorf("finding a free allocation on node %d: %w", tb.creation.NodeID, err)
	}
	if alloc == nil {
		return nil, refuse("node %d has no free allocation left for a new server", tb.creation.NodeID)
	}

	l, fl := tb.creation.Limits, tb.creation.FeatureLimits
	req := panel.CreateRequest{
		Name:              name,
		Description:       args.String("description"),
		OwnerID:           tb.creation.OwnerID,
		TypeID:            details.ID,
		DockerImage:       details.DockerImage,
		Startup:           details.Startup,
		Environment:       MergeEnvironment(details.Environment(), overrides),
		Limits:            panel.Limits{Memory: l.Memory, Swap: l.Swap, Disk: l.Disk, IO: l.IO, CPU: l.CPU},
		FeatureLimits:     panel.FeatureLimits{Databases: fl.Databases, Allocations: fl.Allocations, Backups: fl.Backups},
		AllocationID:      alloc.ID,
		StartOnCompletion: true,
	}
	created, err := tb.gw.CreateServer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating server %q: %w", name, err)
	}
	if created == nil {
		return nil, fmt.Errorf("creating server %q: panel returned no server", name)
	}
	if created.Name == "" {
		created.Name = name
	}
	tb.logger.Info("server created", "server", created.Identifier, "name", created.Name, "type", details.Name)

	out := createdServer{
		ID:         created.ID,
		Identifier: created.Identifier,
		UUID:       created.UUID,
		Name:       created.Name,
		Type:       details.Name,
		Category:   cat.Name,
		Address:    alloc.Address(),
	}
	if tb.provisioner != nil {
		if _, terr := tb.provisioner.Track(ctx, claim, *created); terr != nil {
			tb.logger.Warn("could not monitor new server", "server", created.Identifier, "error", terr)
		} else {
			out.Monitoring = true
		}
	}
	if out.Monitoring {
		out.Message = fmt.Sprintf("🛠️ Creating server %q (%s) at %s. It is installing now; I'll let you know when it's running.", out.Name, out.Type, out.Address)
	} else {
		out.Message = fmt.Sprintf("🛠️ Created server %q (%s) at %s. It is installing now; check the panel for progress.", out.Name, out.Type, out.Address)
	}
	return out, nil
}
