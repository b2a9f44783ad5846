// Package panel talks to the game-server panel. Gateway is the narrow
// surface the rest of the module depends on; Client is its HTTP
// implementation.
package panel

import (
	"context"
	"fmt"
	"strings"
)

// Gateway is the set of panel operations the assistant can perform. Every
// call is independent; implementations hold no per-conversation state.
type Gateway interface {
	ListServers(ctx context.Context) ([]Server, error)
	// ServerResources returns nil, nil when the panel has no live state for
	// the server (for example while it is still installing).
	ServerResources(ctx context.Context, identifier string) (*Resources, error)
	SendPowerSignal(ctx context.Context, identifier string, signal Signal) error
	ListCategories(ctx context.Context) ([]Category, error)
	// TypeDetails returns nil, nil when the type does not exist.
	TypeDetails(ctx context.Context, categoryID, typeID int) (*TypeDetails, error)
	// FindFreeAllocation returns nil, nil when the node has no unassigned
	// allocation left.
	FindFreeAllocation(ctx context.Context, nodeID int) (*Allocation, error)
	CreateServer(ctx context.Context, req CreateRequest) (*CreatedServer, error)
}

type Server struct {
	ID           int          `json:"internal_id"`
	Identifier   string       `json:"identifier"`
	UUID         string       `json:"uuid"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Node         string       `json:"node,omitempty"`
	Status       string       `json:"status,omitempty"`
	IsInstalling bool         `json:"is_installing"`
	IsSuspended  bool         `json:"is_suspended"`
	Limits       Limits       `json:"limits"`
	Allocations  []Allocation `json:"allocations,omitempty"`
}

// Installing reports whether the panel still considers the server to be
// running its install script.
func (s Server) Installing() bool {
	return s.IsInstalling || s.Status == "installing"
}

type Limits struct {
	Memory int `json:"memory"`
	Swap   int `json:"swap"`
	Disk   int `json:"disk"`
	IO     int `json:"io"`
	CPU    int `json:"cpu"`
}

type FeatureLimits struct {
	Databases   int `json:"databases"`
	Allocations int `json:"allocations"`
	Backups     int `json:"backups"`
}

// Power states reported by the resources endpoint.
const (
	StateRunning  = "running"
	StateOffline  = "offline"
	StateStarting = "starting"
	StateStopping = "stopping"
)

type Resources struct {
	State          string  `json:"current_state"`
	IsSuspended    bool    `json:"is_suspended"`
	MemoryBytes    int64   `json:"memory_bytes"`
	CPUAbsolute    float64 `json:"cpu_absolute"`
	DiskBytes      int64   `json:"disk_bytes"`
	NetworkRxBytes int64   `json:"network_rx_bytes"`
	NetworkTxBytes int64   `json:"network_tx_bytes"`
	UptimeMillis   int64   `json:"uptime"`
}

type Signal string

const (
	SignalStart   Signal = "start"
	SignalStop    Signal = "stop"
	SignalRestart Signal = "restart"
	SignalKill    Signal = "kill"
)

// Signals lists every accepted power signal in display order.
var Signals = []Signal{SignalStart, SignalStop, SignalRestart, SignalKill}

func ParseSignal(s string) (Signal, error) {
	sig := Signal(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Signals {
		if sig == known {
			return sig, nil
		}
	}
	return "", fmt.Errorf("unknown power signal %q", s)
}

// Category groups installable server types (a panel "nest").
type Category struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Types       []ServerType `json:"types"`
}

// ServerType is one installable configuration (a panel "egg").
type ServerType struct {
	ID          int    `json:"id"`
	CategoryID  int    `json:"category_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DockerImage string `json:"docker_image,omitempty"`
	Startup     string `json:"startup,omitempty"`
}

type TypeDetails struct {
	ServerType
	Variables []Variable `json:"variables"`
}

// Environment returns the default value of every variable keyed by its
// environment variable name.
func (d TypeDetails) Environment() map[string]string {
	env := make(map[string]string, len(d.Variables))
	for _, v := range d.Variables {
		if v.EnvVariable == "" {
			continue
		}
		env[v.EnvVariable] = v.DefaultValue
	}
	return env
}

type Variable struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	EnvVariable  string `json:"env_variable"`
	DefaultValue string `json:"default_value"`
	UserEditable bool   `json:"user_editable"`
	Rules        string `json:"rules,omitempty"`
}

type Allocation struct {
	ID        int    `json:"id"`
	IP        string `json:"ip"`
	Alias     string `json:"alias,omitempty"`
	Port      int    `json:"port"`
	Assigned  bool   `json:"assigned"`
	IsDefault bool   `json:"is_default,omitempty"`
}

func (a Allocation) Address() string {
	host := a.IP
	if a.Alias != "" {
		host = a.Alias
	}
	return fmt.Sprintf("%s:%d", host, a.Port)
}

type CreateRequest struct {
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	OwnerID           int               `json:"user"`
	TypeID            int               `json:"egg"`
	DockerImage       string            `json:"docker_image"`
	Startup           string            `json:"startup"`
	Environment       map[string]string `json:"environment"`
	Limits            Limits            `json:"limits"`
	FeatureLimits     FeatureLimits     `json:"feature_limits"`
	AllocationID      int               `json:"-"`
	StartOnCompletion bool              `json:"start_on_completion"`
}

type CreatedServer struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
}
