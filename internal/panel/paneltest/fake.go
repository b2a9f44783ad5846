// Package paneltest provides an in-memory panel.Gateway for tests.
package paneltest

import (
	"context"
	"sync"

	"github.com/opentalon/panelpilot/internal/panel"
)

type SentSignal struct {
	Identifier string
	Signal     panel.Signal
}

// Fake is a scriptable panel.Gateway. Set the exported fields before use;
// the recorded calls are read through the accessor methods.
type Fake struct {
	Servers      []panel.Server
	ListErr      error
	Resources    map[string]*panel.Resources
	ResourceErrs map[string]error
	SignalErr    error
	Categories   []panel.Category
	CategoryErr  error
	Details      map[int]*panel.TypeDetails
	Allocation   *panel.Allocation
	AllocErr     error
	Created      *panel.CreatedServer
	CreateErr    error

	mu      sync.Mutex
	calls   map[string]int
	signals []SentSignal
	creates []panel.CreateRequest
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *Fake) ListServers(context.Context) ([]panel.Server, error) {
	f.record("ListServers")
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]panel.Server(nil), f.Servers...), nil
}

func (f *Fake) ServerResources(_ context.Context, identifier string) (*panel.Resources, error) {
	f.record("ServerResources")
	if err := f.ResourceErrs[identifier]; err != nil {
		return nil, err
	}
	if r, ok := f.Resources[identifier]; ok && r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *Fake) SendPowerSignal(_ context.Context, identifier string, sig panel.Signal) error {
	f.record("SendPowerSignal")
	f.mu.Lock()
	f.signals = append(f.signals, SentSignal{Identifier: identifier, Signal: sig})
	f.mu.Unlock()
	return f.SignalErr
}

func (f *Fake) ListCategories(context.Context) ([]panel.Category, error) {
	f.record("ListCategories")
	if f.CategoryErr != nil {
		return nil, f.CategoryErr
	}
	return append([]panel.Category(nil), f.Categories...), nil
}

func (f *Fake) TypeDetails(_ context.Context, _, typeID int) (*panel.TypeDetails, error) {
	f.record("TypeDetails")
	if d, ok := f.Details[typeID]; ok && d != nil {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *Fake) FindFreeAllocation(context.Context, int) (*panel.Allocation, error) {
	f.record("FindFreeAllocation")
	if f.AllocErr != nil {
		return nil, f.AllocErr
	}
	return f.Allocation, nil
}

func (f *Fake) CreateServer(_ context.Context, req panel.CreateRequest) (*panel.CreatedServer, error) {
	f.record("CreateServer")
	f.mu.Lock()
	f.creates = append(f.creates, req)
	f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return f.Created, nil
}

// Calls returns how often op (a Gateway method name) was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) Signals() []SentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentSignal(nil), f.signals...)
}

func (f *Fake) Creates() []panel.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]panel.CreateRequest(nil), f.creates...)
}

// Minecraft returns a small catalog: a Minecraft category with Paper and
// Forge, and a Rust category with one type.
func Minecraft() ([]panel.Category, map[int]*panel.TypeDetails) {
	cats := []panel.Category{
		{ID: 1, Name: "Minecraft", Types: []panel.ServerType{
			{ID: 3, CategoryID: 1, Name: "Paper", DockerImage: "ghcr.io/pterodactyl/yolks:java_21", Startup: "java -jar {{SERVER_JARFILE}}"},
			{ID: 4, CategoryID: 1, Name: "Forge Minecraft", DockerImage: "ghcr.io/pterodactyl/yolks:java_17", Startup: "java -jar forge.jar"},
		}},
		{ID: 2, Name: "Rust", Types: []panel.ServerType{
			{ID: 9, CategoryID: 2, Name: "Rust", DockerImage: "ghcr.io/pterodactyl/games:rust", Startup: "./RustDedicated"},
		}},
	}
	details := map[int]*panel.TypeDetails{
		3: {
			ServerType: cats[0].Types[0],
			Variables: []panel.Variable{
				{Name: "Server Jar File", EnvVariable: "SERVER_JARFILE", DefaultValue: "server.jar", UserEditable: true},
				{Name: "Minecraft Version", EnvVariable: "MINECRAFT_VERSION", DefaultValue: "latest", UserEditable: true},
				{Name: "Build Number", EnvVariable: "BUILD_NUMBER", DefaultValue: "latest", UserEditable: true},
			},
		},
		4: {ServerType: cats[0].Types[1]},
		9: {ServerType: cats[1].Types[0]},
	}
	return cats, details
}
