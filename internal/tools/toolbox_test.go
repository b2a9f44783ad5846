package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/panel/paneltest"
	"github.com/opentalon/panelpilot/internal/provision"
)

type fakeProvisioner struct {
	reserveErr error
	trackErr   error
	reserved   []string
	tracked    []panel.CreatedServer
	abandoned  int
}

func (p *fakeProvisioner) Reserve(_ context.Context, name string) (*provision.Claim, error) {
	if p.reserveErr != nil {
		return nil, p.reserveErr
	}
	p.reserved = append(p.reserved, name)
	return &provision.Claim{Name: name}, nil
}

func (p *fakeProvisioner) Abandon(context.Context, *provision.Claim) { p.abandoned++ }

func (p *fakeProvisioner) Track(_ context.Context, _ *provision.Claim, created panel.CreatedServer) (provision.Session, error) {
	if p.trackErr != nil {
		return provision.Session{}, p.trackErr
	}
	p.tracked = append(p.tracked, created)
	return provision.Session{ID: "s-1", Phase: provision.PhaseInstalling}, nil
}

var provisioning = config.ProvisioningConfig{
	DefaultOwnerID: "1",
	DefaultNodeID:  "2",
	Limits:         config.LimitsConfig{Memory: 2048, Disk: 10240, IO: 500, CPU: 100},
	FeatureLimits:  config.FeatureLimitsConfig{Databases: 1, Allocations: 1, Backups: 1},
}

func newPanel() *paneltest.Fake {
	cats, details := paneltest.Minecraft()
	return &paneltest.Fake{
		Servers: []panel.Server{
			{ID: 1, Identifier: "aaaa1111", UUID: "aaaa1111-0000", Name: "Lobby", Allocations: []panel.Allocation{{IP: "10.0.0.5", Port: 25565, IsDefault: true}}},
			{ID: 2, Identifier: "bbbb2222", Name: "craft-survival"},
			{ID: 3, Identifier: "cccc3333", Name: "craft-creative"},
			{ID: 4, Identifier: "dddd4444", Name: "fresh", IsInstalling: true},
		},
		Resources: map[string]*panel.Resources{
			"aaaa1111": {State: panel.StateRunning, MemoryBytes: 512 << 20, CPUAbsolute: 12.5, DiskBytes: 1 << 30, UptimeMillis: 90_000},
			"bbbb2222": {State: panel.StateOffline},
		},
		ResourceErrs: map[string]error{"cccc3333": &panel.APIError{StatusCode: http.StatusBadGateway}},
		Categories:   cats,
		Details:      details,
		Allocation:   &panel.Allocation{ID: 77, IP: "10.0.0.9", Port: 25570},
		Created:      &panel.CreatedServer{ID: 50, Identifier: "eeee5555", UUID: "eeee5555-0000", Name: "survival"},
	}
}

func newRegistry(t *testing.T, gw panel.Gateway, prov config.ProvisioningConfig, p Provisioner) *Registry {
	t.Helper()
	r, err := NewRegistryFor(NewToolbox(gw, prov, p, nil))
	require.NoError(t, err)
	return r
}

func call(t *testing.T, r *Registry, name, args string) Result {
	t.Helper()
	return r.Execute(context.Background(), Invocation{ID: "call-" + name, Name: name, Arguments: json.RawMessage(args)})
}

func TestCatalogHasHandlerForEveryTool(t *testing.T) {
	tb := NewToolbox(newPanel(), provisioning, nil, nil)
	hs := tb.handlers()
	require.Len(t, hs, len(Catalog))
	for _, def := range Catalog {
		assert.Contains(t, hs, def.Name)
		_, err := compileSchema(def)
		assert.NoError(t, err, def.Name)
	}
	r, err := NewRegistryFor(tb)
	require.NoError(t, err)
	assert.Len(t, r.Definitions(), len(Catalog))
}

func TestListServers(t *testing.T) {
	gw := newPanel()
	res := call(t, newRegistry(t, gw, provisioning, nil), ToolListServers, `{}`)
	require.False(t, res.Failed(), res.Content)

	var out serverList
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	require.Equal(t, 4, out.Count)
	states := map[string]string{}
	for _, s := range out.Servers {
		states[s.Name] = s.State
	}
	assert.Equal(t, map[string]string{
		"Lobby":          "running",
		"craft-survival": "offline",
		"craft-creative": "unknown",
		"fresh":          "installing",
	}, states)
	assert.Equal(t, "Lobby", out.Servers[0].Name, "listing order is kept")
	assert.Equal(t, "10.0.0.5:25565", out.Servers[0].Address)
	assert.Equal(t, 3, gw.Calls("ServerResources"), "installing servers are not queried")
}

func TestListServersBackendFailure(t *testing.T) {
	gw := newPanel()
	gw.ListErr = errors.New("dial tcp: connection refused")
	res := call(t, newRegistry(t, gw, provisioning, nil), ToolListServers, `{}`)
	assert.Equal(t, KindBackend, res.Kind)
	assert.Contains(t, res.Content, "connection refused")
}

func TestServerStatus(t *testing.T) {
	r := newRegistry(t, newPanel(), provisioning, nil)

	res := call(t, r, ToolGetServerStatus, `{"server":"lobby"}`)
	require.False(t, res.Failed(), res.Content)
	var st serverStatus
	require.NoError(t, json.Unmarshal([]byte(res.Content), &st))
	assert.Equal(t, "running", st.State)
	assert.Equal(t, int64(512), st.MemoryMB)
	assert.Equal(t, int64(1024), st.DiskMB)
	assert.Equal(t, int64(90), st.UptimeSeconds)

	res = call(t, r, ToolGetServerStatus, `{"server":"aaaa1111-0000"}`)
	require.False(t, res.Failed())

	res = call(t, r, ToolGetServerStatus, `{"server":"hub"}`)
	assert.Equal(t, KindNotFound, res.Kind)

	res = call(t, r, ToolGetServerStatus, `{"server":"fresh"}`)
	require.False(t, res.Failed())
	assert.Contains(t, res.Content, `"state":"installing"`)
}

func TestPowerActionAmbiguousIsSurfaced(t *testing.T) {
	gw := newPanel()
	res := call(t, newRegistry(t, gw, provisioning, nil), ToolSendPowerAction, `{"server":"craft","action":"restart"}`)
	require.Equal(t, KindAmbiguous, res.Kind)
	p := decodePayload(t, res)
	assert.ElementsMatch(t, []string{"craft-survival", "craft-creative"}, p.Candidates)
	assert.Empty(t, gw.Signals(), "no server is picked silently")
}

func TestPowerAction(t *testing.T) {
	gw := newPanel()
	r := newRegistry(t, gw, provisioning, nil)

	res := call(t, r, ToolSendPowerAction, `{"server":"survival","action":"start"}`)
	require.False(t, res.Failed(), res.Content)
	assert.Equal(t, []paneltest.SentSignal{{Identifier: "bbbb2222", Signal: panel.SignalStart}}, gw.Signals())

	res = call(t, r, ToolSendPowerAction, `{"server":"fresh","action":"stop"}`)
	assert.Equal(t, KindRefused, res.Kind)

	res = call(t, r, ToolSendPowerAction, `{"server":"lobby","action":"explode"}`)
	assert.Equal(t, KindInvalidArguments, res.Kind)

	gw.SignalErr = &panel.APIError{StatusCode: http.StatusConflict, Message: "server is busy"}
	res = call(t, r, ToolSendPowerAction, `{"server":"lobby","action":"restart"}`)
	assert.Equal(t, KindBackend, res.Kind)
	assert.Contains(t, res.Content, "server is busy")
}

func TestListServerTypes(t *testing.T) {
	r := newRegistry(t, newPanel(), provisioning, nil)

	res := call(t, r, ToolListServerTypes, `{}`)
	require.False(t, res.Failed())
	var out typeCatalog
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	assert.Len(t, out.Categories, 2)

	res = call(t, r, ToolListServerTypes, `{"category":"mine"}`)
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	require.Len(t, out.Categories, 1)
	assert.Equal(t, "Minecraft", out.Categories[0].Name)
	assert.Len(t, out.Categories[0].Types, 2)

	res = call(t, r, ToolListServerTypes, `{"category":"Factorio"}`)
	assert.Equal(t, KindNotFound, res.Kind)
}

func TestDescribeServerType(t *testing.T) {
	r := newRegistry(t, newPanel(), provisioning, nil)
	res := call(t, r, ToolDescribeServerType, `{"type":"paper"}`)
	require.False(t, res.Failed(), res.Content)
	var out typeDescription
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	assert.Equal(t, "Paper", out.Name)
	assert.Equal(t, "Minecraft", out.Category)
	assert.Equal(t, "ghcr.io/pterodactyl/yolks:java_21", out.DockerImage)
	assert.Len(t, out.Variables, 3)
}

func TestCreateServer(t *testing.T) {
	gw := newPanel()
	prov := &fakeProvisioner{}
	r := newRegistry(t, gw, provisioning, prov)

	res := call(t, r, ToolCreateServer, `{"name":"survival","type":"Paper","environment":{"MINECRAFT_VERSION":"1.21.1","EULA":true}}`)
	require.False(t, res.Failed(), res.Content)
	assert.Contains(t, res.UserMessage, "survival")
	assert.Contains(t, res.UserMessage, "let you know")

	creates := gw.Creates()
	require.Len(t, creates, 1)
	req := creates[0]
	assert.Equal(t, "survival", req.Name)
	assert.Equal(t, 1, req.OwnerID)
	assert.Equal(t, 3, req.TypeID)
	assert.Equal(t, 77, req.AllocationID)
	assert.Equal(t, "ghcr.io/pterodactyl/yolks:java_21", req.DockerImage)
	assert.Equal(t, "java -jar {{SERVER_JARFILE}}", req.Startup)
	assert.Equal(t, map[string]string{
		"SERVER_JARFILE":    "server.jar",
		"MINECRAFT_VERSION": "1.21.1",
		"BUILD_NUMBER":      "latest",
		"EULA":              "true",
	}, req.Environment)
	assert.Equal(t, panel.Limits{Memory: 2048, Disk: 10240, IO: 500, CPU: 100}, req.Limits)
	assert.Equal(t, panel.FeatureLimits{Databases: 1, Allocations: 1, Backups: 1}, req.FeatureLimits)
	assert.True(t, req.StartOnCompletion)

	assert.Equal(t, []string{"survival"}, prov.reserved)
	require.Len(t, prov.tracked, 1)
	assert.Equal(t, "eeee5555", prov.tracked[0].Identifier)
	assert.Zero(t, prov.abandoned)
}

func TestCreateServerMissingTypeDoesNotCreate(t *testing.T) {
	gw := newPanel()
	prov := &fakeProvisioner{}
	res := call(t, newRegistry(t, gw, provisioning, prov), ToolCreateServer, `{"name":"vanilla","type":"Vanilla Minecraft"}`)
	require.Equal(t, KindNotFound, res.Kind)
	assert.Contains(t, res.Content, "Vanilla Minecraft")
	assert.Zero(t, gw.Calls("CreateServer"))
	assert.Zero(t, gw.Calls("FindFreeAllocation"))
	assert.Equal(t, 1, prov.abandoned, "the name claim is given back")
}

func TestCreateServerRefusals(t *testing.T) {
	t.Run("creation not configured", func(t *testing.T) {
		gw := newPanel()
		noNode := provisioning
		noNode.DefaultNodeID = ""
		res := call(t, newRegistry(t, gw, noNode, &fakeProvisioner{}), ToolCreateServer, `{"name":"x","type":"Paper"}`)
		assert.Equal(t, KindRefused, res.Kind)
		assert.Contains(t, res.Content, "default_node_id")
		assert.Zero(t, gw.Calls("ListCategories"), "refused before any backend call")
	})
	t.Run("name already provisioning", func(t *testing.T) {
		gw := newPanel()
		prov := &fakeProvisioner{reserveErr: provision.ErrAlreadyProvisioning}
		res := call(t, newRegistry(t, gw, provisioning, prov), ToolCreateServer, `{"name":"survival","type":"Paper"}`)
		assert.Equal(t, KindRefused, res.Kind)
		assert.Zero(t, gw.Calls("CreateServer"))
	})
	t.Run("no free allocation", func(t *testing.T) {
		gw := newPanel()
		gw.Allocation = nil
		prov := &fakeProvisioner{}
		res := call(t, newRegistry(t, gw, provisioning, prov), ToolCreateServer, `{"name":"survival","type":"Paper"}`)
		assert.Equal(t, KindRefused, res.Kind)
		assert.Zero(t, gw.Calls("CreateServer"))
		assert.Equal(t, 1, prov.abandoned)
	})
	t.Run("ambiguous type", func(t *testing.T) {
		gw := newPanel()
		res := call(t, newRegistry(t, gw, provisioning, &fakeProvisioner{}), ToolCreateServer, `{"name":"survival","type":"r"}`)
		assert.Equal(t, KindAmbiguous, res.Kind)
		assert.Zero(t, gw.Calls("CreateServer"))
	})
	t.Run("panel rejects", func(t *testing.T) {
		gw := newPanel()
		gw.CreateErr = &panel.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "name invalid"}
		prov := &fakeProvisioner{}
		res := call(t, newRegistry(t, gw, provisioning, prov), ToolCreateServer, `{"name":"survival","type":"Paper"}`)
		assert.Equal(t, KindBackend, res.Kind)
		assert.Equal(t, 1, prov.abandoned)
		assert.Empty(t, prov.tracked)
	})
}

func TestCreateServerWithoutMonitor(t *testing.T) {
	gw := newPanel()
	prov := &fakeProvisioner{trackErr: errors.New("supervisor stopped")}
	res := call(t, newRegistry(t, gw, provisioning, prov), ToolCreateServer, `{"name":"survival","type":"Paper"}`)
	require.False(t, res.Failed(), res.Content)
	assert.Contains(t, res.UserMessage, "check the panel")
	assert.Contains(t, res.Content, `"monitoring":false`)
}

func TestMergeEnvironmentProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	envMap := gen.MapOf(gen.OneConstOf("A", "B", "C", "D", "E", "F"), gen.AlphaString())

	properties.Property("overrides win and no default is dropped", prop.ForAll(
		func(defaults, overrides map[string]string) bool {
			merged := MergeEnvironment(defaults, overrides)
			for k, v := range overrides {
				if merged[k] != v {
					return false
				}
			}
			for k, v := range defaults {
				got, ok := merged[k]
				if !ok {
					return false
				}
				if _, overridden := overrides[k]; !overridden && got != v {
					return false
				}
			}
			return len(merged) <= len(defaults)+len(overrides)
		},
		envMap, envMap,
	))

	properties.TestingRun(t)
}
