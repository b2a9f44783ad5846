package tools

import (
	"github.com/opentalon/panelpilot/internal/panel"
)

const (
	ToolListServers        = "list_servers"
	ToolGetServerStatus    = "get_server_status"
	ToolSendPowerAction    = "send_power_action"
	ToolListServerTypes    = "list_server_types"
	ToolDescribeServerType = "describe_server_type"
	ToolCreateServer       = "create_server"
)

var serverParam = Param{
	Name:        "server",
	Type:        TypeString,
	Description: "Server name, short identifier or uuid. Partial names work when they match exactly one server.",
	Required:    true,
}

var categoryParam = Param{
	Name:        "category",
	Type:        TypeString,
	Description: "Optional category (nest) name or id to narrow the search, e.g. \"Minecraft\".",
}

func signalNames() []string {
	out := make([]string, len(panel.Signals))
	for i, s := range panel.Signals {
		out[i] = string(s)
	}
	return out
}

// Catalog is every tool offered to the model, in the order it is offered.
var Catalog = []Definition{
	{
		Name:        ToolListServers,
		Description: "List every server on the panel with its current power state.",
	},
	{
		Name:        ToolGetServerStatus,
		Description: "Get the live status of one server: power state, memory, CPU, disk and uptime.",
		Params:      []Param{serverParam},
	},
	{
		Name:        ToolSendPowerAction,
		Description: "Start, stop, restart or kill a server.",
		Params: []Param{
			serverParam,
			{Name: "action", Type: TypeString, Description: "Power action to send.", Required: true, Enum: signalNames()},
		},
	},
	{
		Name:        ToolListServerTypes,
		Description: "List the installable server types, grouped by category.",
		Params:      []Param{categoryParam},
	},
	{
		Name:        ToolDescribeServerType,
		Description: "Show a server type's image, startup command and configuration variables with their defaults.",
		Params: []Param{
			{Name: "type", Type: TypeString, Description: "Server type name or id, e.g. \"Paper\".", Required: true},
			categoryParam,
		},
	},
	{
		Name:        ToolCreateServer,
		Description: "Create a new server of the given type. Installation continues in the background and the user is told when the server is running.",
		Params: []Param{
			{Name: "name", Type: TypeString, Description: "Name of the new server.", Required: true},
			{Name: "type", Type: TypeString, Description: "Server type name or id.", Required: true},
			categoryParam,
			{Name: "description", Type: TypeString, Description: "Optional description shown on the panel."},
			{Name: "environment", Type: TypeStringMap, Description: "Optional overrides for the type's configuration variables, keyed by environment variable name."},
		},
	},
}
