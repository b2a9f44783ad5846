package digest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/panel/paneltest"
	"github.com/opentalon/panelpilot/internal/tools"
)

type captured struct {
	to   origin.Origin
	text string
}

type captureNotifier struct {
	got []captured
	err error
}

func (c *captureNotifier) Notify(_ context.Context, to origin.Origin, text string) error {
	c.got = append(c.got, captured{to, text})
	return c.err
}

func gateway() *paneltest.Fake {
	return &paneltest.Fake{
		Servers: []panel.Server{
			{ID: 1, Identifier: "aaaa1111", Name: "survival"},
			{ID: 2, Identifier: "bbbb2222", Name: "creative"},
			{ID: 3, Identifier: "cccc3333", Name: "anarchy"},
		},
		Resources: map[string]*panel.Resources{
			"aaaa1111": {State: panel.StateRunning},
			"bbbb2222": {State: panel.StateOffline},
			"cccc3333": {State: panel.StateRunning},
		},
	}
}

var digestConfig = config.DigestConfig{Schedule: "0 9 * * *", Channel: "websocket", Conversation: "ops"}

func TestSummaryGroupsByState(t *testing.T) {
	gw := gateway()
	d, err := New(gw, tools.NewToolbox(gw, config.ProvisioningConfig{}, nil, nil), &captureNotifier{}, digestConfig, nil)
	require.NoError(t, err)

	text, err := d.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "📋 Server digest: 3 servers\n- offline (1): creative\n- running (2): anarchy, survival", text)
}

func TestPostSendsToConfiguredConversation(t *testing.T) {
	gw := gateway()
	n := &captureNotifier{}
	d, err := New(gw, tools.NewToolbox(gw, config.ProvisioningConfig{}, nil, nil), n, digestConfig, nil)
	require.NoError(t, err)

	require.NoError(t, d.Post(context.Background()))
	require.Len(t, n.got, 1)
	assert.Equal(t, origin.Origin{Channel: "websocket", Conversation: "ops"}, n.got[0].to)
}

func TestSummaryEmptyAndFailure(t *testing.T) {
	gw := &paneltest.Fake{}
	tb := tools.NewToolbox(gw, config.ProvisioningConfig{}, nil, nil)
	d, err := New(gw, tb, &captureNotifier{}, digestConfig, nil)
	require.NoError(t, err)

	text, err := d.Summary(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "no servers")

	gw.ListErr = errors.New("panel down")
	_, err = d.Summary(context.Background())
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(&paneltest.Fake{}, nil, nil, config.DigestConfig{Schedule: "every day", Channel: "console"}, nil)
	assert.Error(t, err)

	_, err = New(&paneltest.Fake{}, nil, nil, config.DigestConfig{Schedule: "@hourly"}, nil)
	assert.Error(t, err)

	d, err := New(&paneltest.Fake{}, nil, nil, config.DigestConfig{Schedule: "@hourly", Channel: "console"}, nil)
	require.NoError(t, err)
	d.Start()
	d.Stop()
}
