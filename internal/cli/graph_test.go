package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/aretw0/weave/internal/config"
	"github.com/aretw0/weave/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Plain(t *testing.T) {
	var out bytes.Buffer
	err := Graph(context.Background(), GraphOptions{GraphPath: writeGraph(t, orderYAML)}, config.Default(), logging.NewNop(), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "graph TD")
	assert.Contains(t, out.String(), `charge_card_00001[["charge_card_00001"]]`)
	assert.Contains(t, out.String(), "receive_order_001 --> charge_card_00001")
	assert.NotContains(t, out.String(), "classDef")
}

func TestGraph_LocalOverlay(t *testing.T) {
	var out bytes.Buffer
	opts := GraphOptions{GraphPath: writeGraph(t, orderYAML), Local: true}
	require.NoError(t, Graph(context.Background(), opts, config.Default(), logging.NewNop(), &out))

	assert.Contains(t, out.String(), "class ship_order_00001 executed;")
}

func TestGraph_RunOverlay(t *testing.T) {
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Driver: config.DriverFile, Path: t.TempDir()}
	path := writeGraph(t, orderYAML)

	var runOut bytes.Buffer
	require.NoError(t, Run(context.Background(), RunOptions{GraphPath: path}, cfg, logging.NewNop(), &runOut))
	summary := decodeSummary(t, &runOut)

	var out bytes.Buffer
	require.NoError(t, Graph(context.Background(), GraphOptions{GraphPath: path, RunID: summary.RunID}, cfg, logging.NewNop(), &out))
	assert.Contains(t, out.String(), "class charge_card_00001 executed;")

	err := Graph(context.Background(), GraphOptions{GraphPath: path, RunID: "missing"}, cfg, logging.NewNop(), &out)
	assert.ErrorContains(t, err, "missing")
}
