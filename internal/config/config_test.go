package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "kvnode"}
	cmd.Flags().String("self", "", "")
	cmd.Flags().String("addr", ":8080", "")
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("cluster", "", "")
	return cmd
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(newTestCmd())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "", cfg.DataDir)
}

func TestLoadBindsFlags(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("self", "http://node-a:8001"))
	require.NoError(t, cmd.Flags().Set("cluster", "http://node-a:8001,http://node-b:8002"))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://node-a:8001", cfg.Self)
	assert.Equal(t, []string{"http://node-a:8001", "http://node-b:8002"}, cfg.ClusterURLs())
}

func TestClusterURLsEmptyWhenUnset(t *testing.T) {
	cfg := Config{}
	assert.Nil(t, cfg.ClusterURLs())
}
