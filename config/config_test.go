package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"zkusd/core/fixedpoint"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.ListenAddress)

	// The file now exists and round-trips.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Protocol, reloaded.Protocol)
}

func TestProtocolParams(t *testing.T) {
	params, err := DefaultConfig().Protocol.Params()
	require.NoError(t, err)
	require.Zero(t, params.MCR.Cmp(fixedpoint.MustWadFromDecimal("1.5")))
	require.Zero(t, params.MintFeeFloor.Cmp(fixedpoint.MustWadFromDecimal("0.005")))
	require.Zero(t, params.MinDebt.Cmp(fixedpoint.MustWadFromDecimal("200")))
	require.Equal(t, uint64(1_000_000), params.CollateralDustThreshold.Uint64())
}

func TestValidateRejectsBadParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocol.MCR = "0.9"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Protocol.MintFeeFloor = "0.1"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Protocol.MinDebt = "not-a-number"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ListenAddress = " "
	require.Error(t, cfg.Validate())
}
