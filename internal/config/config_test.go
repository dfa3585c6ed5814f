package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIni(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndDevices(t *testing.T) {
	path := writeIni(t, `
[SETTINGS]
SERVERPORT=9090

[DEVICE:1]
PORT=/dev/ttyUSB0
BAUD=115200

[DEVICE:2]
PORT=/dev/ttyUSB1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.ServerHost, "unset key falls back to default")
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "US", cfg.DefaultRegion)
	require.Len(t, cfg.Devices, 2)

	byID := map[int64]Device{}
	for _, d := range cfg.Devices {
		byID[d.ID] = d
	}
	assert.Equal(t, "/dev/ttyUSB0", byID[1].Port)
	assert.Equal(t, 115200, byID[1].Baud)
	assert.Equal(t, 115200, byID[2].Baud, "missing BAUD defaults to 115200")
}

func TestLoadRejectsNoDevices(t *testing.T) {
	path := writeIni(t, "[SETTINGS]\nSERVERPORT=9090\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverridesIniValue(t *testing.T) {
	path := writeIni(t, `
[SETTINGS]
SERVERPORT=9090

[DEVICE:1]
PORT=/dev/ttyUSB0
`)
	t.Setenv("MUXO_SERVERPORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.ServerPort)
}
