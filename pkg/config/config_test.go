package config

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	if os.Getenv("USERPROFILE") != "" {
		t.Setenv("USERPROFILE", home)
	}
	return home
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	home := useTempHome(t)

	conf := LoadConfig()
	require.NotNil(t, conf)
	// Every option is commented out in the default file.
	assert.Empty(t, conf.Listen)
	assert.Nil(t, conf.ScanMaxCandidates)

	_, err := os.Stat(path.Join(home, configDir, configFile))
	assert.NoError(t, err, "default config file should have been created")
}

func TestSaveAndReloadConfig(t *testing.T) {
	useTempHome(t)
	LoadConfig()

	maxCands := 500000
	depth := 7
	require.NoError(t, SaveConfig(&Config{
		Listen:            "127.0.0.1:4040",
		ScanMaxCandidates: &maxCands,
		PointerMaxDepth:   &depth,
	}))

	conf := LoadConfig()
	assert.Equal(t, "127.0.0.1:4040", conf.Listen)
	require.NotNil(t, conf.ScanMaxCandidates)
	assert.Equal(t, 500000, *conf.ScanMaxCandidates)
	require.NotNil(t, conf.PointerMaxDepth)
	assert.Equal(t, 7, *conf.PointerMaxDepth)
	assert.Nil(t, conf.ScanAlignment)
}
