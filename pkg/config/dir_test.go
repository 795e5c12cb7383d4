package config

import (
	"os"
	"path/filepath"
	"testing"

	homedir "github.com/mitchellh/go-homedir"
	"gotest.tools/assert"
)

func TestSetHome(t *testing.T) {
	t.Setenv(WSMASTER_HOME, "/previous")

	assert.NilError(t, SetHome(""))
	assert.Equal(t, os.Getenv(WSMASTER_HOME), "/previous")

	assert.NilError(t, SetHome("relative-home"))
	cwd, err := os.Getwd()
	assert.NilError(t, err)
	configDir, err := GetConfigDir()
	assert.NilError(t, err)
	assert.Equal(t, configDir, filepath.Join(cwd, "relative-home"))

	assert.NilError(t, SetHome("~/wsmaster-home"))
	userHome, err := homedir.Dir()
	assert.NilError(t, err)
	configDir, err = GetConfigDir()
	assert.NilError(t, err)
	assert.Equal(t, configDir, filepath.Join(userHome, "wsmaster-home"))
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(WSMASTER_HOME, "/srv/wsmaster")
	t.Setenv(WSMASTER_CONFIG, "")

	configPath, err := GetConfigPath()
	assert.NilError(t, err)
	assert.Equal(t, configPath, filepath.Join("/srv/wsmaster", ConfigFile))

	t.Setenv(WSMASTER_CONFIG, "/etc/wsmaster.yaml")
	configPath, err = GetConfigPath()
	assert.NilError(t, err)
	assert.Equal(t, configPath, "/etc/wsmaster.yaml")
}

func TestResolvePath(t *testing.T) {
	userHome, err := homedir.Dir()
	assert.NilError(t, err)

	testCases := []struct {
		path     string
		expected string
	}{
		{path: "wsmaster.db", expected: filepath.Join("/srv/wsmaster", "wsmaster.db")},
		{path: "/var/lib/wsmaster.db", expected: "/var/lib/wsmaster.db"},
		{path: "~/data/wsmaster.db", expected: filepath.Join(userHome, "data", "wsmaster.db")},
	}

	for _, tc := range testCases {
		resolved, err := resolvePath("/srv/wsmaster", tc.path)
		assert.NilError(t, err, tc.path)
		assert.Equal(t, resolved, tc.expected, tc.path)
	}
}
