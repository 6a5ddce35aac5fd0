package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// defaultAppName names the config and data trees when no app name is given.
const defaultAppName = "strom"

// Paths locates the config file and the on-disk stores.
type Paths struct {
	ConfigPath       string
	EnvPath          string
	DataDir          string
	EventsDBPath     string
	ReadModelsDBPath string
	BusStoreDir      string
}

// Options adjusts path resolution.
type Options struct {
	AppName string
	DevMode bool
}

// baseOverrides lists, per GOOS, the variables that move the config and the data base.
// Platforms without an entry keep the os package defaults.
var baseOverrides = map[string]struct{ config, data string }{
	"linux":   {config: "XDG_CONFIG_HOME", data: "XDG_DATA_HOME"},
	"windows": {config: "APPDATA", data: "LOCALAPPDATA"},
}

// DefaultPathsWithOptions resolves paths for opts on the running platform. DevMode
// appends "-dev" to the app name so a development instance never touches real
// events or read models.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = defaultAppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(runtime.GOOS, configDir)
	if err != nil {
		return Paths{}, err
	}

	env := make(map[string]string)
	if names, ok := baseOverrides[runtime.GOOS]; ok {
		env[names.config] = os.Getenv(names.config)
		env[names.data] = os.Getenv(names.data)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// userDataDir picks the platform data base before environment overrides apply.
func userDataDir(goos, configDir string) (string, error) {
	switch goos {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("user home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			return v, nil
		}
	}
	return configDir, nil
}

// PathsFor resolves paths for goos from env and the given base dirs. Event and
// read-model files carry the app name so dev and release databases never mix
// when both trees share a base.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if names, ok := baseOverrides[goos]; ok {
		if v := strings.TrimSpace(env[names.config]); v != "" {
			configBase = v
		}
		if v := strings.TrimSpace(env[names.data]); v != "" {
			dataBase = v
		}
	}

	configDir := filepath.Join(configBase, appName)
	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath:       filepath.Join(configDir, "config.toml"),
		EnvPath:          filepath.Join(configDir, ".env"),
		DataDir:          dataDir,
		EventsDBPath:     filepath.Join(dataDir, appName+"-events.db"),
		ReadModelsDBPath: filepath.Join(dataDir, appName+"-readmodels.db"),
		BusStoreDir:      filepath.Join(dataDir, "jetstream"),
	}, nil
}
