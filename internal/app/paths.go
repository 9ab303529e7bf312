package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations for user config, logs, and
// the local cache.
type Paths struct {
	RootDir    string
	ConfigFile string
	LogFile    string
	CacheDir   string
	DBFile     string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve cache dir: %w", err)
	}

	return PathsIn(filepath.Join(cfgRoot, Name), filepath.Join(cacheRoot, Name))
}

// PathsIn lays out the app files under explicit config and cache roots and
// creates both directories.
func PathsIn(root, cache string) (Paths, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}
	if err := os.MkdirAll(cache, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app cache dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		LogFile:    filepath.Join(root, LogFilename),
		CacheDir:   cache,
		DBFile:     filepath.Join(cache, DBFilename),
	}, nil
}
