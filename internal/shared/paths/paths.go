package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// App is the directory name used under the user config and cache roots.
const App = "agentlink"

// Fixed file names.
const (
	TokenFile    = "token"
	SnapshotFile = "conversations.snap"
	profileExt   = ".toml"
)

// Layout resolves client files under a config and a state root.
type Layout struct {
	ConfigDir string
	StateDir  string
}

// Default returns the layout under the OS user config and cache
// directories.
func Default() (Layout, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return Layout{}, fmt.Errorf("resolve config dir: %w", err)
	}
	state, err := os.UserCacheDir()
	if err != nil {
		return Layout{}, fmt.Errorf("resolve cache dir: %w", err)
	}
	return Layout{
		ConfigDir: filepath.Join(cfg, App),
		StateDir:  filepath.Join(state, App),
	}, nil
}

// Profile returns the path of the named TOML profile.
func (l Layout) Profile(name string) (string, error) {
	if err := ValidateProfileName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.ConfigDir, "profiles", name+profileExt), nil
}

// Token returns the path of the token file.
func (l Layout) Token() string {
	return filepath.Join(l.ConfigDir, TokenFile)
}

// Snapshot returns the path of the conversation snapshot.
func (l Layout) Snapshot() string {
	return filepath.Join(l.StateDir, SnapshotFile)
}

// IsProfileName reports whether ref names a profile rather than a file.
func IsProfileName(ref string) bool {
	return ref != "" &&
		!strings.ContainsRune(ref, filepath.Separator) &&
		!strings.ContainsRune(ref, '/') &&
		filepath.Ext(ref) != profileExt
}

// ValidateProfileName checks that name is usable as a single path element.
func ValidateProfileName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("profile name cannot be an absolute path")
	}
	if filepath.Clean(name) != name || filepath.Base(name) != name || name == ".." || name == "." {
		return fmt.Errorf("profile name %q contains invalid path components", name)
	}
	return nil
}
