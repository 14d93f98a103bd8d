package state

import "os"

// LoadWithLegacyFallback loads from path; if path does not exist and the
// caller reports legacyPath as existing (legacyExists), it reads the
// legacy file instead via
// legacyLoader and reports that a write-through is needed. Callers that
// mutate state must then call Save(path, ...) themselves — this package
// never deletes the legacy file automatically.
func LoadWithLegacyFallback(path string, legacyPath string, legacyExists bool, v Stateful, legacyLoader func(path string, v Stateful) error) (migrated bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return false, Load(path, v)
	}
	if !legacyExists {
		return false, os.ErrNotExist
	}
	if legacyLoader == nil {
		legacyLoader = Load
	}
	if err := legacyLoader(legacyPath, v); err != nil {
		return false, err
	}
	return true, nil
}
