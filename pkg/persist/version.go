package persist

import (
	"fmt"

	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/storage"
	"github.com/bft-labs/statesync/pkg/store"
)

// Version information for the persist module.
const (
	// Version is the current version of the persist module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)

type moduleVersion struct {
	version    string
	minVersion string
}

func dependencyVersions() map[string]moduleVersion {
	return map[string]moduleVersion{
		"deferred": {deferred.Version, deferred.MinCompatibleVersion},
		"storage":  {storage.Version, storage.MinCompatibleVersion},
		"store":    {store.Version, store.MinCompatibleVersion},
		"log":      {log.Version, log.MinCompatibleVersion},
	}
}

// validateModuleVersions checks that all module versions are compatible.
// Returns an error if any module version is below its minimum compatible version.
func validateModuleVersions() error {
	for name, m := range dependencyVersions() {
		if !isVersionCompatible(m.version, m.minVersion) {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				name, m.version, m.minVersion)
		}
	}
	return nil
}

// isVersionCompatible checks if version >= minVersion using semantic versioning.
// Assumes versions are in format "major.minor.patch".
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}
