package retriever

import (
	"os"
	"path/filepath"
)

const (
	artifactSuffix        = "-tigge.nc"
	reducedArtifactSuffix = "-tigge-reduced.nc"
)

// ArtifactPath returns where the artifact for date lives under dataDir.
// The layout is flat, one file per date: <dataDir>/YYYY-MM-DD-tigge.nc, or
// <dataDir>/YYYY-MM-DD-tigge-reduced.nc for the reduced variable set.
func ArtifactPath(dataDir string, date Date, reduced bool) string {
	suffix := artifactSuffix
	if reduced {
		suffix = reducedArtifactSuffix
	}

	return filepath.Join(dataDir, date.String()+suffix)
}

// Present reports whether a complete artifact exists at path. Zero-byte files and
// anything that is not a regular file do not count.
func Present(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular() && info.Size() > 0
}
