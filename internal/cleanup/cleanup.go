package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/tigge_retriever/internal/logctx"
)

// PartSuffix marks a result that is still being (or was never fully) downloaded.
const PartSuffix = ".part"

// RemoveStalePartials deletes partial downloads in dir untouched for longer than
// maxAge. Recent partials are kept since another process may still be writing
// them. It returns how many files were removed.
func RemoveStalePartials(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PartSuffix) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // already gone
			}

			logger.Error("Failed to stat partial file", "file", filePath, "err", err)

			return removed, err
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("Failed to delete stale partial file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Deleted stale partial file", "file", filePath, "age", now.Sub(info.ModTime()).Round(time.Second).String())
	}

	return removed, nil
}
