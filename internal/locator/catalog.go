package locator

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/store"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

const catalogLookupTimeout = 5 * time.Second

// Catalog resolves identifiers registered in the shared-file catalog. An
// entry whose file has since disappeared is treated as absent.
type Catalog struct {
	files  store.FileRepository
	logger *slog.Logger
}

func NewCatalog(files store.FileRepository, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{files: files, logger: logger}
}

func (c *Catalog) Exists(fileID string) bool {
	_, ok := c.Resolve(fileID)
	return ok
}

func (c *Catalog) Resolve(fileID string) (transport.Resource, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), catalogLookupTimeout)
	defer cancel()

	file, err := c.files.GetFileByFileID(ctx, fileID)
	if err != nil {
		if err != store.ErrFileNotFound {
			c.logger.Error("Catalog lookup failed", "file_id", fileID, "error", err)
		}
		return transport.Resource{}, false
	}

	info, err := os.Stat(file.Path)
	if err != nil || !info.Mode().IsRegular() {
		c.logger.Warn("Catalogued file is missing", "file_id", fileID, "path", file.Path)
		return transport.Resource{}, false
	}

	res := transport.Resource{Name: file.Name, Path: file.Path, Size: info.Size()}
	// The recorded checksum only holds while the size still matches.
	if info.Size() == file.Size {
		if sum, err := hex.DecodeString(file.Checksum); err == nil {
			res.Checksum = sum
		}
	}
	return res, true
}
