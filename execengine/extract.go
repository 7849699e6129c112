package execengine

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/depmap"
)

// RunExtract unpacks payload.Archive (a concrete file already resolved to
// a cache path) per its ArchiveFormat and returns the resulting depmap.
// Shares its tar-walking and zip-slip guard with dockerpull.go's layer
// extraction (spec.md §4.3 scenario 9: ".." entries and unresolved hard
// links are rejected, not silently dropped).
func RunExtract(ctx context.Context, c *cache.Cache, payload *action.ExtractPayload) (*depmap.Depmap, error) {
	if !payload.Archive.IsConcrete() {
		return nil, fmt.Errorf("execengine: extract requires a concrete archive reference")
	}
	archivePath, ok := c.Lookup(payload.Archive.Hash())
	if !ok {
		return nil, fmt.Errorf("execengine: archive %s not found in cache", payload.Archive.Hash())
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("execengine: opening archive: %w", err)
	}
	defer f.Close()

	switch payload.Format {
	case action.FormatTar:
		return extractTarToDepmap(c, f, payload.StripComponents)

	case action.FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("execengine: opening gzip stream: %w", err)
		}
		defer gz.Close()
		return extractTarToDepmap(c, gz, payload.StripComponents)

	case action.FormatGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("execengine: opening gzip stream: %w", err)
		}
		defer gz.Close()
		h, err := publishTarEntry(c, gz, -1)
		if err != nil {
			return nil, err
		}
		builder := depmap.NewBuilder()
		builder.Insert(singleGzMemberName(archivePath), depmap.Regular(h, false))
		return builder.Build(), nil

	default:
		return nil, fmt.Errorf("execengine: unsupported archive format %v", payload.Format)
	}
}

func singleGzMemberName(archivePath string) string {
	base := archivePath
	for _, suffix := range []string{".gz"} {
		if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
			base = base[:len(base)-len(suffix)]
		}
	}
	return "out"
}
