package execengine

import (
	"fmt"
	"os"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/depmap"
	"github.com/cealn-go/cealn/filehash"
)

// RunBuildDepmap interprets a BuildDepmapPayload: it mounts whole
// depmaps, filters them, inserts inline files, directories and symlinks,
// and folds everything into one output depmap under the requested
// destination paths (spec.md §4.3's BuildDepmap action).
func RunBuildDepmap(c *cache.Cache, payload *action.BuildDepmapPayload) (*depmap.Depmap, error) {
	builder := depmap.NewBuilder()

	for i, entry := range payload.Entries {
		dest := entry.Destination.String()
		switch entry.Kind {
		case action.BDReference:
			if entry.Reference == nil {
				return nil, fmt.Errorf("execengine: build_depmap entry %d: reference entry missing depmap", i)
			}
			builder.Merge(dest, entry.Reference)

		case action.BDFilteredMount:
			if entry.Reference == nil {
				return nil, fmt.Errorf("execengine: build_depmap entry %d: filtered_mount entry missing depmap", i)
			}
			builder.MergeFiltered(dest, entry.FilterPrefix, entry.FilterPatterns, entry.Reference)

		case action.BDDirectory:
			builder.Insert(dest, depmap.Directory())

		case action.BDSymlink:
			builder.Insert(dest, depmap.Symlink(entry.Target))

		case action.BDInlineFile:
			h, err := publishInlineFile(c, entry.Content)
			if err != nil {
				return nil, fmt.Errorf("execengine: build_depmap entry %d: %w", i, err)
			}
			builder.Insert(dest, depmap.Regular(h, entry.Executable))

		default:
			return nil, fmt.Errorf("execengine: build_depmap entry %d: unknown entry kind %v", i, entry.Kind)
		}
	}

	return builder.Build(), nil
}

// publishInlineFile publishes literal bytes into the cache and returns
// their content hash.
func publishInlineFile(c *cache.Cache, content []byte) (h filehash.Hash, err error) {
	tmp, err := os.CreateTemp(c.Dir, "inline-*")
	if err != nil {
		return h, err
	}
	tmpPath := tmp.Name()
	if _, err = tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return h, err
	}
	if err = tmp.Close(); err != nil {
		return h, err
	}

	h, err = cache.HashFile(tmpPath)
	if err != nil {
		return h, err
	}
	if _, err = c.MoveInto(tmpPath, h, false); err != nil {
		return h, err
	}
	return h, nil
}
