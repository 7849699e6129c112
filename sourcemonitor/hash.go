package sourcemonitor

import (
	"fmt"
	"io"
	"os"

	"github.com/cealn-go/cealn/filehash"
)

// hashFileContents computes the plain content hash of path, with no
// retry protocol; HashFile wraps this with the before/after stat check
// required by §4.5.
func hashFileContents(path string) (filehash.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return filehash.Hash{}, fmt.Errorf("sourcemonitor: open %s: %w", path, err)
	}
	defer f.Close()

	b := filehash.NewBuilder(filehash.KindFile)
	if _, err := io.Copy(b, f); err != nil {
		return filehash.Hash{}, fmt.Errorf("sourcemonitor: read %s: %w", path, err)
	}
	return b.Sum(), nil
}
