package depmap

import (
	"fmt"

	"github.com/cealn-go/cealn/filehash"
)

// MakeConcrete rewrites a label-keyed depmap against a pre-resolved
// label -> concrete_hash map, producing a new depmap whose Regular entries
// all carry concrete content hashes. Transitive/filtered children are
// flattened through Iter into direct entries of the new depmap rather than
// copied by reference, since their own label entries may also need
// resolution.
func MakeConcrete(d *Depmap, resolve map[string]filehash.Hash) (*Depmap, error) {
	pairs, err := d.Iter()
	if err != nil {
		return nil, err
	}
	b := NewBuilder()
	for _, p := range pairs {
		e := p.Entry
		if e.Kind == KindRegular && !e.ContentRef.IsConcrete() {
			h, ok := resolve[e.ContentRef.Label()]
			if !ok {
				return nil, fmt.Errorf("depmap: no concrete hash for label %q at %q", e.ContentRef.Label(), p.Key)
			}
			e.ContentRef = ConcreteRef(h)
		}
		b.Insert(p.Key, e)
	}
	return b.Build(), nil
}
