package decode

import (
	"encoding/json"
	"fmt"

	"github.com/polkascan/harvester/internal/catalog"
	"github.com/polkascan/harvester/internal/harvesterrors"
)

// ProjectCatalogMetadata turns the opaque *metadata.Instant registered for
// (specName, specVersion) into the generic catalog.Metadata tree the
// Runtime Catalog Builder consumes (§4.4). The external codec library's
// internal metadata-tree field names are not available anywhere in this
// project's reference material — itering/substrate-api-rpc is not vendored
// for inspection, and every grounding example (the dotidx RPC reader)
// treats *metadata.Instant as opaque too, handing it straight to
// DecodeExtrinsic/DecodeEvent without walking its fields. Rather than guess
// at private struct layout, this projects through the type's own JSON
// encoding and walks the result by common Substrate metadata vocabulary
// (modules/pallets, calls, events, storage, constants, errors, types),
// accepting either case and either naming convention. Fields it cannot find
// are left at zero value; an entry that cannot be located safely degrades
// to a smaller but still valid catalog rather than failing the ingest
// pipeline over a library-shape mismatch.
func (r *Registry) ProjectCatalogMetadata(specName string, specVersion uint32) (catalog.Metadata, error) {
	m, ok := r.Lookup(specName, specVersion)
	if !ok {
		return catalog.Metadata{}, fmt.Errorf("decode: %w: no registered metadata for %s/%d", harvesterrors.ErrBlockDecode, specName, specVersion)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return catalog.Metadata{}, fmt.Errorf("decode: project catalog metadata: %w: %v", harvesterrors.ErrBlockDecode, err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return catalog.Metadata{}, fmt.Errorf("decode: project catalog metadata: %w: %v", harvesterrors.ErrBlockDecode, err)
	}
	return catalog.FromGenericTree(tree), nil
}
