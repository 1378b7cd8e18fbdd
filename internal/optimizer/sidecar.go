package optimizer

import (
	"encoding/json"
	"errors"

	"cortexmem/internal/cortexerr"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
)

// sidecar is the `.metadata.json` payload for a directory: a map of
// filename to that file's MemoryMetadata, per spec.md's reserved-hidden-
// file list. It is the only place the optimiser (and, in time, the
// classifier/extractor) can durably attach importance/entities/archived
// flags to a plain markdown memory file without rewriting its body.
type sidecar map[string]cortextypes.MemoryMetadata

func loadSidecar(fs *storage.Filesystem, dirURI *cortexuri.URI) (sidecar, error) {
	sc := sidecar{}
	raw, err := fs.Read(dirURI.Child(storage.MetadataFile))
	if err != nil {
		if errors.Is(err, cortexerr.ErrNotFound) {
			return sc, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return nil, cortexerr.Storage(err, "parse sidecar at %s", dirURI.String())
	}
	return sc, nil
}

func saveSidecar(fs *storage.Filesystem, dirURI *cortexuri.URI, sc sidecar) error {
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return cortexerr.Storage(err, "marshal sidecar at %s", dirURI.String())
	}
	return fs.Write(dirURI.Child(storage.MetadataFile), string(raw))
}
