package metadataio

import (
	"errors"

	"github.com/cilplug/patcher/metadata"
)

// ErrSaveUnsupported is returned by Save for a module shape the
// in-place writer cannot safely emit: a patched method body that no
// longer fits in the space its original encoding occupied, one that
// carries locals or exception regions, or one that references a
// string, type or member with no existing #US entry or table row. A
// full writer would re-lay the metadata tables, heaps, and sections
// from scratch; that rewrite is out of scope here (see DESIGN.md), so
// Save only ever patches bytes in place.
var ErrSaveUnsupported = errors.New("patched module no longer fits the original file's metadata and code layout")

// Save writes module's method bodies back into the assembly file at
// path, which must be the same file Load read it from: each method
// with a body and a non-zero Token is re-encoded and overwritten in
// place at its original RVA. Table rows (attributes, signatures,
// field and property metadata) and heaps are not rewritten, and the
// metadata root is never re-serialized. Anything the Method Body
// Cloner can make longer or richer than the original body — a grown
// instruction stream, a local variable, an exception region, a string
// that doesn't already live in #US — is reported as
// ErrSaveUnsupported.
//
// This mirrors the scope decision documented in DESIGN.md: the
// patcher targets assemblies where the plug body's cloned form fits
// in the space the original member already occupied, which holds for
// the common case (a plug body no larger than the stub it replaces)
// and is flagged rather than silently corrupting the file otherwise.
func Save(path string, module *metadata.Module) error {
	r, err := Open(path, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.parseHeaders(); err != nil {
		return err
	}
	if err := r.parseMetadataRoot(); err != nil {
		return err
	}
	if err := r.parseTableStream(); err != nil {
		return err
	}

	w := &writer{r: r, path: path}
	return w.writeModule(module)
}
