// Package metadata is the in-memory representation of an ECMA-335
// module graph: the typed handles and data structures for modules,
// types, methods, fields, properties, parameters, locals,
// instructions, exception regions, custom attributes, and generic
// instantiations that the patching engine mutates.
//
// Entities are connected by ordinary Go pointers rather than an
// index-based arena: a pointer already is a stable handle with cheap
// identity comparison, which is what the cloner and the branch-fixup
// pass in package clone rely on. Ownership still follows metadata
// containment (a Module owns its Types, a Type owns its Methods,
// Fields, Properties and nested Types, a Method owns its Body); the
// pointers that cross those boundaries, such as a field's type or an
// instruction's operand, are non-owning and may reach into another
// Module entirely.
package metadata

// Module is the unit of metadata: it holds Types, references to other
// assemblies, and the P/Invoke stubs carried over from members that
// have not yet been patched.
type Module struct {
	Name        string
	Assembly    string // the assembly identity used for self-reference checks
	Types       []*Type
	ExternalRefs []*ExternalModuleRef
	PInvokeStubs []*PInvokeStub
}

// ExternalModuleRef names another assembly that this Module's
// metadata references. After a successful patch run, no entry here
// may name the Module's own Assembly.
type ExternalModuleRef struct {
	AssemblyName string
}

// PInvokeStub records that a Method's implementation is supplied by
// the runtime as a native-call thunk, prior to being patched with a
// managed body.
type PInvokeStub struct {
	Method         *Method
	ModuleRefName  string
	EntryPointName string
	Attributes     uint16
}

// FullName finds no module-external meaning; it names a type by
// namespace-qualified full name the way the metadata tables do.
func FullName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// FindType locates a type definition in m by full name. It returns
// nil if no such type is defined directly in this module (nested
// types are not searched by full name; callers that need nested
// lookups should walk Type.NestedTypes explicitly).
func (m *Module) FindType(fullName string) *Type {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// PurgeSelfReferences removes any ExternalModuleRef naming m's own
// assembly. This is the final cleanup spec'd for the Patch
// Orchestrator: after patching, no External Module Reference may name
// the module itself.
func (m *Module) PurgeSelfReferences() {
	if m.Assembly == "" {
		return
	}
	kept := m.ExternalRefs[:0]
	for _, ref := range m.ExternalRefs {
		if ref.AssemblyName != m.Assembly {
			kept = append(kept, ref)
		}
	}
	m.ExternalRefs = kept
}

// HasSelfReference reports whether m's external reference table still
// names its own assembly. Used by the module-invariant check the
// Orchestrator runs after the self-reference purge.
func (m *Module) HasSelfReference() bool {
	if m.Assembly == "" {
		return false
	}
	for _, ref := range m.ExternalRefs {
		if ref.AssemblyName == m.Assembly {
			return true
		}
	}
	return false
}
