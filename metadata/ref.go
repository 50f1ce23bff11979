package metadata

// ExternalRef is an unresolved handle identifying a type, method, or
// field by assembly name, a scope string (the owning type or module
// within that assembly), a full name, and a signature. It is opaque
// to the patching core: the Metadata I/O collaborator is the only
// component that ever resolves one into real bytes, and only on
// demand (lazily, when a reader walks into it).
type ExternalRef struct {
	AssemblyName string
	Scope        string
	FullName     string
	Signature    string
}

// TypeRefKind distinguishes the shapes a type reference can take.
// Everywhere the engine touches a type — a return type, a parameter
// type, a field's type, a generic argument, the element type of an
// array/pointer/by-ref, or the arguments of a generic instantiation —
// it drives the safe-import recursion in package rewrite by matching
// on this tag, per the tagged-variant design spec.md calls for.
type TypeRefKind uint8

const (
	// TypeRefDef points directly at a Type definition, possibly in
	// another Module than the one holding the reference.
	TypeRefDef TypeRefKind = iota
	// TypeRefExternal is an unresolved cross-assembly reference.
	TypeRefExternal
	// TypeRefArray wraps Elem as an array of ArrayRank dimensions (0
	// means a vector, i.e. a single-dimensional zero-based array).
	TypeRefArray
	// TypeRefPointer wraps Elem as an unmanaged pointer type.
	TypeRefPointer
	// TypeRefByRef wraps Elem as a managed by-reference type.
	TypeRefByRef
	// TypeRefGenericInstance instantiates the generic definition
	// named by Elem with GenericArgs.
	TypeRefGenericInstance
	// TypeRefGenericParam names the GenericParamIndex'th generic
	// parameter of the enclosing type (or, if GenericParamOnMethod,
	// of the enclosing method).
	TypeRefGenericParam
)

// TypeRef is a reference to a type, used wherever spec.md's data
// model calls for "a type reference": a method's return type, a
// field's type, a parameter's type, a base type, an implemented
// interface, a local's type, a caught-type, a generic argument.
type TypeRef struct {
	Kind TypeRefKind

	// Kind == TypeRefDef.
	Def *Type

	// Kind == TypeRefExternal.
	External ExternalRef

	// Kind == TypeRefArray | TypeRefPointer | TypeRefByRef: the
	// wrapped element type.
	// Kind == TypeRefGenericInstance: the generic type definition
	// being instantiated.
	Elem *TypeRef

	ArrayRank int // meaningful only for TypeRefArray

	GenericArgs []TypeRef // meaningful only for TypeRefGenericInstance

	GenericParamIndex    uint16 // meaningful only for TypeRefGenericParam
	GenericParamOnMethod bool   // meaningful only for TypeRefGenericParam
}

// FullName returns the best-effort full name of the referenced type,
// following Def/External directly and describing composite shapes
// textually. Used for signature comparison in package match and for
// diagnostics; it is never round-tripped back into metadata.
func (r TypeRef) FullName() string {
	switch r.Kind {
	case TypeRefDef:
		if r.Def == nil {
			return ""
		}
		return r.Def.FullName()
	case TypeRefExternal:
		return r.External.FullName
	case TypeRefArray:
		if r.Elem == nil {
			return "[]"
		}
		return r.Elem.FullName() + "[]"
	case TypeRefPointer:
		if r.Elem == nil {
			return "*"
		}
		return r.Elem.FullName() + "*"
	case TypeRefByRef:
		if r.Elem == nil {
			return "&"
		}
		return r.Elem.FullName() + "&"
	case TypeRefGenericInstance:
		base := ""
		if r.Elem != nil {
			base = r.Elem.FullName()
		}
		return base
	case TypeRefGenericParam:
		return ""
	default:
		return ""
	}
}

// ScopeAssembly returns the assembly name this reference's leaf scope
// names, if any is meaningful (only TypeRefExternal carries one
// directly; composite kinds recurse into Elem).
func (r TypeRef) ScopeAssembly() string {
	switch r.Kind {
	case TypeRefExternal:
		return r.External.AssemblyName
	case TypeRefArray, TypeRefPointer, TypeRefByRef, TypeRefGenericInstance:
		if r.Elem != nil {
			return r.Elem.ScopeAssembly()
		}
	}
	return ""
}

// RefKind distinguishes a resolved member definition from an
// unresolved cross-assembly reference, shared by MethodRef and
// FieldRef.
type RefKind uint8

const (
	RefKindDef RefKind = iota
	RefKindExternal
)

// MethodRef is a reference to a method: either a concrete Method
// definition, or an external reference plus enough shape information
// (declaring type, name, return type, parameter types) for the safe
// importer to reconstruct it in another module.
type MethodRef struct {
	Kind RefKind

	Def *Method // Kind == RefKindDef

	External ExternalRef // Kind == RefKindExternal

	DeclaringType TypeRef
	Name          string
	ReturnType    TypeRef
	Params        []TypeRef

	// GenericArgs is non-empty for a MethodSpec: a generic method
	// instantiation used as a call site operand.
	GenericArgs []TypeRef
}

// FullName returns the method's declaring-type-qualified name, used
// in diagnostics.
func (r MethodRef) FullName() string {
	if r.Kind == RefKindDef && r.Def != nil {
		return r.Def.DeclaringType.FullName() + "::" + r.Def.Name
	}
	return r.DeclaringType.FullName() + "::" + r.Name
}

// FieldRef is a reference to a field, mirroring MethodRef.
type FieldRef struct {
	Kind RefKind

	Def *Field // Kind == RefKindDef

	External ExternalRef // Kind == RefKindExternal

	DeclaringType TypeRef
	Name          string
	FieldType     TypeRef
}

func (r FieldRef) FullName() string {
	if r.Kind == RefKindDef && r.Def != nil {
		return r.Def.DeclaringType.FullName() + "::" + r.Def.Name
	}
	return r.DeclaringType.FullName() + "::" + r.Name
}

// CallSite is the calling-convention-plus-signature descriptor used
// by the calli instruction's operand, and by StandAloneSig-backed
// local variable signatures.
type CallSite struct {
	CallingConvention uint8
	ReturnType        TypeRef
	ParamTypes        []TypeRef
}

// CustomAttribute is a custom-attribute blob attached to a Type,
// Method, Field, or Property: a constructor reference, its
// positional arguments, and its named field/property arguments.
type CustomAttribute struct {
	Constructor MethodRef
	CtorArgs    []AttributeArg
	NamedArgs   []NamedAttributeArg
}

// AttributeArg is one positional constructor argument.
type AttributeArg struct {
	Type  TypeRef
	Value any
}

// NamedAttributeArg is one named field- or property-style argument,
// e.g. `Target = "N.T"` or `Architecture = 1`.
type NamedAttributeArg struct {
	Name    string
	IsField bool
	Type    TypeRef
	Value   any
}
