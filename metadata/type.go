package metadata

// TypeFlags carries the handful of bits the patching engine actually
// inspects on a Type: whether it is a value type, an interface,
// sealed, or generic.
type TypeFlags uint8

const (
	TypeFlagValueType TypeFlags = 1 << iota
	TypeFlagInterface
	TypeFlagSealed
	TypeFlagGeneric
)

// Type is a class, struct, interface, enum, or delegate definition
// owned by a Module (or nested inside another Type of that Module).
type Type struct {
	Module     *Module
	Namespace  string
	Name       string

	// Token is the ECMA-335 metadata token (table tag in the top byte,
	// row id in the low three bytes) Metadata I/O assigned this Type
	// when it was loaded, 0 for a Type synthesized in memory. Save
	// uses it to encode references to this Type in rewritten bodies.
	Token uint32
	BaseType   *TypeRef
	Interfaces []TypeRef

	Fields      []*Field
	Methods     []*Method
	Properties  []*Property
	NestedTypes []*Type

	CustomAttributes []CustomAttribute
	Flags            TypeFlags
}

// FullName returns the namespace-qualified name used to key types
// across the patcher: Plug Scanner target lookups, Member Matcher
// name comparisons, and safe-import substitution all key off this.
func (t *Type) FullName() string {
	return FullName(t.Namespace, t.Name)
}

// IsValueType reports whether t carries TypeFlagValueType; used
// nowhere directly today but kept alongside the other flag
// predicates.
func (t *Type) IsValueType() bool { return t.Flags&TypeFlagValueType != 0 }

// FindMethod returns every method in t whose name matches, in
// declaration order (nil if none).
func (t *Type) FindMethod(name string) []*Method {
	var out []*Method
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// FindProperty returns the property in t named name, or nil.
func (t *Type) FindProperty(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// FindField returns the field in t named name, or nil.
func (t *Type) FindField(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ParamAttributes is the small subset of parameter attribute bits the
// engine carries through cloning untouched.
type ParamAttributes uint8

const (
	ParamAttrIn ParamAttributes = 1 << iota
	ParamAttrOut
	ParamAttrOptional
)

// Param is a formal parameter of a Method or the indexer parameter
// list of a Property. Index equals position in the owning list.
type Param struct {
	Index      int
	Name       string
	Type       TypeRef
	Attributes ParamAttributes
}

// FieldAttributes mirrors the ECMA-335 FieldAttributes bits the
// engine reasons about: static-ness, literal-ness, init-only-ness.
type FieldAttributes uint16

const (
	FieldAttrStatic FieldAttributes = 1 << iota
	FieldAttrLiteral
	FieldAttrInitOnly
	FieldAttrPublic
	FieldAttrPrivate
)

// Constant is a compile-time literal value attached to a Field,
// Param (default value), or Property.
type Constant struct {
	Type  TypeRef
	Value any
}

// MarshalDescriptor carries a field's unmanaged marshaling shape,
// copied verbatim by the Field patcher.
type MarshalDescriptor struct {
	NativeType byte
	Extra      []byte
}

// Field is a data member of a Type.
type Field struct {
	DeclaringType    *Type
	Name             string
	// Token is this Field's metadata token, 0 if synthesized in memory.
	Token            uint32
	Type             TypeRef
	Attributes       FieldAttributes
	Constant         *Constant
	InitialBytes     []byte
	Marshal          *MarshalDescriptor
	CustomAttributes []CustomAttribute
}

func (f *Field) IsStatic() bool { return f.Attributes&FieldAttrStatic != 0 }

// Property is a get/set pair (optionally indexed) over a backing
// field, or a computed accessor pair with no backing field at all.
type Property struct {
	DeclaringType    *Type
	Name             string
	// Token is this Property's metadata token, 0 if synthesized in memory.
	Token            uint32
	Type             TypeRef
	Params           []Param // non-empty only for indexers
	Getter           *Method
	Setter           *Method
	Constant         *Constant
	CustomAttributes []CustomAttribute
}
