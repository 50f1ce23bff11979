package metadata

// MethodAttributes is the subset of ECMA-335 MethodAttributes bits
// the patching engine reasons about directly.
type MethodAttributes uint32

const (
	MethodAttrStatic MethodAttributes = 1 << iota
	MethodAttrPublic
	MethodAttrPrivate
	MethodAttrVirtual
	MethodAttrSpecialName // set on .ctor / .cctor
	MethodAttrRTSpecialName
	MethodAttrPInvokeImpl
	MethodAttrAbstract
)

// MethodImplAttributes is the subset of implementation-attribute bits
// the P/Invoke scrubbing step (spec.md §4.5 step 8) must clear.
type MethodImplAttributes uint16

const (
	ImplPreserveSig MethodImplAttributes = 1 << iota
	ImplInternalCall
	ImplNative
	ImplUnmanaged
	ImplRuntime
)

// CtorName and CCtorName are the metadata names of instance and static
// constructors; the Member Matcher maps the reserved plug-method names
// Ctor and CCtor (spec.md §4.4 and §6) onto them.
const (
	CtorName  = ".ctor"
	CCtorName = ".cctor"
)

// Method is a method, instance constructor, or static constructor
// defined on a Type.
type Method struct {
	DeclaringType *Type
	Name          string
	Attributes    MethodAttributes
	ImplAttrs     MethodImplAttributes

	// Token is this Method's metadata token, stamped by metadataio.Load
	// on every method it decodes (plug and target alike); 0 if
	// synthesized in memory. Save skips methods whose Token is 0.
	Token uint32

	// RVA is the body's original file RVA, captured at Load time so
	// Save can locate the tiny/fat header to overwrite. Save leaves it
	// unchanged and reports ErrSaveUnsupported when a patched body no
	// longer fits in the space found there.
	RVA uint32

	ReturnType TypeRef
	Params     []Param

	// Body is nil before patching for a method carrying a P/Invoke
	// flag or stub descriptor; spec.md requires one to be present
	// after patching.
	Body *Body

	CustomAttributes []CustomAttribute
	Overrides        []MethodRef

	PInvoke *PInvokeStub
}

func (m *Method) IsStatic() bool       { return m.Attributes&MethodAttrStatic != 0 }
func (m *Method) IsConstructor() bool  { return m.Name == CtorName || m.Name == CCtorName }
func (m *Method) IsInstanceCtor() bool { return m.Name == CtorName }
func (m *Method) IsStaticCtor() bool   { return m.Name == CCtorName }

// HasPInvoke reports whether m still carries a P/Invoke flag or stub
// descriptor, i.e. whether the clone step's P/Invoke scrubbing (spec
// §4.5 step 8) still has work to do.
func (m *Method) HasPInvoke() bool {
	return m.Attributes&MethodAttrPInvokeImpl != 0 || m.PInvoke != nil
}

// ClearPInvoke implements spec.md §4.5 step 8: clear the P/Invoke
// flag, the stub descriptor, and the PreserveSig / InternalCall /
// Native / Unmanaged / Runtime implementation bits.
func (m *Method) ClearPInvoke() {
	m.Attributes &^= MethodAttrPInvokeImpl
	m.PInvoke = nil
	m.ImplAttrs &^= ImplPreserveSig | ImplInternalCall | ImplNative | ImplUnmanaged | ImplRuntime
}

// HandlerKind distinguishes the four exception region handler shapes
// ECMA-335 recognizes.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

// ExceptionRegion is one protected-block / handler pair. Positions
// are Instruction pointers, which is what gives them stable identity
// across the clone and branch-fixup passes.
type ExceptionRegion struct {
	Kind HandlerKind

	TryStart, TryEnd         *Instruction
	HandlerStart, HandlerEnd *Instruction

	CaughtType  *TypeRef // set only for HandlerCatch
	FilterStart *Instruction // set only for HandlerFilter
}

// Local is a local variable slot declared in a Method Body.
type Local struct {
	Type   TypeRef
	Name   string
	Pinned bool
}

// Body is a Method's instruction stream, local variable list,
// exception region list, and the two pieces of body-level metadata
// (init-locals flag, max-stack hint) the cloner copies verbatim.
type Body struct {
	Instructions     []*Instruction
	Locals           []Local
	ExceptionRegions []ExceptionRegion
	MaxStack         uint16
	InitLocals       bool
}

// LastInstruction returns the last instruction in the body, or nil
// if empty.
func (b *Body) LastInstruction() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}

// Append adds instr to the end of the body and returns it, for
// convenient chaining during cloning.
func (b *Body) Append(instr *Instruction) *Instruction {
	b.Instructions = append(b.Instructions, instr)
	return instr
}
