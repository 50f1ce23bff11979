package metadataio

import "github.com/cilplug/patcher/metadata"

// sigReader walks a signature or custom-attribute-value blob byte by
// byte, decoding the compressed integers and coded indices ECMA-335
// §II.23 signatures are built from.
type sigReader struct {
	buf []byte
	pos int
}

func (s *sigReader) done() bool { return s.pos >= len(s.buf) }

func (s *sigReader) byte() byte {
	if s.done() {
		return 0
	}
	b := s.buf[s.pos]
	s.pos++
	return b
}

// compressedUint decodes one ECMA-335 §II.23.2 compressed unsigned
// integer.
func (s *sigReader) compressedUint() uint32 {
	if s.done() {
		return 0
	}
	first := s.buf[s.pos]
	switch {
	case first&0x80 == 0:
		s.pos++
		return uint32(first)
	case first&0xC0 == 0x80:
		if s.pos+1 >= len(s.buf) {
			s.pos = len(s.buf)
			return 0
		}
		v := (uint32(first&0x3F) << 8) | uint32(s.buf[s.pos+1])
		s.pos += 2
		return v
	default:
		if s.pos+3 >= len(s.buf) {
			s.pos = len(s.buf)
			return 0
		}
		v := (uint32(first&0x1F) << 24) | uint32(s.buf[s.pos+1])<<16 | uint32(s.buf[s.pos+2])<<8 | uint32(s.buf[s.pos+3])
		s.pos += 4
		return v
	}
}

// compressedInt decodes an ECMA-335 §II.23.2 compressed *signed*
// integer (used by enum and sbyte custom-attribute argument values
// encoded via the unsigned form with a sign folded into the low bit
// for the 1/2-byte forms is NOT how ECMA does it for plain integers —
// custom attribute fixed args instead carry their natural fixed
// width, handled directly in customattr.go). Kept for the rare
// signature element that needs a raw signed compressed value.
func (s *sigReader) compressedInt() int32 {
	start := s.pos
	u := s.compressedUint()
	v := int32(u >> 1)
	if u&1 == 0 {
		return v
	}
	// Negative values are stored two's-complement within the encoded
	// width (7, 14 or 28 bits) and rotated left by one; sign-extend.
	switch s.pos - start {
	case 1:
		return v - 0x40
	case 2:
		return v - 0x2000
	default:
		return v - 0x10000000
	}
}

// Element type tags, ECMA-335 §II.23.1.16.
const (
	elemVoid         = 0x01
	elemBoolean      = 0x02
	elemChar         = 0x03
	elemI1           = 0x04
	elemU1           = 0x05
	elemI2           = 0x06
	elemU2           = 0x07
	elemI4           = 0x08
	elemU4           = 0x09
	elemI8           = 0x0A
	elemU8           = 0x0B
	elemR4           = 0x0C
	elemR8           = 0x0D
	elemString       = 0x0E
	elemPtr          = 0x0F
	elemByRef        = 0x10
	elemValueType    = 0x11
	elemClass        = 0x12
	elemVar          = 0x13
	elemArray        = 0x14
	elemGenericInst  = 0x15
	elemTypedByRef   = 0x16
	elemI            = 0x18
	elemU            = 0x19
	elemFnPtr        = 0x1B
	elemObject       = 0x1C
	elemSZArray      = 0x1D
	elemMVar         = 0x1E
	elemCModReqd     = 0x1F
	elemCModOpt      = 0x20
	elemSentinel     = 0x41
	elemPinned       = 0x45
)

var primitiveNames = map[byte]string{
	elemVoid: "Void", elemBoolean: "Boolean", elemChar: "Char",
	elemI1: "SByte", elemU1: "Byte", elemI2: "Int16", elemU2: "UInt16",
	elemI4: "Int32", elemU4: "UInt32", elemI8: "Int64", elemU8: "UInt64",
	elemR4: "Single", elemR8: "Double", elemString: "String",
	elemI: "IntPtr", elemU: "UIntPtr", elemObject: "Object", elemTypedByRef: "TypedReference",
}

func primitiveType(name string) metadata.TypeRef {
	return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "System", Name: name}}
}

// decodeType decodes one type signature per ECMA-335 §II.23.2.12,
// resolving TypeDefOrRef leaves against the module being loaded when
// possible and falling back to an external placeholder otherwise.
func (c *loadCtx) decodeType(s *sigReader) metadata.TypeRef {
	for {
		tag := s.byte()
		switch tag {
		case elemCModOpt, elemCModReqd:
			s.compressedUint() // skip the modifier type token, not modeled
			continue
		case elemPinned:
			continue
		}
		switch tag {
		case elemValueType, elemClass:
			return c.resolveTypeDefOrRef(s.compressedUint())
		case elemPtr:
			elem := c.decodeType(s)
			return metadata.TypeRef{Kind: metadata.TypeRefPointer, Elem: &elem}
		case elemByRef:
			elem := c.decodeType(s)
			return metadata.TypeRef{Kind: metadata.TypeRefByRef, Elem: &elem}
		case elemSZArray:
			elem := c.decodeType(s)
			return metadata.TypeRef{Kind: metadata.TypeRefArray, Elem: &elem}
		case elemArray:
			elem := c.decodeType(s)
			rank := s.compressedUint()
			// Sized/lower-bound dimension info follows; the patcher
			// only ever needs the element type and rank.
			numSizes := s.compressedUint()
			for i := uint32(0); i < numSizes; i++ {
				s.compressedUint()
			}
			numLoBounds := s.compressedUint()
			for i := uint32(0); i < numLoBounds; i++ {
				s.compressedInt()
			}
			return metadata.TypeRef{Kind: metadata.TypeRefArray, Elem: &elem, ArrayRank: int(rank)}
		case elemGenericInst:
			s.byte() // CLASS or VALUETYPE, already consumed the generic def shape
			base := c.resolveTypeDefOrRef(s.compressedUint())
			count := s.compressedUint()
			args := make([]metadata.TypeRef, count)
			for i := range args {
				args[i] = c.decodeType(s)
			}
			return metadata.TypeRef{Kind: metadata.TypeRefGenericInstance, Elem: &base, GenericArgs: args}
		case elemVar:
			return metadata.TypeRef{Kind: metadata.TypeRefGenericParam, GenericParamIndex: uint16(s.compressedUint())}
		case elemMVar:
			return metadata.TypeRef{Kind: metadata.TypeRefGenericParam, GenericParamIndex: uint16(s.compressedUint()), GenericParamOnMethod: true}
		case elemFnPtr:
			// Function pointer types are out of scope for the members
			// the engine matches and clones; represent opaquely.
			return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "System.IntPtr"}}
		default:
			if name, ok := primitiveNames[tag]; ok {
				return primitiveType(name)
			}
			return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "System.Object"}}
		}
	}
}

// resolveTypeDefOrRef decodes a compressed TypeDefOrRef coded index
// (tag bits: 0=TypeDef, 1=TypeRef, 2=TypeSpec) as it appears inlined
// in a signature, and resolves it against the tables already loaded.
func (c *loadCtx) resolveTypeDefOrRef(coded uint32) metadata.TypeRef {
	tag := coded & 0x3
	rid := coded >> 2
	switch tag {
	case 0:
		if int(rid) >= 1 && int(rid) <= len(c.typeDefs) {
			return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: c.typeDefs[rid-1]}
		}
	case 1:
		if int(rid) >= 1 && int(rid) <= len(c.typeRefs) {
			return c.typeRefs[rid-1]
		}
	}
	return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "<typespec>"}}
}

// decodeMethodSignature decodes a MethodDefSig/MethodRefSig per
// ECMA-335 §II.23.2.1: calling convention byte, optional generic
// param count, param count, return type, then each parameter type.
func (c *loadCtx) decodeMethodSignature(blob []byte) (retType metadata.TypeRef, params []metadata.TypeRef) {
	s := &sigReader{buf: blob}
	convention := s.byte()
	if convention&0x10 != 0 { // generic
		s.compressedUint()
	}
	paramCount := s.compressedUint()
	retType = c.decodeType(s)
	params = make([]metadata.TypeRef, 0, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		if !s.done() && s.buf[s.pos] == elemSentinel {
			s.byte()
		}
		params = append(params, c.decodeType(s))
	}
	return retType, params
}

// decodeFieldSignature decodes a FieldSig: the 0x06 calling-convention
// byte followed by the field's type.
func (c *loadCtx) decodeFieldSignature(blob []byte) metadata.TypeRef {
	s := &sigReader{buf: blob}
	s.byte() // FIELD calling convention (0x06)
	return c.decodeType(s)
}
