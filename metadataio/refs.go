package metadataio

import "github.com/cilplug/patcher/metadata"

// loadCtx accumulates the RID-indexed lookup tables the loader builds
// while it walks the metadata tables, so that later tables (whose rows
// reference earlier ones by coded index or raw token) can resolve
// against definitions that already exist as *metadata.Type /
// *metadata.Method / *metadata.Field pointers rather than placeholder
// indices.
type loadCtx struct {
	r      *Reader
	module *metadata.Module

	typeDefs   []*metadata.Type     // 1-based RID -> def
	methodDefs []*metadata.Method   // 1-based RID -> def
	fields     []*metadata.Field    // 1-based RID -> def
	typeRefs   []metadata.TypeRef   // 1-based RID -> external reference
	memberRefs []memberRefEntry     // 1-based RID -> classified member
	properties []*metadata.Property // 1-based RID -> def

	assemblyRefNames []string // 1-based RID -> assembly name

	// Ownership-range bookkeeping captured while decoding TypeDef and
	// MethodDef, consumed once the tables they range over are loaded.
	typeDefFieldStart  []uint32 // index i: first Field RID owned by typeDefs[i]
	typeDefMethodStart []uint32 // index i: first MethodDef RID owned by typeDefs[i]
	methodDefRVA       []uint32 // index i: methodDefs[i]'s body RVA, 0 if none
	methodDefParamStart []uint32 // index i: first Param RID owned by methodDefs[i]
}

// memberRefEntry is a MemberRef table row classified, per ECMA-335
// §II.23.2.1, by whether its signature blob begins with the FIELD
// (0x06) calling-convention byte or a method calling convention.
type memberRefEntry struct {
	isField bool
	method  metadata.MethodRef
	field   metadata.FieldRef
}

// Metadata token table tags, ECMA-335 §II.22.2 (the top byte of every
// 4-byte token).
const (
	tagTypeRef     = 0x01
	tagTypeDef     = 0x02
	tagField       = 0x04
	tagMethodDef   = 0x06
	tagParam       = 0x08
	tagMemberRef   = 0x0A
	tagStandAloneSig = 0x11
	tagTypeSpec    = 0x1B
	tagAssembly    = 0x20
	tagAssemblyRef = 0x23
	tagString      = 0x70
	tagMethodSpec  = 0x2B
	tagProperty    = 0x17
)

func tokenTag(token uint32) uint32 { return token >> 24 }
func tokenRID(token uint32) uint32 { return token & 0x00FFFFFF }

// resolveTypeToken resolves a raw metadata token found in a CIL
// operand (castclass, isinst, box, newarr, unbox.any, ldobj, cpobj,
// initobj, ldtoken, mkrefany and friends) into a TypeRef.
func (c *loadCtx) resolveTypeToken(token uint32) metadata.TypeRef {
	rid := tokenRID(token)
	switch tokenTag(token) {
	case tagTypeDef:
		if int(rid) >= 1 && int(rid) <= len(c.typeDefs) {
			return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: c.typeDefs[rid-1]}
		}
	case tagTypeRef:
		if int(rid) >= 1 && int(rid) <= len(c.typeRefs) {
			return c.typeRefs[rid-1]
		}
	case tagTypeSpec:
		return c.resolveTypeSpec(rid)
	}
	return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "<unresolved type>"}}
}

// resolveTypeSpec decodes the blob of TypeSpec row rid (a full type
// signature, used for instantiated generics and arrays referenced
// directly as an operand type).
func (c *loadCtx) resolveTypeSpec(rid uint32) metadata.TypeRef {
	if rid == 0 || rid > c.r.tables.rows(tblTypeSpec) {
		return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "<typespec>"}}
	}
	row := c.r.tables.row(c.r, tblTypeSpec, rid-1)
	blobIdx := row.idx(c.r.tables.blobIndexSize)
	blob, err := c.r.blobAt(blobIdx)
	if err != nil {
		return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "<typespec>"}}
	}
	return c.decodeType(&sigReader{buf: blob})
}

// resolveFieldToken resolves a Field or MemberRef token into a
// FieldRef.
func (c *loadCtx) resolveFieldToken(token uint32) metadata.FieldRef {
	rid := tokenRID(token)
	switch tokenTag(token) {
	case tagField:
		if int(rid) >= 1 && int(rid) <= len(c.fields) {
			f := c.fields[rid-1]
			return metadata.FieldRef{
				Kind: metadata.RefKindDef, Def: f,
				DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: f.DeclaringType},
				Name:          f.Name,
				FieldType:     f.Type,
			}
		}
	case tagMemberRef:
		if int(rid) >= 1 && int(rid) <= len(c.memberRefs) && c.memberRefs[rid-1].isField {
			return c.memberRefs[rid-1].field
		}
	}
	return metadata.FieldRef{Kind: metadata.RefKindExternal, External: metadata.ExternalRef{FullName: "<unresolved field>"}}
}

// resolveMethodToken resolves a MethodDef, MemberRef, or MethodSpec
// token into a MethodRef.
func (c *loadCtx) resolveMethodToken(token uint32) metadata.MethodRef {
	rid := tokenRID(token)
	switch tokenTag(token) {
	case tagMethodDef:
		if int(rid) >= 1 && int(rid) <= len(c.methodDefs) {
			m := c.methodDefs[rid-1]
			params := make([]metadata.TypeRef, len(m.Params))
			for i, p := range m.Params {
				params[i] = p.Type
			}
			return metadata.MethodRef{
				Kind: metadata.RefKindDef, Def: m,
				DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: m.DeclaringType},
				Name:          m.Name, ReturnType: m.ReturnType, Params: params,
			}
		}
	case tagMemberRef:
		if int(rid) >= 1 && int(rid) <= len(c.memberRefs) && !c.memberRefs[rid-1].isField {
			return c.memberRefs[rid-1].method
		}
	case tagMethodSpec:
		return c.resolveMethodSpec(rid)
	}
	return metadata.MethodRef{Kind: metadata.RefKindExternal, External: metadata.ExternalRef{FullName: "<unresolved method>"}}
}

// resolveMethodSpec does not decode a MethodSpec row: for a row number
// in range it returns an external MethodRef placeholder named
// "<generic method instantiation>", with no base method or generic
// arguments, and an empty external reference otherwise.
func (c *loadCtx) resolveMethodSpec(rid uint32) metadata.MethodRef {
	if rid == 0 || rid > c.r.tables.rows(0x2B) {
		return metadata.MethodRef{Kind: metadata.RefKindExternal}
	}
	// MethodSpec isn't in the curated tableIndex list (patch targets
	// are never generic method instantiations themselves), so only its
	// row count is consulted, by table number.
	return metadata.MethodRef{Kind: metadata.RefKindExternal, External: metadata.ExternalRef{FullName: "<generic method instantiation>"}}
}

// resolveMethodDefOrRefCoded resolves the 1-bit-tagged MethodDefOrRef
// coded index (tag 0 = MethodDef, 1 = MemberRef). Nothing in the loader
// calls it: CustomAttribute's Type column is the 3-bit
// CustomAttributeType index, resolved by resolveMethodDefOrRefCoded3.
func (c *loadCtx) resolveMethodDefOrRefCoded(coded uint32) metadata.MethodRef {
	tag := coded & 0x1
	rid := coded >> 1
	if tag == 0 {
		return c.resolveMethodToken(tagMethodDef<<24 | rid)
	}
	return c.resolveMethodToken(tagMemberRef<<24 | rid)
}

// resolveCallSiteToken resolves a StandAloneSig token (calli's
// operand) into a CallSite descriptor.
func (c *loadCtx) resolveCallSiteToken(token uint32) metadata.CallSite {
	rid := tokenRID(token)
	if tokenTag(token) != tagStandAloneSig || rid == 0 || rid > c.r.tables.rows(tblStandAloneSig) {
		return metadata.CallSite{}
	}
	row := c.r.tables.row(c.r, tblStandAloneSig, rid-1)
	blobIdx := row.idx(c.r.tables.blobIndexSize)
	blob, err := c.r.blobAt(blobIdx)
	if err != nil {
		return metadata.CallSite{}
	}
	ret, params := c.decodeMethodSignature(blob)
	return metadata.CallSite{CallingConvention: blob[0], ReturnType: ret, ParamTypes: params}
}

// resolveStringToken resolves a #US heap token (ldstr's operand).
func (c *loadCtx) resolveStringToken(token uint32) (string, error) {
	return c.r.userStringAt(tokenRID(token))
}

// resolveLocalVarSig decodes a StandAloneSig's LOCAL_SIG blob (ECMA-335
// §II.23.2.6) into a method body's local variable list.
func (c *loadCtx) resolveLocalVarSig(sigToken uint32) []metadata.Local {
	rid := tokenRID(sigToken)
	if rid == 0 || rid > c.r.tables.rows(tblStandAloneSig) {
		return nil
	}
	row := c.r.tables.row(c.r, tblStandAloneSig, rid-1)
	blobIdx := row.idx(c.r.tables.blobIndexSize)
	blob, err := c.r.blobAt(blobIdx)
	if err != nil {
		return nil
	}
	s := &sigReader{buf: blob}
	s.byte() // LOCAL_SIG calling convention, 0x07
	count := s.compressedUint()
	locals := make([]metadata.Local, 0, count)
	for i := uint32(0); i < count; i++ {
		pinned := false
		for !s.done() && s.buf[s.pos] == elemPinned {
			s.byte()
			pinned = true
		}
		locals = append(locals, metadata.Local{Type: c.decodeType(s), Pinned: pinned})
	}
	return locals
}
