package metadataio

import "github.com/cilplug/patcher/metadata"

// loadCustomAttributes decodes the CustomAttribute table and attaches
// each row to the Type, Method, Field, or Property its HasCustomAttribute
// coded index names, per ECMA-335 §II.22.10. Parent kinds this engine
// never inspects (TypeRef, Param, Assembly, AssemblyRef, InterfaceImpl,
// Module, MemberRef, Event, StandAloneSig, ModuleRef, TypeSpec) are
// decoded but discarded; the plug-type, plug-member and platform
// attributes the patcher reads land on a Type, Method, Field or Property.
func (c *loadCtx) loadCustomAttributes() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblCustomAttribute)
	hasCustomAttrWidth := ts.codedIndexSize(5,
		tblMethodDef, tblField, tblTypeRef, tblTypeDef, tblParam, tblInterfaceImpl, tblMemberRef,
		tblModule, tblProperty, tblEvent, tblStandAloneSig, tblModuleRef, tblTypeSpec, tblAssembly, tblAssemblyRef)
	customAttrTypeWidth := ts.codedIndexSize(3, tblModule, tblModule, tblMethodDef, tblMemberRef, tblModule)

	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblCustomAttribute, i)
		parent := row.idx(hasCustomAttrWidth)
		ctorRef := row.idx(customAttrTypeWidth)
		valIdx := row.idx(ts.blobIndexSize)

		ctor := c.resolveMethodDefOrRefCoded3(ctorRef)
		blob, err := r.blobAt(valIdx)
		var attr metadata.CustomAttribute
		attr.Constructor = ctor
		if err == nil {
			args, named, _ := decodeCustomAttributeValue(ctor.Params, blob)
			attr.CtorArgs = args
			attr.NamedArgs = named
		}

		c.attachCustomAttribute(parent, attr)
	}
	return nil
}

// resolveMethodDefOrRefCoded3 resolves the 3-bit-tagged
// CustomAttributeType coded index (tag 2 = MethodDef, tag 3 =
// MemberRef; the other tag values are reserved and never appear in a
// well-formed assembly).
func (c *loadCtx) resolveMethodDefOrRefCoded3(coded uint32) metadata.MethodRef {
	tag := coded & 0x7
	rid := coded >> 3
	switch tag {
	case 2:
		return c.resolveMethodToken(tagMethodDef<<24 | rid)
	case 3:
		return c.resolveMethodToken(tagMemberRef<<24 | rid)
	}
	return metadata.MethodRef{Kind: metadata.RefKindExternal}
}

// attachCustomAttribute dispatches on the HasCustomAttribute coded
// index's tag (ECMA-335 §II.24.2.6's table order) to append attr to
// the right owner's CustomAttributes slice.
func (c *loadCtx) attachCustomAttribute(coded uint32, attr metadata.CustomAttribute) {
	tag := coded & 0x1F
	rid := coded >> 5
	switch tag {
	case 0: // MethodDef
		if rid >= 1 && int(rid) <= len(c.methodDefs) {
			m := c.methodDefs[rid-1]
			m.CustomAttributes = append(m.CustomAttributes, attr)
		}
	case 1: // Field
		if rid >= 1 && int(rid) <= len(c.fields) {
			f := c.fields[rid-1]
			f.CustomAttributes = append(f.CustomAttributes, attr)
		}
	case 3: // TypeDef
		if rid >= 1 && int(rid) <= len(c.typeDefs) {
			t := c.typeDefs[rid-1]
			t.CustomAttributes = append(t.CustomAttributes, attr)
		}
	case 9: // Property
		if rid >= 1 && int(rid) <= len(c.properties) {
			p := c.properties[rid-1]
			p.CustomAttributes = append(p.CustomAttributes, attr)
		}
	// TypeRef(2), Param(4), InterfaceImpl(5), MemberRef(6), Module(7),
	// Event(10), StandAloneSig(11), ModuleRef(12), TypeSpec(13),
	// Assembly(14), AssemblyRef(15): not modeled as CustomAttributes
	// holders in this graph, or never targeted by the attributes the
	// orchestrator reads.
	default:
	}
}
