// Load/Save turn a Reader's decoded tables into the metadata.Module
// graph the rest of the engine operates on, and write a patched graph
// back out as an EXE/DLL the CLR can load, completing the package doc
// comment's "reads ... into a metadata.Module graph, and writes a
// patched graph back out".
package metadataio

import (
	"github.com/cilplug/patcher/metadata"
	"github.com/go-kratos/kratos/v2/log"
)

// Load opens path, decodes its CLR metadata, and returns the populated
// module graph. Its logger parameter keeps it from matching
// plugscan.Loader directly; cmd/patcher wraps it in a closure.
func Load(path string, logger *log.Helper) (*metadata.Module, error) {
	r, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := r.parseHeaders(); err != nil {
		return nil, err
	}
	if err := r.parseMetadataRoot(); err != nil {
		return nil, err
	}
	if err := r.parseTableStream(); err != nil {
		return nil, err
	}

	c := &loadCtx{r: r, module: &metadata.Module{}}
	if err := c.loadModule(); err != nil {
		return nil, err
	}
	return c.module, nil
}

func (c *loadCtx) loadModule() error {
	r := c.r
	ts := &r.tables

	if ts.rows(tblModule) > 0 {
		row := ts.row(r, tblModule, 0)
		row.u16() // Generation
		nameIdx := row.idx(ts.stringIndexSize)
		name, err := r.stringAt(nameIdx)
		if err == nil {
			c.module.Name = name
		}
	}

	c.loadAssembly()
	c.loadAssemblyRefs()
	c.loadTypeRefs()

	if err := c.loadTypeDefsPass1(); err != nil {
		return err
	}
	if err := c.loadFields(); err != nil {
		return err
	}
	if err := c.loadMethodsPass1(); err != nil {
		return err
	}
	c.assignMemberOwnership()
	if err := c.loadParams(); err != nil {
		return err
	}
	if err := c.loadMemberRefs(); err != nil {
		return err
	}
	if err := c.loadMethodBodies(); err != nil {
		return err
	}
	c.loadTypeDefsPass2() // base type / interfaces, now that typeRefs/typeDefs both exist
	if err := c.loadProperties(); err != nil {
		return err
	}
	if err := c.loadCustomAttributes(); err != nil {
		return err
	}
	if err := c.loadConstants(); err != nil {
		return err
	}
	c.loadNestedClasses()

	c.module.Types = c.typeDefs
	return nil
}

func (c *loadCtx) loadAssembly() {
	r, ts := c.r, &c.r.tables
	if ts.rows(tblAssembly) == 0 {
		return
	}
	row := ts.row(r, tblAssembly, 0)
	row.u32()                    // HashAlgId
	row.u16(); row.u16(); row.u16(); row.u16() // version fields
	row.u32()                    // Flags
	row.idx(ts.blobIndexSize)    // PublicKey
	nameIdx := row.idx(ts.stringIndexSize)
	name, err := r.stringAt(nameIdx)
	if err == nil {
		c.module.Assembly = name
	}
}

func (c *loadCtx) loadAssemblyRefs() {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblAssemblyRef)
	c.assemblyRefNames = make([]string, n+1)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblAssemblyRef, i)
		row.u16(); row.u16(); row.u16(); row.u16()
		row.u32()
		row.idx(ts.blobIndexSize)
		nameIdx := row.idx(ts.stringIndexSize)
		name, _ := r.stringAt(nameIdx)
		c.assemblyRefNames[i+1] = name
		c.module.ExternalRefs = append(c.module.ExternalRefs, &metadata.ExternalModuleRef{AssemblyName: name})
	}
}

func (c *loadCtx) loadTypeRefs() {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblTypeRef)
	c.typeRefs = make([]metadata.TypeRef, n)
	scopeWidth := ts.codedIndexSize(2, tblModule, tblModuleRef, tblAssemblyRef, tblTypeRef)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblTypeRef, i)
		scope := row.idx(scopeWidth)
		nameIdx := row.idx(ts.stringIndexSize)
		nsIdx := row.idx(ts.stringIndexSize)
		name, _ := r.stringAt(nameIdx)
		ns, _ := r.stringAt(nsIdx)

		tag := scope & 0x3
		rid := scope >> 2
		var assembly string
		if tag == 2 && int(rid) < len(c.assemblyRefNames) { // ResolutionScope AssemblyRef
			assembly = c.assemblyRefNames[rid]
		}
		c.typeRefs[i] = metadata.TypeRef{
			Kind: metadata.TypeRefExternal,
			External: metadata.ExternalRef{
				AssemblyName: assembly,
				FullName:     metadata.FullName(ns, name),
			},
		}
	}
}

// loadTypeDefsPass1 creates every Type object (so cross-references
// between types can resolve to real pointers) and records each one's
// Field/Method ownership range start.
func (c *loadCtx) loadTypeDefsPass1() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblTypeDef)
	c.typeDefs = make([]*metadata.Type, n)
	c.typeDefFieldStart = make([]uint32, n+1)
	c.typeDefMethodStart = make([]uint32, n+1)
	typeDefOrRefWidth := ts.codedIndexSize(2, tblTypeDef, tblTypeRef, tblTypeSpec)

	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblTypeDef, i)
		flags := row.u32()
		nameIdx := row.idx(ts.stringIndexSize)
		nsIdx := row.idx(ts.stringIndexSize)
		row.idx(typeDefOrRefWidth) // Extends, resolved in pass 2
		fieldStart := row.idx(ts.simpleIndexSize(tblField))
		methodStart := row.idx(ts.simpleIndexSize(tblMethodDef))

		name, _ := r.stringAt(nameIdx)
		ns, _ := r.stringAt(nsIdx)

		var tflags metadata.TypeFlags
		if flags&0x20 != 0 {
			tflags |= metadata.TypeFlagInterface
		}
		if flags&0x100 != 0 {
			tflags |= metadata.TypeFlagSealed
		}
		if containsBacktick(name) {
			tflags |= metadata.TypeFlagGeneric
		}

		c.typeDefs[i] = &metadata.Type{Module: c.module, Namespace: ns, Name: name, Flags: tflags, Token: tagTypeDef<<24 | (i + 1)}
		c.typeDefFieldStart[i] = fieldStart
		c.typeDefMethodStart[i] = methodStart
	}
	c.typeDefFieldStart[n] = ts.rows(tblField) + 1
	c.typeDefMethodStart[n] = ts.rows(tblMethodDef) + 1
	return nil
}

// loadTypeDefsPass2 resolves each TypeDef's Extends coded index into
// BaseType, now that every TypeDef/TypeRef is available as a pointer,
// and marks value types by their base.
func (c *loadCtx) loadTypeDefsPass2() {
	r, ts := c.r, &c.r.tables
	typeDefOrRefWidth := ts.codedIndexSize(2, tblTypeDef, tblTypeRef, tblTypeSpec)
	n := ts.rows(tblTypeDef)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblTypeDef, i)
		row.u32()
		row.idx(ts.stringIndexSize)
		row.idx(ts.stringIndexSize)
		extends := row.idx(typeDefOrRefWidth)
		if extends == 0 {
			continue
		}
		base := c.resolveTypeDefOrRef(extends)
		t := c.typeDefs[i]
		t.BaseType = &base
		baseName := base.FullName()
		if baseName == "System.ValueType" || baseName == "System.Enum" {
			t.Flags |= metadata.TypeFlagValueType
		}
	}
}

func (c *loadCtx) loadFields() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblField)
	c.fields = make([]*metadata.Field, n)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblField, i)
		flags := row.u16()
		nameIdx := row.idx(ts.stringIndexSize)
		sigIdx := row.idx(ts.blobIndexSize)
		name, _ := r.stringAt(nameIdx)
		sig, err := r.blobAt(sigIdx)
		var ft metadata.TypeRef
		if err == nil {
			ft = c.decodeFieldSignature(sig)
		}

		var attrs metadata.FieldAttributes
		if flags&0x10 != 0 {
			attrs |= metadata.FieldAttrStatic
		}
		if flags&0x40 != 0 {
			attrs |= metadata.FieldAttrLiteral
		}
		if flags&0x20 != 0 {
			attrs |= metadata.FieldAttrInitOnly
		}
		switch flags & 0x7 {
		case 0x6:
			attrs |= metadata.FieldAttrPublic
		case 0x1:
			attrs |= metadata.FieldAttrPrivate
		}
		c.fields[i] = &metadata.Field{Name: name, Type: ft, Attributes: attrs, Token: tagField<<24 | (i + 1)}
	}
	return nil
}

func (c *loadCtx) loadMethodsPass1() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblMethodDef)
	c.methodDefs = make([]*metadata.Method, n)
	c.methodDefRVA = make([]uint32, n)
	c.methodDefParamStart = make([]uint32, n+1)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblMethodDef, i)
		rva := row.u32()
		implFlags := row.u16()
		flags := row.u16()
		nameIdx := row.idx(ts.stringIndexSize)
		sigIdx := row.idx(ts.blobIndexSize)
		paramStart := row.idx(ts.simpleIndexSize(tblParam))

		name, _ := r.stringAt(nameIdx)
		sig, err := r.blobAt(sigIdx)
		var ret metadata.TypeRef
		var paramTypes []metadata.TypeRef
		if err == nil {
			ret, paramTypes = c.decodeMethodSignature(sig)
		}

		var attrs metadata.MethodAttributes
		if flags&0x10 != 0 {
			attrs |= metadata.MethodAttrStatic
		}
		if flags&0x40 != 0 {
			attrs |= metadata.MethodAttrVirtual
		}
		if flags&0x0400 != 0 {
			attrs |= metadata.MethodAttrAbstract
		}
		if flags&0x0800 != 0 {
			attrs |= metadata.MethodAttrSpecialName
		}
		if flags&0x1000 != 0 {
			attrs |= metadata.MethodAttrRTSpecialName
		}
		if flags&0x2000 != 0 {
			attrs |= metadata.MethodAttrPInvokeImpl
		}
		switch flags & 0x7 {
		case 0x6:
			attrs |= metadata.MethodAttrPublic
		case 0x1:
			attrs |= metadata.MethodAttrPrivate
		}

		var implAttrs metadata.MethodImplAttributes
		switch implFlags & 0x3 {
		case 1:
			implAttrs |= metadata.ImplNative
		case 3:
			implAttrs |= metadata.ImplRuntime
		}
		if implFlags&0x0080 != 0 {
			implAttrs |= metadata.ImplPreserveSig
		}
		if implFlags&0x1000 != 0 {
			implAttrs |= metadata.ImplInternalCall
		}
		if implFlags&0x0004 != 0 {
			implAttrs |= metadata.ImplUnmanaged
		}

		params := make([]metadata.Param, len(paramTypes))
		for pi, pt := range paramTypes {
			params[pi] = metadata.Param{Index: pi, Type: pt}
		}

		c.methodDefs[i] = &metadata.Method{
			Name: name, Attributes: attrs, ImplAttrs: implAttrs,
			ReturnType: ret, Params: params,
			Token: tagMethodDef<<24 | (i + 1), RVA: rva,
		}
		c.methodDefRVA[i] = rva
		c.methodDefParamStart[i] = paramStart
	}
	c.methodDefParamStart[n] = ts.rows(tblParam) + 1
	return nil
}

// assignMemberOwnership wires each Field/Method into its owning
// Type's Fields/Methods slice, and sets DeclaringType, from the
// ranges recorded while decoding TypeDef.
func (c *loadCtx) assignMemberOwnership() {
	for i, t := range c.typeDefs {
		fStart, fEnd := c.typeDefFieldStart[i], c.typeDefFieldStart[i+1]
		for rid := fStart; rid < fEnd; rid++ {
			if rid == 0 || int(rid) > len(c.fields) {
				continue
			}
			f := c.fields[rid-1]
			f.DeclaringType = t
			t.Fields = append(t.Fields, f)
		}
		mStart, mEnd := c.typeDefMethodStart[i], c.typeDefMethodStart[i+1]
		for rid := mStart; rid < mEnd; rid++ {
			if rid == 0 || int(rid) > len(c.methodDefs) {
				continue
			}
			m := c.methodDefs[rid-1]
			m.DeclaringType = t
			t.Methods = append(t.Methods, m)
		}
	}
}

func (c *loadCtx) loadParams() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblParam)
	rows := make([]struct {
		flags uint16
		seq   uint16
		name  string
	}, n+1)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblParam, i)
		flags := row.u16()
		seq := row.u16()
		nameIdx := row.idx(ts.stringIndexSize)
		name, _ := r.stringAt(nameIdx)
		rows[i+1] = struct {
			flags uint16
			seq   uint16
			name  string
		}{flags, seq, name}
	}

	for mi, m := range c.methodDefs {
		start, end := c.methodDefParamStart[mi], c.methodDefParamStart[mi+1]
		for rid := start; rid < end; rid++ {
			if rid == 0 || int(rid) >= len(rows)+1 || rid > n {
				continue
			}
			pr := rows[rid]
			if pr.seq == 0 {
				continue // return-type pseudo-param
			}
			idx := int(pr.seq) - 1
			if idx < 0 || idx >= len(m.Params) {
				continue
			}
			m.Params[idx].Name = pr.name
			var attrs metadata.ParamAttributes
			if pr.flags&0x1 != 0 {
				attrs |= metadata.ParamAttrIn
			}
			if pr.flags&0x2 != 0 {
				attrs |= metadata.ParamAttrOut
			}
			if pr.flags&0x10 != 0 {
				attrs |= metadata.ParamAttrOptional
			}
			m.Params[idx].Attributes = attrs
		}
	}
	return nil
}

func (c *loadCtx) loadMemberRefs() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblMemberRef)
	c.memberRefs = make([]memberRefEntry, n)
	parentWidth := ts.codedIndexSize(3, tblTypeDef, tblTypeRef, tblModuleRef, tblMethodDef, tblTypeSpec)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblMemberRef, i)
		parent := row.idx(parentWidth)
		nameIdx := row.idx(ts.stringIndexSize)
		sigIdx := row.idx(ts.blobIndexSize)
		name, _ := r.stringAt(nameIdx)
		sig, err := r.blobAt(sigIdx)
		if err != nil || len(sig) == 0 {
			continue
		}

		declType := c.resolveMemberRefParent(parent)
		if sig[0] == 0x06 { // FIELD calling convention
			ft := c.decodeFieldSignature(sig)
			c.memberRefs[i] = memberRefEntry{isField: true, field: metadata.FieldRef{
				Kind: metadata.RefKindExternal, DeclaringType: declType, Name: name, FieldType: ft,
			}}
		} else {
			ret, params := c.decodeMethodSignature(sig)
			c.memberRefs[i] = memberRefEntry{method: metadata.MethodRef{
				Kind: metadata.RefKindExternal, DeclaringType: declType, Name: name, ReturnType: ret, Params: params,
			}}
		}
	}
	return nil
}

// resolveMemberRefParent resolves a MemberRefParent coded index
// (tag bits: 0=TypeDef, 1=TypeRef, 2=ModuleRef, 3=MethodDef,
// 4=TypeSpec) to the declaring type a MemberRef's Name is read
// against.
func (c *loadCtx) resolveMemberRefParent(coded uint32) metadata.TypeRef {
	tag := coded & 0x7
	rid := coded >> 3
	switch tag {
	case 0:
		if int(rid) >= 1 && int(rid) <= len(c.typeDefs) {
			return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: c.typeDefs[rid-1]}
		}
	case 1:
		if int(rid) >= 1 && int(rid) <= len(c.typeRefs) {
			return c.typeRefs[rid-1]
		}
	case 4:
		return c.resolveTypeSpec(rid)
	}
	return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: "<unresolved>"}}
}

func (c *loadCtx) loadMethodBodies() error {
	for i, m := range c.methodDefs {
		rva := c.methodDefRVA[i]
		if rva == 0 || m.HasPInvoke() {
			continue
		}
		offset, err := c.r.rvaToOffset(rva)
		if err != nil {
			continue
		}
		body, err := c.decodeBody(offset)
		if err != nil {
			continue
		}
		m.Body = body
	}
	return nil
}

func (c *loadCtx) loadProperties() error {
	r, ts := c.r, &c.r.tables
	nMaps := ts.rows(tblPropertyMap)
	nProps := ts.rows(tblProperty)
	c.properties = make([]*metadata.Property, nProps)

	for i := uint32(0); i < nProps; i++ {
		row := ts.row(r, tblProperty, i)
		row.u16() // Flags
		nameIdx := row.idx(ts.stringIndexSize)
		sigIdx := row.idx(ts.blobIndexSize)
		name, _ := r.stringAt(nameIdx)
		sig, err := r.blobAt(sigIdx)
		var pt metadata.TypeRef
		if err == nil && len(sig) > 1 {
			pt = c.decodeType(&sigReader{buf: sig[1:]}) // skip PROPERTY calling-convention byte
		}
		c.properties[i] = &metadata.Property{Name: name, Type: pt, Token: tagProperty<<24 | (i + 1)}
	}

	typeDefWidth := ts.simpleIndexSize(tblTypeDef)
	propWidth := ts.simpleIndexSize(tblProperty)
	mapStarts := make([]uint32, nMaps)
	mapOwners := make([]uint32, nMaps)
	for i := uint32(0); i < nMaps; i++ {
		row := ts.row(r, tblPropertyMap, i)
		owner := row.idx(typeDefWidth)
		start := row.idx(propWidth)
		mapOwners[i] = owner
		mapStarts[i] = start
	}
	for i := uint32(0); i < nMaps; i++ {
		start := mapStarts[i]
		var end uint32
		if i+1 < nMaps {
			end = mapStarts[i+1]
		} else {
			end = nProps + 1
		}
		ownerRID := mapOwners[i]
		if ownerRID == 0 || int(ownerRID) > len(c.typeDefs) {
			continue
		}
		t := c.typeDefs[ownerRID-1]
		for rid := start; rid < end; rid++ {
			if rid == 0 || int(rid) > len(c.properties) {
				continue
			}
			p := c.properties[rid-1]
			p.DeclaringType = t
			t.Properties = append(t.Properties, p)
		}
	}

	nSem := ts.rows(tblMethodSemantics)
	methodWidth := ts.simpleIndexSize(tblMethodDef)
	hasSemWidth := ts.codedIndexSize(1, tblEvent, tblProperty)
	for i := uint32(0); i < nSem; i++ {
		row := ts.row(r, tblMethodSemantics, i)
		semantics := row.u16()
		methodRID := row.idx(methodWidth)
		assoc := row.idx(hasSemWidth)
		if assoc&0x1 != 1 { // 1 == Property per HasSemantics tag bit
			continue
		}
		propRID := assoc >> 1
		if propRID == 0 || int(propRID) > len(c.properties) {
			continue
		}
		if methodRID == 0 || int(methodRID) > len(c.methodDefs) {
			continue
		}
		p := c.properties[propRID-1]
		m := c.methodDefs[methodRID-1]
		switch {
		case semantics&0x2 != 0: // Getter
			p.Getter = m
		case semantics&0x1 != 0: // Setter
			p.Setter = m
		}
	}
	return nil
}

func (c *loadCtx) loadConstants() error {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblConstant)
	hasConstWidth := ts.codedIndexSize(2, tblField, tblParam, tblProperty)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblConstant, i)
		typeByte := byte(row.u16()) // Type(1)+Padding(1)
		parent := row.idx(hasConstWidth)
		valIdx := row.idx(ts.blobIndexSize)
		blob, err := r.blobAt(valIdx)
		if err != nil {
			continue
		}
		value := decodeConstantValue(typeByte, blob)

		tag := parent & 0x3
		rid := parent >> 2
		switch tag {
		case 0: // Field
			if rid == 0 || int(rid) > len(c.fields) {
				continue
			}
			c.fields[rid-1].Constant = &metadata.Constant{Value: value}
		case 2: // Property
			if rid == 0 || int(rid) > len(c.properties) {
				continue
			}
			c.properties[rid-1].Constant = &metadata.Constant{Value: value}
		}
	}
	return nil
}

func decodeConstantValue(typeByte byte, blob []byte) any {
	s := &sigReader{buf: blob}
	switch typeByte {
	case elemBoolean:
		return s.byte() != 0
	case elemChar:
		return rune(uint16(s.byte()) | uint16(s.byte())<<8)
	case elemI1, elemU1:
		return int64(s.byte())
	case elemI2, elemU2:
		return int64(uint16(s.byte()) | uint16(s.byte())<<8)
	case elemI4, elemU4:
		return readFixedI4(s)
	case elemI8, elemU8:
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(s.byte()) << (8 * i)
		}
		return int64(v)
	case elemString:
		decoder := textUTF16LE()
		out, err := decoder.Bytes(blob)
		if err != nil {
			return ""
		}
		return string(out)
	default:
		return blob
	}
}

func (c *loadCtx) loadNestedClasses() {
	r, ts := c.r, &c.r.tables
	n := ts.rows(tblNestedClass)
	width := ts.simpleIndexSize(tblTypeDef)
	for i := uint32(0); i < n; i++ {
		row := ts.row(r, tblNestedClass, i)
		nested := row.idx(width)
		enclosing := row.idx(width)
		if nested == 0 || enclosing == 0 || int(nested) > len(c.typeDefs) || int(enclosing) > len(c.typeDefs) {
			continue
		}
		parent := c.typeDefs[enclosing-1]
		parent.NestedTypes = append(parent.NestedTypes, c.typeDefs[nested-1])
	}
}

func containsBacktick(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] == '`' {
			return true
		}
	}
	return false
}
