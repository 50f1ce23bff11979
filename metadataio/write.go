package metadataio

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/cilplug/patcher/metadata"
)

// writer patches a target assembly's method bodies in place, using
// the same Reader and table layout Load decoded it with.
type writer struct {
	r    *Reader
	path string
}

// saveIndex rebuilds the RID lookup tables Save needs to turn an
// in-memory operand back into a token, without re-creating the
// in-memory graph Load already built: definitions (Type/Method/Field/
// Property) are indexed straight from module.Types via the Token
// field Load stamped on them, and external references (TypeRef,
// MemberRef) are freshly decoded from the file since the patched
// graph carries no RID for those.
type saveIndex struct {
	loadCtx
}

func (w *writer) writeModule(module *metadata.Module) error {
	idx := &saveIndex{loadCtx{r: w.r}}
	idx.indexDefinitions(module)
	idx.loadAssemblyRefs()
	idx.loadTypeRefs()
	if err := idx.loadMemberRefs(); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, t := range module.Types {
		for _, m := range t.Methods {
			if m.Body == nil || m.Token == 0 {
				continue
			}
			if err := idx.writeMethodBody(f, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexDefinitions places every Type/Method/Field/Property already in
// module (identified by the Token Load assigned it) into RID-indexed
// slices sized to the original table row counts, so resolveTypeToken
// et al. resolve against the *current*, possibly-patched graph rather
// than re-reading stale bytes off disk.
func (idx *saveIndex) indexDefinitions(module *metadata.Module) {
	r := idx.r
	idx.typeDefs = make([]*metadata.Type, r.tables.rows(tblTypeDef))
	idx.methodDefs = make([]*metadata.Method, r.tables.rows(tblMethodDef))
	idx.fields = make([]*metadata.Field, r.tables.rows(tblField))
	idx.properties = make([]*metadata.Property, r.tables.rows(tblProperty))

	var walk func(t *metadata.Type)
	walk = func(t *metadata.Type) {
		if rid := tokenRID(t.Token); t.Token != 0 && int(rid) <= len(idx.typeDefs) {
			idx.typeDefs[rid-1] = t
		}
		for _, m := range t.Methods {
			if rid := tokenRID(m.Token); m.Token != 0 && int(rid) <= len(idx.methodDefs) {
				idx.methodDefs[rid-1] = m
			}
		}
		for _, f := range t.Fields {
			if rid := tokenRID(f.Token); f.Token != 0 && int(rid) <= len(idx.fields) {
				idx.fields[rid-1] = f
			}
		}
		for _, p := range t.Properties {
			if rid := tokenRID(p.Token); p.Token != 0 && int(rid) <= len(idx.properties) {
				idx.properties[rid-1] = p
			}
		}
		for _, nested := range t.NestedTypes {
			walk(nested)
		}
	}
	for _, t := range module.Types {
		walk(t)
	}
}

// writeMethodBody re-encodes m's body and overwrites it at its
// original RVA, provided the new encoding fits in the space the
// original tiny/fat header plus code already occupied there; growth
// past that (a longer plug body than the member it replaced, or an
// operand that needed a metadata row this writer cannot insert)
// reports ErrSaveUnsupported rather than corrupting the file.
func (idx *saveIndex) writeMethodBody(f *os.File, m *metadata.Method) error {
	offset, err := idx.r.rvaToOffset(m.RVA)
	if err != nil {
		return err
	}
	origHead, err := idx.r.readUint8(offset)
	if err != nil {
		return err
	}
	var origHeaderLen, origCodeSize uint32
	if origHead&0x3 == 0x2 {
		origHeaderLen, origCodeSize = 1, uint32(origHead>>2)
	} else {
		flagsAndSize, _ := idx.r.readUint16(offset)
		origHeaderLen = uint32(flagsAndSize>>12) * 4
		origCodeSize, _ = idx.r.readUint32(offset + 4)
	}

	encoded, err := idx.encodeBody(m.Body)
	if err != nil {
		return err
	}
	if len(encoded.header)+len(encoded.code) > int(origHeaderLen+origCodeSize) {
		return ErrSaveUnsupported
	}

	if _, err := f.WriteAt(encoded.header, int64(offset)); err != nil {
		return err
	}
	if _, err := f.WriteAt(encoded.code, int64(offset)+int64(len(encoded.header))); err != nil {
		return err
	}
	return nil
}

type encodedBody struct {
	header []byte
	code   []byte
}

// encodeBody lays out body's instructions once to fix every
// instruction's offset, then emits the header and code bytes, per
// ECMA-335 §II.25.4. A body with any locals or exception regions is
// rejected with ErrSaveUnsupported: this writer allocates no
// StandAloneSig for a local signature and emits no exception-clause
// section (see DESIGN.md). Otherwise it uses a tiny header when the
// code is under 64 bytes and MaxStack is at most 8, and a fat header
// (with LocalVarSigTok 0) in every other case.
func (idx *saveIndex) encodeBody(body *metadata.Body) (encodedBody, error) {
	lengths := make([]int, len(body.Instructions))
	offsets := make([]uint32, len(body.Instructions))
	var pos uint32
	for i, instr := range body.Instructions {
		n, err := idx.instructionLength(instr)
		if err != nil {
			return encodedBody{}, err
		}
		lengths[i] = n
		offsets[i] = pos
		pos += uint32(n)
	}
	indexOf := make(map[*metadata.Instruction]int, len(body.Instructions))
	for i, instr := range body.Instructions {
		indexOf[instr] = i
	}

	code := make([]byte, 0, pos)
	for i, instr := range body.Instructions {
		encoded, err := idx.encodeInstruction(instr, offsets[i]+uint32(lengths[i]), offsets, indexOf)
		if err != nil {
			return encodedBody{}, err
		}
		code = append(code, encoded...)
	}

	if len(body.ExceptionRegions) > 0 || len(body.Locals) > 0 {
		return encodedBody{}, ErrSaveUnsupported
	}

	if len(code) < 64 && body.MaxStack <= 8 {
		return encodedBody{header: []byte{byte(len(code)<<2) | 0x2}, code: code}, nil
	}

	header := make([]byte, 12)
	flags := uint16(0x3003) // fat format (0x3) in the low bits, header size 3 dwords in the high nibble
	if body.InitLocals {
		flags |= 0x10
	}
	binary.LittleEndian.PutUint16(header[0:], flags)
	binary.LittleEndian.PutUint16(header[2:], body.MaxStack)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(code)))
	binary.LittleEndian.PutUint32(header[8:], 0) // LocalVarSigTok: no new locals supported
	return encodedBody{header: header, code: code}, nil
}

func (idx *saveIndex) instructionLength(instr *metadata.Instruction) (int, error) {
	if instr.OpCode == metadata.OpOther {
		return len(instr.Operand.Raw), nil
	}
	opBytes, ok := reverseOpcodeBytes[instr.OpCode]
	if !ok {
		return 0, ErrSaveUnsupported
	}
	n := len(opBytes)
	switch instr.OpCode.ExpectedOperand() {
	case metadata.OperandImm8, metadata.OperandLocal, metadata.OperandParam:
		if instr.OpCode == metadata.OpLdarg || instr.OpCode == metadata.OpStarg ||
			instr.OpCode == metadata.OpLdloc || instr.OpCode == metadata.OpStloc {
			n += 2
		} else {
			n += 1
		}
	case metadata.OperandImm32, metadata.OperandType, metadata.OperandField,
		metadata.OperandMethod, metadata.OperandCallSite:
		n += 4
	case metadata.OperandImm64:
		n += 8
	case metadata.OperandFloat:
		if instr.OpCode == metadata.OpLdcR4 {
			n += 4
		} else {
			n += 8
		}
	case metadata.OperandString:
		n += 4
	case metadata.OperandBranchTarget:
		if isShortBranch(instr.OpCode) {
			n += 1
		} else {
			n += 4
		}
	case metadata.OperandSwitchTable:
		n += 4 + 4*len(instr.Operand.SwitchTargets)
	}
	return n, nil
}

func isShortBranch(op metadata.OpCode) bool {
	switch op {
	case metadata.OpBrS, metadata.OpBrtrueS, metadata.OpBrfalseS, metadata.OpBeqS, metadata.OpBneUnS, metadata.OpLeaveS:
		return true
	}
	return false
}

func (idx *saveIndex) encodeInstruction(instr *metadata.Instruction, nextOffset uint32, offsets []uint32, indexOf map[*metadata.Instruction]int) ([]byte, error) {
	if instr.OpCode == metadata.OpOther {
		return instr.Operand.Raw, nil
	}
	opBytes, ok := reverseOpcodeBytes[instr.OpCode]
	if !ok {
		return nil, ErrSaveUnsupported
	}
	out := append([]byte(nil), opBytes...)

	switch instr.Operand.Kind {
	case metadata.OperandImm8:
		out = append(out, byte(instr.Operand.Imm))
	case metadata.OperandLocal:
		out = appendUint(out, uint64(instr.Operand.LocalIndex), widthFor(instr.OpCode))
	case metadata.OperandParam:
		out = appendUint(out, uint64(instr.Operand.ParamIndex), widthFor(instr.OpCode))
	case metadata.OperandImm32:
		out = appendUint(out, uint64(uint32(instr.Operand.Imm)), 4)
	case metadata.OperandImm64:
		out = appendUint(out, uint64(instr.Operand.Imm), 8)
	case metadata.OperandFloat:
		if instr.OpCode == metadata.OpLdcR4 {
			out = appendUint(out, uint64(math.Float32bits(float32(instr.Operand.Float))), 4)
		} else {
			out = appendUint(out, math.Float64bits(instr.Operand.Float), 8)
		}
	case metadata.OperandString, metadata.OperandType, metadata.OperandField,
		metadata.OperandMethod, metadata.OperandCallSite:
		token, ok := idx.resolveOperandToken(instr.Operand)
		if !ok {
			return nil, ErrSaveUnsupported
		}
		out = appendUint(out, uint64(token), 4)
	case metadata.OperandBranchTarget:
		target := indexOf[instr.Operand.BranchTarget]
		delta := int64(offsets[target]) - int64(nextOffset)
		if isShortBranch(instr.OpCode) {
			if delta < -128 || delta > 127 {
				return nil, ErrSaveUnsupported
			}
			out = append(out, byte(int8(delta)))
		} else {
			out = appendUint(out, uint64(uint32(int32(delta))), 4)
		}
	case metadata.OperandSwitchTable:
		out = appendUint(out, uint64(len(instr.Operand.SwitchTargets)), 4)
		switchEnd := nextOffset
		for _, target := range instr.Operand.SwitchTargets {
			delta := int64(offsets[indexOf[target]]) - int64(switchEnd)
			out = appendUint(out, uint64(uint32(int32(delta))), 4)
		}
	}
	return out, nil
}

func widthFor(op metadata.OpCode) int {
	switch op {
	case metadata.OpLdarg, metadata.OpStarg, metadata.OpLdloc, metadata.OpStloc:
		return 2
	}
	return 1
}

func appendUint(buf []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// resolveOperandToken turns a cloned operand's resolved reference back
// into a metadata token valid in the target file: a Def-kind reference
// reuses the Token Load stamped on the definition it points at; an
// External reference is matched by name against the target's own
// TypeRef/MemberRef tables (already-imported references only — this
// writer cannot add new rows).
func (idx *saveIndex) resolveOperandToken(op metadata.Operand) (uint32, bool) {
	switch op.Kind {
	case metadata.OperandType:
		return idx.tokenForType(op.Type)
	case metadata.OperandField:
		return idx.tokenForField(op.Field)
	case metadata.OperandMethod:
		return idx.tokenForMethod(op.Method)
	case metadata.OperandString:
		return idx.tokenForString(op.Str)
	}
	return 0, false
}

func (idx *saveIndex) tokenForType(t metadata.TypeRef) (uint32, bool) {
	if t.Kind == metadata.TypeRefDef && t.Def != nil && t.Def.Token != 0 {
		return t.Def.Token, true
	}
	for i, ref := range idx.typeRefs {
		if ref.Kind == metadata.TypeRefExternal && t.Kind == metadata.TypeRefExternal &&
			ref.External.FullName == t.External.FullName && ref.External.AssemblyName == t.External.AssemblyName {
			return tagTypeRef<<24 | uint32(i+1), true
		}
	}
	return 0, false
}

func (idx *saveIndex) tokenForField(fr metadata.FieldRef) (uint32, bool) {
	if fr.Kind == metadata.RefKindDef && fr.Def != nil && fr.Def.Token != 0 {
		return fr.Def.Token, true
	}
	for i, m := range idx.memberRefs {
		if m.isField && m.field.Name == fr.Name && m.field.DeclaringType.FullName() == fr.DeclaringType.FullName() {
			return tagMemberRef<<24 | uint32(i+1), true
		}
	}
	return 0, false
}

func (idx *saveIndex) tokenForMethod(mr metadata.MethodRef) (uint32, bool) {
	if mr.Kind == metadata.RefKindDef && mr.Def != nil && mr.Def.Token != 0 {
		return mr.Def.Token, true
	}
	for i, m := range idx.memberRefs {
		if !m.isField && m.method.Name == mr.Name && m.method.DeclaringType.FullName() == mr.DeclaringType.FullName() {
			return tagMemberRef<<24 | uint32(i+1), true
		}
	}
	return 0, false
}

func (idx *saveIndex) tokenForString(s string) (uint32, bool) {
	h, ok := idx.r.stream("#US")
	if !ok {
		return 0, false
	}
	offset := uint32(1) // index 0 is reserved
	for offset < h.Size {
		existing, err := idx.r.userStringAt(offset)
		blob, berr := idx.r.blobAtOffset(h.Offset + offset)
		if berr != nil {
			break
		}
		if err == nil && existing == s {
			return tagString<<24 | offset, true
		}
		step := uint32(len(blob))
		headerLen := uint32(1)
		if step >= 128 {
			headerLen = 2
		}
		offset += headerLen + step
	}
	return 0, false
}

// reverseOpcodeBytes maps a curated metadata.OpCode back to its raw
// CIL encoding (opcode bytes only), built once from the same tables
// decodeInstructionStream reads forward.
var reverseOpcodeBytes = buildReverseOpcodeTable()

func buildReverseOpcodeTable() map[metadata.OpCode][]byte {
	out := make(map[metadata.OpCode][]byte)
	for b, info := range singleByteOps {
		if info.op == metadata.OpOther {
			continue
		}
		out[info.op] = []byte{b}
	}
	for b, info := range twoByteOps {
		if info.op == metadata.OpOther {
			continue
		}
		out[info.op] = []byte{0xFE, b}
	}
	return out
}
