package metadataio

import (
	"encoding/binary"
	"math"

	"github.com/cilplug/patcher/metadata"
)

// operandShape classifies how many raw bytes follow an opcode and how
// they should be interpreted structurally (a plain immediate, a
// branch displacement, or a switch table), independent of whether the
// opcode itself is one the Method Body Cloner knows how to rewrite.
type operandShape uint8

const (
	shapeNone operandShape = iota
	shape1
	shape2
	shape4
	shape8
	shapeBranchS
	shapeBranchL
	shapeSwitch
)

// cilOp describes one CIL opcode byte (or 0xFE-prefixed two-byte
// opcode): which metadata.OpCode it maps to (OpOther for anything
// outside the curated rewrite set) and the shape of its operand.
type cilOp struct {
	op    metadata.OpCode
	shape operandShape
}

// singleByteOps is the one-byte opcode space, ECMA-335 Partition III
// Annex A. Opcodes the cloner never rewrites decode as OpOther so the
// byte stream still advances correctly; their raw encoding is kept
// verbatim in Operand.Raw.
var singleByteOps = map[byte]cilOp{
	0x00: {metadata.OpNop, shapeNone}, 0x01: {metadata.OpBreak, shapeNone},
	0x02: {metadata.OpLdarg0, shapeNone}, 0x03: {metadata.OpLdarg1, shapeNone},
	0x04: {metadata.OpLdarg2, shapeNone}, 0x05: {metadata.OpLdarg3, shapeNone},
	0x06: {metadata.OpLdloc0, shapeNone}, 0x07: {metadata.OpLdloc1, shapeNone},
	0x08: {metadata.OpLdloc2, shapeNone}, 0x09: {metadata.OpLdloc3, shapeNone},
	0x0A: {metadata.OpStloc0, shapeNone}, 0x0B: {metadata.OpStloc1, shapeNone},
	0x0C: {metadata.OpStloc2, shapeNone}, 0x0D: {metadata.OpStloc3, shapeNone},
	0x0E: {metadata.OpLdargS, shape1}, 0x0F: {metadata.OpOther, shape1},
	0x10: {metadata.OpStargS, shape1}, 0x11: {metadata.OpLdlocS, shape1},
	0x12: {metadata.OpOther, shape1}, 0x13: {metadata.OpStlocS, shape1},
	0x14: {metadata.OpLdnull, shapeNone},
	0x15: {metadata.OpLdcI4M1, shapeNone}, 0x16: {metadata.OpLdcI40, shapeNone},
	0x17: {metadata.OpLdcI41, shapeNone}, 0x18: {metadata.OpOther, shapeNone},
	0x19: {metadata.OpOther, shapeNone}, 0x1A: {metadata.OpOther, shapeNone},
	0x1B: {metadata.OpOther, shapeNone}, 0x1C: {metadata.OpOther, shapeNone},
	0x1D: {metadata.OpOther, shapeNone}, 0x1E: {metadata.OpOther, shapeNone},
	0x1F: {metadata.OpLdcI4S, shape1}, 0x20: {metadata.OpLdcI4, shape4},
	0x21: {metadata.OpLdcI8, shape8}, 0x22: {metadata.OpLdcR4, shape4},
	0x23: {metadata.OpLdcR8, shape8},
	0x25: {metadata.OpDup, shapeNone}, 0x26: {metadata.OpPop, shapeNone},
	0x27: {metadata.OpOther, shape4}, 0x28: {metadata.OpCall, shape4},
	0x29: {metadata.OpCalli, shape4}, 0x2A: {metadata.OpRet, shapeNone},
	0x2B: {metadata.OpBrS, shapeBranchS}, 0x2C: {metadata.OpBrfalseS, shapeBranchS},
	0x2D: {metadata.OpBrtrueS, shapeBranchS}, 0x2E: {metadata.OpBeqS, shapeBranchS},
	0x2F: {metadata.OpOther, shapeBranchS}, 0x30: {metadata.OpOther, shapeBranchS},
	0x31: {metadata.OpOther, shapeBranchS}, 0x32: {metadata.OpOther, shapeBranchS},
	0x33: {metadata.OpBneUnS, shapeBranchS}, 0x34: {metadata.OpOther, shapeBranchS},
	0x35: {metadata.OpOther, shapeBranchS}, 0x36: {metadata.OpOther, shapeBranchS},
	0x37: {metadata.OpOther, shapeBranchS},
	0x38: {metadata.OpBr, shapeBranchL}, 0x39: {metadata.OpBrfalse, shapeBranchL},
	0x3A: {metadata.OpBrtrue, shapeBranchL}, 0x3B: {metadata.OpBeq, shapeBranchL},
	0x3C: {metadata.OpOther, shapeBranchL}, 0x3D: {metadata.OpOther, shapeBranchL},
	0x3E: {metadata.OpOther, shapeBranchL}, 0x3F: {metadata.OpOther, shapeBranchL},
	0x40: {metadata.OpBneUn, shapeBranchL}, 0x41: {metadata.OpOther, shapeBranchL},
	0x42: {metadata.OpOther, shapeBranchL}, 0x43: {metadata.OpOther, shapeBranchL},
	0x44: {metadata.OpOther, shapeBranchL}, 0x45: {metadata.OpSwitch, shapeSwitch},
	0x46: {metadata.OpOther, shapeNone}, 0x47: {metadata.OpOther, shapeNone},
	0x48: {metadata.OpOther, shapeNone}, 0x49: {metadata.OpOther, shapeNone},
	0x4A: {metadata.OpOther, shapeNone}, 0x4B: {metadata.OpOther, shapeNone},
	0x4C: {metadata.OpOther, shapeNone}, 0x4D: {metadata.OpOther, shapeNone},
	0x4E: {metadata.OpOther, shapeNone}, 0x4F: {metadata.OpOther, shapeNone},
	0x50: {metadata.OpLdindRef, shapeNone}, 0x51: {metadata.OpStindRef, shapeNone},
	0x52: {metadata.OpOther, shapeNone}, 0x53: {metadata.OpOther, shapeNone},
	0x54: {metadata.OpOther, shapeNone}, 0x55: {metadata.OpOther, shapeNone},
	0x56: {metadata.OpOther, shapeNone}, 0x57: {metadata.OpOther, shapeNone},
	0x58: {metadata.OpAdd, shapeNone}, 0x59: {metadata.OpSub, shapeNone},
	0x5A: {metadata.OpMul, shapeNone}, 0x5B: {metadata.OpDiv, shapeNone},
	0x5C: {metadata.OpOther, shapeNone}, 0x5D: {metadata.OpRem, shapeNone},
	0x5E: {metadata.OpOther, shapeNone}, 0x5F: {metadata.OpAnd, shapeNone},
	0x60: {metadata.OpOr, shapeNone}, 0x61: {metadata.OpXor, shapeNone},
	0x62: {metadata.OpShl, shapeNone}, 0x63: {metadata.OpShr, shapeNone},
	0x64: {metadata.OpOther, shapeNone}, 0x65: {metadata.OpNeg, shapeNone},
	0x66: {metadata.OpNot, shapeNone},
	0x67: {metadata.OpOther, shapeNone}, 0x68: {metadata.OpOther, shapeNone},
	0x69: {metadata.OpConvI4, shapeNone}, 0x6A: {metadata.OpConvI8, shapeNone},
	0x6B: {metadata.OpOther, shapeNone}, 0x6C: {metadata.OpOther, shapeNone},
	0x6D: {metadata.OpOther, shapeNone}, 0x6E: {metadata.OpOther, shapeNone},
	0x6F: {metadata.OpCallvirt, shape4}, 0x70: {metadata.OpCpobj, shape4},
	0x71: {metadata.OpLdobj, shape4}, 0x72: {metadata.OpLdstr, shape4},
	0x73: {metadata.OpNewobj, shape4}, 0x74: {metadata.OpCastclass, shape4},
	0x75: {metadata.OpIsinst, shape4}, 0x76: {metadata.OpOther, shapeNone},
	0x79: {metadata.OpOther, shape4}, 0x7A: {metadata.OpThrow, shapeNone},
	0x7B: {metadata.OpLdfld, shape4}, 0x7C: {metadata.OpLdflda, shape4},
	0x7D: {metadata.OpStfld, shape4}, 0x7E: {metadata.OpLdsfld, shape4},
	0x7F: {metadata.OpLdsflda, shape4}, 0x80: {metadata.OpStsfld, shape4},
	0x81: {metadata.OpOther, shape4},
	0x82: {metadata.OpOther, shapeNone}, 0x83: {metadata.OpOther, shapeNone},
	0x84: {metadata.OpOther, shapeNone}, 0x85: {metadata.OpOther, shapeNone},
	0x86: {metadata.OpOther, shapeNone}, 0x87: {metadata.OpOther, shapeNone},
	0x88: {metadata.OpOther, shapeNone}, 0x89: {metadata.OpOther, shapeNone},
	0x8A: {metadata.OpOther, shapeNone}, 0x8B: {metadata.OpOther, shapeNone},
	0x8C: {metadata.OpBox, shape4}, 0x8D: {metadata.OpNewarr, shape4},
	0x8E: {metadata.OpLdlen, shapeNone}, 0x8F: {metadata.OpOther, shape4},
	0x90: {metadata.OpOther, shapeNone}, 0x91: {metadata.OpOther, shapeNone},
	0x92: {metadata.OpOther, shapeNone}, 0x93: {metadata.OpOther, shapeNone},
	0x94: {metadata.OpOther, shapeNone}, 0x95: {metadata.OpOther, shapeNone},
	0x96: {metadata.OpOther, shapeNone}, 0x97: {metadata.OpOther, shapeNone},
	0x98: {metadata.OpOther, shapeNone}, 0x99: {metadata.OpOther, shapeNone},
	0x9A: {metadata.OpLdelemRef, shapeNone},
	0x9B: {metadata.OpOther, shapeNone}, 0x9C: {metadata.OpOther, shapeNone},
	0x9D: {metadata.OpOther, shapeNone}, 0x9E: {metadata.OpOther, shapeNone},
	0x9F: {metadata.OpOther, shapeNone}, 0xA0: {metadata.OpOther, shapeNone},
	0xA1: {metadata.OpOther, shapeNone},
	0xA2: {metadata.OpStelemRef, shapeNone},
	0xA3: {metadata.OpOther, shape4}, 0xA4: {metadata.OpOther, shape4},
	0xA5: {metadata.OpUnboxAny, shape4},
	0xB3: {metadata.OpOther, shapeNone}, 0xB4: {metadata.OpOther, shapeNone},
	0xB5: {metadata.OpOther, shapeNone}, 0xB6: {metadata.OpOther, shapeNone},
	0xB7: {metadata.OpOther, shapeNone}, 0xB8: {metadata.OpOther, shapeNone},
	0xB9: {metadata.OpOther, shapeNone}, 0xBA: {metadata.OpOther, shapeNone},
	0xC2: {metadata.OpOther, shape4}, 0xC3: {metadata.OpOther, shapeNone},
	0xC6: {metadata.OpOther, shape4},
	0xD0: {metadata.OpLdtoken, shape4},
	0xD1: {metadata.OpOther, shapeNone}, 0xD2: {metadata.OpOther, shapeNone},
	0xD3: {metadata.OpOther, shapeNone}, 0xD4: {metadata.OpOther, shapeNone},
	0xD5: {metadata.OpOther, shapeNone}, 0xD6: {metadata.OpOther, shapeNone},
	0xD7: {metadata.OpOther, shapeNone}, 0xD8: {metadata.OpOther, shapeNone},
	0xD9: {metadata.OpOther, shapeNone}, 0xDA: {metadata.OpOther, shapeNone},
	0xDB: {metadata.OpOther, shapeNone},
	0xDC: {metadata.OpEndfinally, shapeNone},
	0xDD: {metadata.OpLeave, shapeBranchL}, 0xDE: {metadata.OpLeaveS, shapeBranchS},
	0xDF: {metadata.OpOther, shapeNone}, 0xE0: {metadata.OpOther, shapeNone},
	0xF8: {metadata.OpOther, shapeNone}, 0xF9: {metadata.OpOther, shapeNone},
	0xFA: {metadata.OpOther, shapeNone}, 0xFB: {metadata.OpOther, shapeNone},
	0xFC: {metadata.OpOther, shapeNone}, 0xFD: {metadata.OpOther, shapeNone},
	0xFF: {metadata.OpOther, shapeNone},
}

// twoByteOps is the 0xFE-prefixed opcode space.
var twoByteOps = map[byte]cilOp{
	0x00: {metadata.OpOther, shapeNone}, 0x01: {metadata.OpOther, shapeNone},
	0x02: {metadata.OpOther, shapeNone}, 0x03: {metadata.OpOther, shapeNone},
	0x04: {metadata.OpOther, shapeNone}, 0x05: {metadata.OpOther, shapeNone},
	0x06: {metadata.OpOther, shape4}, 0x07: {metadata.OpOther, shape4},
	0x09: {metadata.OpLdarg, shape2}, 0x0A: {metadata.OpOther, shape2},
	0x0B: {metadata.OpStarg, shape2}, 0x0C: {metadata.OpLdloc, shape2},
	0x0D: {metadata.OpOther, shape2}, 0x0E: {metadata.OpStloc, shape2},
	0x0F: {metadata.OpOther, shapeNone}, 0x11: {metadata.OpOther, shapeNone},
	0x12: {metadata.OpOther, shape1}, 0x13: {metadata.OpOther, shapeNone},
	0x14: {metadata.OpOther, shapeNone}, 0x15: {metadata.OpInitobj, shape4},
	0x16: {metadata.OpOther, shape4}, 0x17: {metadata.OpOther, shapeNone},
	0x18: {metadata.OpOther, shapeNone}, 0x19: {metadata.OpOther, shape1},
	0x1A: {metadata.OpOther, shapeNone}, 0x1C: {metadata.OpOther, shape4},
	0x1D: {metadata.OpOther, shapeNone}, 0x1E: {metadata.OpOther, shapeNone},
}

// decodeBody decodes the method body at file offset bodyOffset (a
// file offset already resolved from a MethodDef's RVA), per ECMA-335
// §II.25.4: the tiny or fat method header, the instruction stream,
// and (fat format only) the exception handling clauses that follow
// it, plus the local variable signature the fat header's
// LocalVarSigTok names.
func (c *loadCtx) decodeBody(bodyOffset uint32) (*metadata.Body, error) {
	head, err := c.r.readUint8(bodyOffset)
	if err != nil {
		return nil, err
	}

	body := &metadata.Body{MaxStack: 8}
	var codeStart, codeSize uint32
	var moreSects bool

	switch head & 0x3 {
	case 0x2: // CorILMethod_TinyFormat
		codeSize = uint32(head >> 2)
		codeStart = bodyOffset + 1
	case 0x3: // CorILMethod_FatFormat
		flagsAndSize, err := c.r.readUint16(bodyOffset)
		if err != nil {
			return nil, err
		}
		headerWords := flagsAndSize >> 12
		flags := flagsAndSize & 0x0FFF
		body.InitLocals = flags&0x10 != 0
		moreSects = flags&0x08 != 0

		maxStack, err := c.r.readUint16(bodyOffset + 2)
		if err != nil {
			return nil, err
		}
		body.MaxStack = maxStack

		codeSize, err = c.r.readUint32(bodyOffset + 4)
		if err != nil {
			return nil, err
		}
		localSigTok, err := c.r.readUint32(bodyOffset + 8)
		if err != nil {
			return nil, err
		}
		if localSigTok != 0 {
			body.Locals = c.resolveLocalVarSig(localSigTok)
		}
		codeStart = bodyOffset + uint32(headerWords)*4
	default:
		return nil, ErrInvalidTableStream
	}

	instrs, offsetOf, byOffset, err := c.decodeInstructionStream(codeStart, codeSize)
	if err != nil {
		return nil, err
	}
	body.Instructions = instrs

	if moreSects {
		sectOffset := codeStart + codeSize
		sectOffset = (sectOffset + 3) &^ 3
		regions, err := c.decodeExceptionClauses(sectOffset, byOffset, codeSize)
		if err != nil {
			return nil, err
		}
		body.ExceptionRegions = regions
	}
	_ = offsetOf

	return body, nil
}

// decodeInstructionStream decodes codeSize bytes of CIL starting at
// codeStart into Instructions, resolving every operand except branch
// targets and switch tables in the same pass (those need every
// instruction's start offset known first, so they are fixed up
// immediately after with offset information already on hand).
func (c *loadCtx) decodeInstructionStream(codeStart, codeSize uint32) ([]*metadata.Instruction, map[*metadata.Instruction]uint32, map[uint32]*metadata.Instruction, error) {
	raw, err := c.r.readAt(codeStart, codeSize)
	if err != nil {
		return nil, nil, nil, err
	}

	type pending struct {
		instr      *metadata.Instruction
		branchS    bool
		branchL    bool
		switchRaw  []int32
		nextOffset uint32 // offset immediately after this instruction, branch displacements are relative to this
	}

	var instrs []*metadata.Instruction
	offsetOf := make(map[*metadata.Instruction]uint32)
	byOffset := make(map[uint32]*metadata.Instruction)
	var pendingBranches []pending

	pos := uint32(0)
	for pos < uint32(len(raw)) {
		startOffset := pos
		b := raw[pos]
		pos++

		var info cilOp
		if b == 0xFE {
			if pos >= uint32(len(raw)) {
				break
			}
			b2 := raw[pos]
			pos++
			info = twoByteOps[b2]
		} else {
			info = singleByteOps[b]
		}

		instr := &metadata.Instruction{OpCode: info.op}

		switch info.shape {
		case shapeNone:
			if info.op == metadata.OpOther {
				instr.Operand = metadata.Operand{Kind: metadata.OperandRaw, Raw: append([]byte(nil), raw[startOffset:pos]...)}
			}
		case shape1:
			v := raw[pos]
			pos++
			c.setSmallOperand(instr, info.op, int64(int8(v)), uint16(v), startOffset, pos, raw)
		case shape2:
			v := binary.LittleEndian.Uint16(raw[pos:])
			pos += 2
			c.setSmallOperand(instr, info.op, int64(int16(v)), v, startOffset, pos, raw)
		case shape4:
			v := binary.LittleEndian.Uint32(raw[pos:])
			pos += 4
			c.setTokenOrImmOperand(instr, info.op, v, startOffset, pos, raw)
		case shape8:
			v := binary.LittleEndian.Uint64(raw[pos:])
			pos += 8
			if info.op == metadata.OpLdcI8 {
				instr.Operand = metadata.Operand{Kind: metadata.OperandImm64, Imm: int64(v)}
			} else if info.op == metadata.OpLdcR8 {
				instr.Operand = metadata.Operand{Kind: metadata.OperandFloat, Float: math.Float64frombits(v)}
			} else {
				instr.Operand = metadata.Operand{Kind: metadata.OperandRaw, Raw: append([]byte(nil), raw[startOffset:pos]...)}
			}
		case shapeBranchS:
			d := int8(raw[pos])
			pos++
			if info.op == metadata.OpOther {
				instr.Operand = metadata.Operand{Kind: metadata.OperandRaw, Raw: append([]byte(nil), raw[startOffset:pos]...)}
			} else {
				instr.Operand = metadata.Operand{Kind: metadata.OperandBranchTarget}
				pendingBranches = append(pendingBranches, pending{instr: instr, branchS: true, switchRaw: []int32{int32(d)}, nextOffset: pos})
			}
		case shapeBranchL:
			d := int32(binary.LittleEndian.Uint32(raw[pos:]))
			pos += 4
			if info.op == metadata.OpOther {
				instr.Operand = metadata.Operand{Kind: metadata.OperandRaw, Raw: append([]byte(nil), raw[startOffset:pos]...)}
			} else {
				instr.Operand = metadata.Operand{Kind: metadata.OperandBranchTarget}
				pendingBranches = append(pendingBranches, pending{instr: instr, branchL: true, switchRaw: []int32{d}, nextOffset: pos})
			}
		case shapeSwitch:
			n := binary.LittleEndian.Uint32(raw[pos:])
			pos += 4
			deltas := make([]int32, n)
			for i := range deltas {
				deltas[i] = int32(binary.LittleEndian.Uint32(raw[pos:]))
				pos += 4
			}
			instr.Operand = metadata.Operand{Kind: metadata.OperandSwitchTable}
			pendingBranches = append(pendingBranches, pending{instr: instr, switchRaw: deltas, nextOffset: pos})
		}

		instrs = append(instrs, instr)
		offsetOf[instr] = startOffset
		byOffset[startOffset] = instr
	}

	for _, p := range pendingBranches {
		if len(p.instr.Operand.SwitchTargets) == 0 && p.instr.Operand.Kind == metadata.OperandSwitchTable {
			targets := make([]*metadata.Instruction, len(p.switchRaw))
			for i, d := range p.switchRaw {
				targets[i] = byOffset[uint32(int64(p.nextOffset)+int64(d))]
			}
			p.instr.Operand.SwitchTargets = targets
			continue
		}
		target := byOffset[uint32(int64(p.nextOffset)+int64(p.switchRaw[0]))]
		p.instr.Operand.BranchTarget = target
	}

	return instrs, offsetOf, byOffset, nil
}

func (c *loadCtx) setSmallOperand(instr *metadata.Instruction, op metadata.OpCode, signed int64, raw16 uint16, start, end uint32, buf []byte) {
	switch op.ExpectedOperand() {
	case metadata.OperandImm8:
		instr.Operand = metadata.Operand{Kind: metadata.OperandImm8, Imm: signed}
	case metadata.OperandLocal:
		instr.Operand = metadata.Operand{Kind: metadata.OperandLocal, LocalIndex: raw16}
	case metadata.OperandParam:
		instr.Operand = metadata.Operand{Kind: metadata.OperandParam, ParamIndex: raw16}
	default:
		instr.Operand = metadata.Operand{Kind: metadata.OperandRaw, Raw: append([]byte(nil), buf[start:end]...)}
	}
}

func (c *loadCtx) setTokenOrImmOperand(instr *metadata.Instruction, op metadata.OpCode, token uint32, start, end uint32, buf []byte) {
	switch op.ExpectedOperand() {
	case metadata.OperandImm32:
		instr.Operand = metadata.Operand{Kind: metadata.OperandImm32, Imm: int64(int32(token))}
	case metadata.OperandFloat:
		instr.Operand = metadata.Operand{Kind: metadata.OperandFloat, Float: float64(math.Float32frombits(token))}
	case metadata.OperandString:
		str, _ := c.resolveStringToken(token)
		instr.Operand = metadata.Operand{Kind: metadata.OperandString, Str: str}
	case metadata.OperandType:
		instr.Operand = metadata.Operand{Kind: metadata.OperandType, Type: c.resolveTypeToken(token)}
	case metadata.OperandField:
		instr.Operand = metadata.Operand{Kind: metadata.OperandField, Field: c.resolveFieldToken(token)}
	case metadata.OperandMethod:
		instr.Operand = metadata.Operand{Kind: metadata.OperandMethod, Method: c.resolveMethodToken(token)}
	case metadata.OperandCallSite:
		instr.Operand = metadata.Operand{Kind: metadata.OperandCallSite, CallSite: c.resolveCallSiteToken(token)}
	default:
		instr.Operand = metadata.Operand{Kind: metadata.OperandRaw, Raw: append([]byte(nil), buf[start:end]...)}
	}
}

// decodeExceptionClauses decodes the fat-format method's exception
// handling clause section, per ECMA-335 §II.25.4.6, in either its
// small or fat layout (distinguished by the kind byte's low bit).
func (c *loadCtx) decodeExceptionClauses(offset uint32, byOffset map[uint32]*metadata.Instruction, codeSize uint32) ([]metadata.ExceptionRegion, error) {
	kind, err := c.r.readUint8(offset)
	if err != nil {
		return nil, err
	}
	fat := kind&0x40 != 0
	if kind&0x3F != 0x01 { // not CorILMethod_Sect_EHTable
		return nil, nil
	}

	var regions []metadata.ExceptionRegion
	if fat {
		dataSize, err := c.r.readAt(offset+1, 3)
		if err != nil {
			return nil, err
		}
		size := uint32(dataSize[0]) | uint32(dataSize[1])<<8 | uint32(dataSize[2])<<16
		count := (size - 4) / 24
		cursor := offset + 4
		for i := uint32(0); i < count; i++ {
			flags, _ := c.r.readUint32(cursor)
			tryOff, _ := c.r.readUint32(cursor + 4)
			tryLen, _ := c.r.readUint32(cursor + 8)
			handlerOff, _ := c.r.readUint32(cursor + 12)
			handlerLen, _ := c.r.readUint32(cursor + 16)
			classTokenOrFilterOff, _ := c.r.readUint32(cursor + 20)
			regions = append(regions, c.buildExceptionRegion(flags, tryOff, tryLen, handlerOff, handlerLen, classTokenOrFilterOff, byOffset))
			cursor += 24
		}
	} else {
		dataSize, err := c.r.readUint8(offset + 1)
		if err != nil {
			return nil, err
		}
		count := (uint32(dataSize) - 4) / 12
		cursor := offset + 4
		for i := uint32(0); i < count; i++ {
			flags16, _ := c.r.readUint16(cursor)
			tryOff16, _ := c.r.readUint16(cursor + 2)
			tryLen8, _ := c.r.readUint8(cursor + 4)
			handlerOff16, _ := c.r.readUint16(cursor + 5)
			handlerLen8, _ := c.r.readUint8(cursor + 7)
			classTokenOrFilterOff, _ := c.r.readUint32(cursor + 8)
			regions = append(regions, c.buildExceptionRegion(uint32(flags16), uint32(tryOff16), uint32(tryLen8), uint32(handlerOff16), uint32(handlerLen8), classTokenOrFilterOff, byOffset))
			cursor += 12
		}
	}
	return regions, nil
}

func (c *loadCtx) buildExceptionRegion(flags, tryOff, tryLen, handlerOff, handlerLen, classTokenOrFilterOff uint32, byOffset map[uint32]*metadata.Instruction) metadata.ExceptionRegion {
	var kind metadata.HandlerKind
	switch flags & 0x7 {
	case 0x0:
		kind = metadata.HandlerCatch
	case 0x1:
		kind = metadata.HandlerFilter
	case 0x2:
		kind = metadata.HandlerFinally
	case 0x4:
		kind = metadata.HandlerFault
	}
	region := metadata.ExceptionRegion{
		Kind:         kind,
		TryStart:     byOffset[tryOff],
		TryEnd:       byOffset[tryOff+tryLen],
		HandlerStart: byOffset[handlerOff],
		HandlerEnd:   byOffset[handlerOff+handlerLen],
	}
	if kind == metadata.HandlerCatch {
		t := c.resolveTypeToken(classTokenOrFilterOff)
		region.CaughtType = &t
	}
	if kind == metadata.HandlerFilter {
		region.FilterStart = byOffset[classTokenOrFilterOff]
	}
	return region
}
