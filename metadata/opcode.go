package metadata

// OpCode identifies a CIL instruction opcode. It is a compact
// enumeration of the curated set below, one-byte and 0xFE-prefixed
// two-byte opcodes alike, not the raw CIL encoding (metadataio maps
// between the two); the string table below is what callers and
// diagnostics actually print.
type OpCode uint16

// OperandKind classifies the operand an OpCode expects. spec.md §9
// asks for a tagged variant driven by exhaustive match; OperandKind is
// that tag.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandImm8
	OperandImm16
	OperandImm32
	OperandImm64
	OperandFloat
	OperandString
	OperandBranchTarget
	OperandSwitchTable
	OperandLocal
	OperandParam
	OperandType
	OperandField
	OperandMethod
	OperandCallSite
	// OperandRaw carries an OpOther instruction's exact original byte
	// encoding (opcode bytes included), for opcodes outside the
	// curated set that no rewrite pass needs to touch.
	OperandRaw
)

// Opcodes (one- and two-byte) relevant to the patcher's body cloner. This is
// not the full ECMA-335 table (the engine never needs, say, the
// individual unsigned-convert opcodes to differ from a generic
// immediate instruction); it is the subset whose operand shape the
// cloner must rewrite, plus the handful of zero-operand opcodes
// needed to round out realistic method bodies.
const (
	OpNop OpCode = iota
	OpBreak
	OpLdarg0
	OpLdarg1
	OpLdarg2
	OpLdarg3
	OpLdargS
	OpLdarg
	OpStargS
	OpStarg
	OpLdlocS
	OpLdloc0
	OpLdloc1
	OpLdloc2
	OpLdloc3
	OpLdloc
	OpStlocS
	OpStloc0
	OpStloc1
	OpStloc2
	OpStloc3
	OpStloc
	OpLdnull
	OpLdcI4M1
	OpLdcI40
	OpLdcI41
	OpLdcI4S
	OpLdcI4
	OpLdcI8
	OpLdcR4
	OpLdcR8
	OpDup
	OpPop
	OpCall
	OpCalli
	OpRet
	OpBrS
	OpBrtrueS
	OpBrfalseS
	OpBeqS
	OpBneUnS
	OpBr
	OpBrtrue
	OpBrfalse
	OpBeq
	OpBneUn
	OpSwitch
	OpLdindRef
	OpStindRef
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg
	OpNot
	OpConvI4
	OpConvI8
	OpCallvirt
	OpCpobj
	OpLdobj
	OpLdstr
	OpNewobj
	OpCastclass
	OpIsinst
	OpThrow
	OpLdfld
	OpLdflda
	OpStfld
	OpLdsfld
	OpLdsflda
	OpStsfld
	OpBox
	OpNewarr
	OpLdlen
	OpLdelemRef
	OpStelemRef
	OpUnboxAny
	OpLeave
	OpLeaveS
	OpEndfinally
	OpLdtoken
	OpInitobj

	// OpOther stands in for any CIL opcode outside this curated set:
	// one the Method Body Cloner never needs to rewrite an operand for
	// (arithmetic conversions, the ldelem.*/stelem.* family beyond the
	// ref variants, ldarga/ldloca, etc). Its exact encoding is preserved in Operand.Raw so a
	// read-then-written body round-trips byte for byte.
	OpOther
)

var opcodeNames = map[OpCode]string{
	OpNop: "nop", OpBreak: "break",
	OpLdarg0: "ldarg.0", OpLdarg1: "ldarg.1", OpLdarg2: "ldarg.2", OpLdarg3: "ldarg.3",
	OpLdargS: "ldarg.s", OpLdarg: "ldarg", OpStargS: "starg.s", OpStarg: "starg",
	OpLdlocS: "ldloc.s", OpLdloc0: "ldloc.0", OpLdloc1: "ldloc.1", OpLdloc2: "ldloc.2", OpLdloc3: "ldloc.3",
	OpLdloc: "ldloc", OpStlocS: "stloc.s", OpStloc0: "stloc.0", OpStloc1: "stloc.1",
	OpStloc2: "stloc.2", OpStloc3: "stloc.3", OpStloc: "stloc",
	OpLdnull: "ldnull", OpLdcI4M1: "ldc.i4.m1", OpLdcI40: "ldc.i4.0", OpLdcI41: "ldc.i4.1",
	OpLdcI4S: "ldc.i4.s", OpLdcI4: "ldc.i4", OpLdcI8: "ldc.i8", OpLdcR4: "ldc.r4", OpLdcR8: "ldc.r8",
	OpDup: "dup", OpPop: "pop", OpCall: "call", OpCalli: "calli", OpRet: "ret",
	OpBrS: "br.s", OpBrtrueS: "brtrue.s", OpBrfalseS: "brfalse.s", OpBeqS: "beq.s", OpBneUnS: "bne.un.s",
	OpBr: "br", OpBrtrue: "brtrue", OpBrfalse: "brfalse", OpBeq: "beq", OpBneUn: "bne.un",
	OpSwitch: "switch", OpLdindRef: "ldind.ref", OpStindRef: "stind.ref",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpShr: "shr", OpNeg: "neg", OpNot: "not",
	OpConvI4: "conv.i4", OpConvI8: "conv.i8", OpCallvirt: "callvirt",
	OpCpobj: "cpobj", OpLdobj: "ldobj", OpLdstr: "ldstr", OpNewobj: "newobj",
	OpCastclass: "castclass", OpIsinst: "isinst", OpThrow: "throw",
	OpLdfld: "ldfld", OpLdflda: "ldflda", OpStfld: "stfld",
	OpLdsfld: "ldsfld", OpLdsflda: "ldsflda", OpStsfld: "stsfld",
	OpBox: "box", OpNewarr: "newarr", OpLdlen: "ldlen",
	OpLdelemRef: "ldelem.ref", OpStelemRef: "stelem.ref", OpUnboxAny: "unbox.any",
	OpLeave: "leave", OpLeaveS: "leave.s", OpEndfinally: "endfinally",
	OpLdtoken: "ldtoken", OpInitobj: "initobj", OpOther: "<other>",
}

func (op OpCode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown"
}

var operandKinds = map[OpCode]OperandKind{
	OpLdargS: OperandParam, OpLdarg: OperandParam, OpStargS: OperandParam, OpStarg: OperandParam,
	OpLdlocS: OperandLocal, OpLdloc: OperandLocal, OpStlocS: OperandLocal, OpStloc: OperandLocal,
	OpLdcI4S: OperandImm8, OpLdcI4: OperandImm32, OpLdcI8: OperandImm64,
	OpLdcR4: OperandFloat, OpLdcR8: OperandFloat,
	OpCall: OperandMethod, OpCallvirt: OperandMethod, OpNewobj: OperandMethod, OpCalli: OperandCallSite,
	OpBrS: OperandBranchTarget, OpBrtrueS: OperandBranchTarget, OpBrfalseS: OperandBranchTarget,
	OpBeqS: OperandBranchTarget, OpBneUnS: OperandBranchTarget,
	OpBr: OperandBranchTarget, OpBrtrue: OperandBranchTarget, OpBrfalse: OperandBranchTarget,
	OpBeq: OperandBranchTarget, OpBneUn: OperandBranchTarget,
	OpLeave: OperandBranchTarget, OpLeaveS: OperandBranchTarget,
	OpSwitch:     OperandSwitchTable,
	OpLdstr:      OperandString,
	OpCastclass:  OperandType, OpIsinst: OperandType, OpBox: OperandType, OpNewarr: OperandType,
	OpUnboxAny:   OperandType, OpLdobj: OperandType, OpCpobj: OperandType, OpInitobj: OperandType,
	OpLdtoken:    OperandType,
	OpLdfld:      OperandField, OpLdflda: OperandField, OpStfld: OperandField,
	OpLdsfld:     OperandField, OpLdsflda: OperandField, OpStsfld: OperandField,
	OpOther:      OperandRaw,
}

// ExpectedOperand returns the OperandKind op's operand must carry.
// Opcodes not present in the table take no operand (OperandNone).
func (op OpCode) ExpectedOperand() OperandKind {
	if k, ok := operandKinds[op]; ok {
		return k
	}
	return OperandNone
}

// IsBranch reports whether op's operand is a single branch target.
func (op OpCode) IsBranch() bool { return op.ExpectedOperand() == OperandBranchTarget }

// IsSwitch reports whether op is the switch instruction.
func (op OpCode) IsSwitch() bool { return op == OpSwitch }

// IsReturn reports whether op is the ret instruction.
func (op OpCode) IsReturn() bool { return op == OpRet }

// IsCall reports whether op invokes a method (call, callvirt, or
// newobj — all three carry a method reference operand the safe
// importer must rewrite).
func (op OpCode) IsCall() bool {
	return op == OpCall || op == OpCallvirt || op == OpNewobj
}

// Operand is the tagged union of everything a CIL instruction operand
// can be, per spec.md §9's Design Notes.
type Operand struct {
	Kind OperandKind

	Imm   int64
	Float float64
	Str   string

	BranchTarget  *Instruction
	SwitchTargets []*Instruction

	LocalIndex uint16
	ParamIndex uint16

	Type     TypeRef
	Field    FieldRef
	Method   MethodRef
	CallSite CallSite

	// Raw holds an OpOther instruction's verbatim original encoding.
	Raw []byte
}

// Instruction is one CIL instruction: an opcode and its operand. Its
// own pointer identity is what branch targets, switch tables, and
// exception region positions reference — see spec.md §9's note on
// modeling branch targets as Instruction identities rather than
// positions, which survives reordering during cloning.
type Instruction struct {
	OpCode  OpCode
	Operand Operand
}

// NewInstruction constructs an instruction with no operand; callers
// set Operand afterward when the opcode expects one.
func NewInstruction(op OpCode) *Instruction {
	return &Instruction{OpCode: op}
}
