package clone

import (
	"testing"

	"github.com/cilplug/patcher/metadata"
)

func intType() metadata.TypeRef {
	return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "System", Name: "Int32"}}
}

func objType() metadata.TypeRef {
	return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "System", Name: "Object"}}
}

func TestPatchMethod_StaticPlugFullSwap(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Method{
		DeclaringType: targetType,
		Name:          "Add",
		Attributes:    metadata.MethodAttrStatic,
		Params:        []metadata.Param{{Index: 0, Type: intType()}, {Index: 1, Type: intType()}},
		Body: &metadata.Body{
			Instructions: []*metadata.Instruction{metadata.NewInstruction(metadata.OpNop)},
		},
	}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	ldarg0 := &metadata.Instruction{OpCode: metadata.OpLdargS, Operand: metadata.Operand{Kind: metadata.OperandParam, ParamIndex: 0}}
	ldarg1 := &metadata.Instruction{OpCode: metadata.OpLdargS, Operand: metadata.Operand{Kind: metadata.OperandParam, ParamIndex: 1}}
	add := &metadata.Instruction{OpCode: metadata.OpAdd}
	ret := &metadata.Instruction{OpCode: metadata.OpRet}
	plug := &metadata.Method{
		Name:       "Add",
		Attributes: metadata.MethodAttrStatic,
		Params:     []metadata.Param{{Index: 0, Type: intType()}, {Index: 1, Type: intType()}},
		Body: &metadata.Body{
			Instructions: []*metadata.Instruction{ldarg0, ldarg1, add, ret},
			MaxStack:     2,
		},
	}

	if err := PatchMethod(target, plug, false, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}

	if len(target.Body.Instructions) != 4 {
		t.Fatalf("expected 4 instructions, got %d", len(target.Body.Instructions))
	}
	if target.Body.Instructions[0].Operand.ParamIndex != 0 || target.Body.Instructions[1].Operand.ParamIndex != 1 {
		t.Fatalf("expected param indices unchanged for static-to-static clone, got %+v", target.Body.Instructions)
	}
	if !target.Body.LastInstruction().OpCode.IsReturn() {
		t.Fatal("expected body to end in ret")
	}
	if target.Body.MaxStack != 2 {
		t.Fatalf("expected MaxStack copied from plug, got %d", target.Body.MaxStack)
	}
}

func TestPatchMethod_InstancePlugShiftsReceiver(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "C"}
	target := &metadata.Method{
		DeclaringType: targetType,
		Name:          "Tag",
		Params:        []metadata.Param{{Index: 0, Type: intType()}},
		Body:          &metadata.Body{},
	}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	ldAThis := &metadata.Instruction{OpCode: metadata.OpLdargS, Operand: metadata.Operand{Kind: metadata.OperandParam, ParamIndex: 0}}
	ldK := &metadata.Instruction{OpCode: metadata.OpLdargS, Operand: metadata.Operand{Kind: metadata.OperandParam, ParamIndex: 1}}
	ret := &metadata.Instruction{OpCode: metadata.OpRet}
	plug := &metadata.Method{
		Name:       "Tag",
		Attributes: metadata.MethodAttrStatic,
		Params:     []metadata.Param{{Index: 0, Name: "aThis", Type: objType()}, {Index: 1, Type: intType()}},
		Body:       &metadata.Body{Instructions: []*metadata.Instruction{ldAThis, ldK, ret}},
	}

	if err := PatchMethod(target, plug, true, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}

	if target.Body.Instructions[0].Operand.ParamIndex != 0 {
		t.Fatalf("expected aThis to remap to the implicit receiver (slot 0), got %+v", target.Body.Instructions[0])
	}
	if target.Body.Instructions[1].Operand.ParamIndex != 0 {
		t.Fatalf("expected plug parameter 1 to remap to target parameter 0, got %+v", target.Body.Instructions[1])
	}
}

func TestPatchMethod_StaticConstructorFullClear(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Method{
		DeclaringType: targetType,
		Name:          metadata.CCtorName,
		Attributes:    metadata.MethodAttrStatic | metadata.MethodAttrSpecialName,
		Body: &metadata.Body{
			Instructions: []*metadata.Instruction{
				{OpCode: metadata.OpLdcI40},
				{OpCode: metadata.OpPop},
				{OpCode: metadata.OpRet},
			},
		},
	}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plug := &metadata.Method{
		Name:       metadata.CCtorName,
		Attributes: metadata.MethodAttrStatic | metadata.MethodAttrSpecialName,
		Body: &metadata.Body{
			Instructions: []*metadata.Instruction{
				{OpCode: metadata.OpLdcI41},
				{OpCode: metadata.OpPop},
				{OpCode: metadata.OpRet},
			},
		},
	}

	if err := PatchMethod(target, plug, false, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}
	if len(target.Body.Instructions) != 3 || target.Body.Instructions[0].OpCode != metadata.OpLdcI41 {
		t.Fatalf("expected target body fully replaced by plug body, got %+v", target.Body.Instructions)
	}
}

func TestPatchMethod_InstanceConstructorPreservesPrologue(t *testing.T) {
	baseType := &metadata.Type{Namespace: "N", Name: "Base"}
	baseCtor := &metadata.Method{DeclaringType: baseType, Name: metadata.CtorName}
	baseType.Methods = []*metadata.Method{baseCtor}

	targetType := &metadata.Type{Namespace: "N", Name: "Derived", BaseType: &metadata.TypeRef{Kind: metadata.TypeRefDef, Def: baseType}}
	baseCall := &metadata.Instruction{
		OpCode:  metadata.OpCall,
		Operand: metadata.Operand{Kind: metadata.OperandMethod, Method: metadata.MethodRef{Kind: metadata.RefKindDef, Def: baseCtor, DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: baseType}, Name: metadata.CtorName}},
	}
	ldarg0 := &metadata.Instruction{OpCode: metadata.OpLdarg0}
	oldFieldInit := &metadata.Instruction{OpCode: metadata.OpPop}
	target := &metadata.Method{
		DeclaringType: targetType,
		Name:          metadata.CtorName,
		Body: &metadata.Body{
			Instructions: []*metadata.Instruction{ldarg0, baseCall, oldFieldInit, {OpCode: metadata.OpRet}},
		},
	}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugBody := &metadata.Instruction{OpCode: metadata.OpNop}
	plug := &metadata.Method{
		Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{plugBody, {OpCode: metadata.OpRet}}},
	}

	if err := PatchMethod(target, plug, false, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}

	if len(target.Body.Instructions) != 4 {
		t.Fatalf("expected prologue (2) + plug body (2), got %d: %+v", len(target.Body.Instructions), target.Body.Instructions)
	}
	if target.Body.Instructions[0] != ldarg0 || target.Body.Instructions[1] != baseCall {
		t.Fatal("expected the original ldarg.0/base-ctor-call prologue preserved")
	}
	if target.Body.Instructions[2].OpCode != metadata.OpNop {
		t.Fatalf("expected plug body spliced after the prologue, got %+v", target.Body.Instructions[2])
	}
}

func TestPatchMethod_BranchFixup(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Method{
		DeclaringType: targetType,
		Name:          "Loop",
		Attributes:    metadata.MethodAttrStatic,
		Body:          &metadata.Body{},
	}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	landing := &metadata.Instruction{OpCode: metadata.OpNop}
	br := &metadata.Instruction{OpCode: metadata.OpBrS, Operand: metadata.Operand{Kind: metadata.OperandBranchTarget, BranchTarget: landing}}
	ret := &metadata.Instruction{OpCode: metadata.OpRet}
	plug := &metadata.Method{
		Name:       "Loop",
		Attributes: metadata.MethodAttrStatic,
		Body:       &metadata.Body{Instructions: []*metadata.Instruction{br, landing, ret}},
	}

	if err := PatchMethod(target, plug, false, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}

	clonedBr := target.Body.Instructions[0]
	clonedLanding := target.Body.Instructions[1]
	if clonedBr.Operand.BranchTarget != clonedLanding {
		t.Fatalf("expected branch target rewritten to the cloned landing instruction, got %p want %p", clonedBr.Operand.BranchTarget, clonedLanding)
	}
}

func TestPatchMethod_ClearsPInvoke(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Method{
		DeclaringType: targetType,
		Name:          "Native",
		Attributes:    metadata.MethodAttrStatic | metadata.MethodAttrPInvokeImpl,
		ImplAttrs:     metadata.ImplInternalCall,
		PInvoke:       &metadata.PInvokeStub{EntryPointName: "NativeThing"},
	}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plug := &metadata.Method{
		Name:       "Native",
		Attributes: metadata.MethodAttrStatic,
		Body:       &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpRet}}},
	}

	if err := PatchMethod(target, plug, false, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}
	if target.HasPInvoke() {
		t.Fatal("expected P/Invoke stub cleared after patching")
	}
}

func TestPatchMethod_AppendsMissingReturn(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Method{DeclaringType: targetType, Name: "Touch", Attributes: metadata.MethodAttrStatic, Body: &metadata.Body{}}
	targetType.Methods = []*metadata.Method{target}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plug := &metadata.Method{
		Name:       "Touch",
		Attributes: metadata.MethodAttrStatic,
		Body:       &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpNop}}},
	}

	if err := PatchMethod(target, plug, false, targetModule, nil); err != nil {
		t.Fatalf("PatchMethod: %v", err)
	}
	if !target.Body.LastInstruction().OpCode.IsReturn() {
		t.Fatal("expected a ret appended when the plug body doesn't end in one")
	}
}
