package patch

import (
	"testing"

	"github.com/cilplug/patcher/metadata"
)

func TestPatchField_SplicesInstanceInitializer(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	targetCtor := &metadata.Method{
		DeclaringType: targetType, Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpLdarg0}, {OpCode: metadata.OpRet}}},
	}
	targetField := &metadata.Field{DeclaringType: targetType, Name: "Count", Type: intType()}
	targetType.Methods = []*metadata.Method{targetCtor}
	targetType.Fields = []*metadata.Field{targetField}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugType := &metadata.Type{Namespace: "N", Name: "TPlug"}
	plugField := &metadata.Field{DeclaringType: plugType, Name: "Count", Type: intType()}
	plugCtor := &metadata.Method{
		DeclaringType: plugType, Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdcI4S, Operand: metadata.Operand{Kind: metadata.OperandImm8, Imm: 7}},
			{OpCode: metadata.OpStfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: plugField}}},
			{OpCode: metadata.OpRet},
		}},
	}
	plugType.Methods = []*metadata.Method{plugCtor}

	if err := PatchField(targetField, plugField, targetModule, nil); err != nil {
		t.Fatalf("PatchField: %v", err)
	}

	instrs := targetCtor.Body.Instructions
	if len(instrs) != 5 {
		t.Fatalf("expected 2 original + 3 spliced instructions, got %d: %+v", len(instrs), instrs)
	}
	store := instrs[3]
	if store.OpCode != metadata.OpStfld || store.Operand.Field.Def != targetField {
		t.Fatalf("expected spliced store to target field, got %+v", store)
	}
	if !instrs[len(instrs)-1].OpCode.IsReturn() {
		t.Fatal("expected the original trailing ret to remain last")
	}
}

func TestPatchField_ReplacesExistingInitializer(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	targetField := &metadata.Field{DeclaringType: targetType, Name: "Count", Type: intType()}
	existingLoad := &metadata.Instruction{OpCode: metadata.OpLdcI4S, Operand: metadata.Operand{Kind: metadata.OperandImm8, Imm: 0}}
	existingStore := &metadata.Instruction{OpCode: metadata.OpStfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: targetField}}}
	targetCtor := &metadata.Method{
		DeclaringType: targetType, Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdarg0},
			existingLoad,
			existingStore,
			{OpCode: metadata.OpRet},
		}},
	}
	targetType.Methods = []*metadata.Method{targetCtor}
	targetType.Fields = []*metadata.Field{targetField}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugType := &metadata.Type{Namespace: "N", Name: "TPlug"}
	plugField := &metadata.Field{DeclaringType: plugType, Name: "Count", Type: intType()}
	plugCtor := &metadata.Method{
		DeclaringType: plugType, Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdcI4S, Operand: metadata.Operand{Kind: metadata.OperandImm8, Imm: 7}},
			{OpCode: metadata.OpStfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: plugField}}},
			{OpCode: metadata.OpRet},
		}},
	}
	plugType.Methods = []*metadata.Method{plugCtor}

	if err := PatchField(targetField, plugField, targetModule, nil); err != nil {
		t.Fatalf("PatchField: %v", err)
	}

	instrs := targetCtor.Body.Instructions
	if len(instrs) != 5 {
		t.Fatalf("expected no instructions to be added or removed, got %d: %+v", len(instrs), instrs)
	}
	if instrs[3] != existingStore {
		t.Fatalf("expected the existing store to remain in place, got %+v", instrs[3])
	}
	if instrs[2] == existingLoad {
		t.Fatal("expected the old value computation to be replaced, not left alongside the new one")
	}
	if instrs[2].OpCode != metadata.OpLdcI4S || instrs[2].Operand.Imm != 7 {
		t.Fatalf("expected the replacement instruction to load the plug's initializer value, got %+v", instrs[2])
	}
}

func TestPatchField_InitializerOperandIsSafeImported(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	targetCtor := &metadata.Method{
		DeclaringType: targetType, Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpLdarg0}, {OpCode: metadata.OpRet}}},
	}
	targetField := &metadata.Field{DeclaringType: targetType, Name: "Label", Type: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "System", Name: "String"}}}
	targetType.Methods = []*metadata.Method{targetCtor}
	targetType.Fields = []*metadata.Field{targetField}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugModule := &metadata.Module{Name: "Plug.dll", Assembly: "Plug"}
	plugType := &metadata.Type{Module: plugModule, Namespace: "N", Name: "TPlug"}
	helperType := &metadata.Type{Module: plugModule, Namespace: "N", Name: "Helper"}
	plugField := &metadata.Field{DeclaringType: plugType, Name: "Label", Type: targetField.Type}
	plugCtor := &metadata.Method{
		DeclaringType: plugType, Name: metadata.CtorName,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdtoken, Operand: metadata.Operand{Kind: metadata.OperandType, Type: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: helperType}}},
			{OpCode: metadata.OpStfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: plugField}}},
			{OpCode: metadata.OpRet},
		}},
	}
	plugType.Methods = []*metadata.Method{plugCtor}

	if err := PatchField(targetField, plugField, targetModule, nil); err != nil {
		t.Fatalf("PatchField: %v", err)
	}

	loadValue := targetCtor.Body.Instructions[2]
	importedType := loadValue.Operand.Type
	if importedType.Kind != metadata.TypeRefExternal {
		t.Fatalf("expected the spliced operand's type reference to be safe-imported to an external reference, got %+v", importedType)
	}
	if importedType.External.AssemblyName != "Plug" {
		t.Fatalf("expected the imported reference to name the plug's own assembly, got %+v", importedType.External)
	}
}

func TestPatchField_NoInitializerIsNotAnError(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	targetField := &metadata.Field{DeclaringType: targetType, Name: "Count", Type: intType()}
	targetType.Fields = []*metadata.Field{targetField}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugType := &metadata.Type{Namespace: "N", Name: "TPlug"}
	plugField := &metadata.Field{DeclaringType: plugType, Name: "Count", Type: intType()}
	plugType.Fields = []*metadata.Field{plugField}

	if err := PatchField(targetField, plugField, targetModule, nil); err != nil {
		t.Fatalf("expected no error when the plug has no matching initializer, got %v", err)
	}
}
