package patch

import (
	"testing"

	"github.com/cilplug/patcher/metadata"
)

func intType() metadata.TypeRef {
	return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "System", Name: "Int32"}}
}

func TestPatchProperty_RetargetsBackingField(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	targetBacking := &metadata.Field{DeclaringType: targetType, Name: "_value", Type: intType()}
	targetType.Fields = []*metadata.Field{targetBacking}

	targetGetter := &metadata.Method{
		DeclaringType: targetType, Name: "get_Value",
		Body: &metadata.Body{Instructions: []*metadata.Instruction{
			{OpCode: metadata.OpLdarg0},
			{OpCode: metadata.OpLdfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: targetBacking}}},
			{OpCode: metadata.OpRet},
		}},
	}
	targetSetter := &metadata.Method{
		DeclaringType: targetType, Name: "set_Value",
		Params: []metadata.Param{{Index: 0, Type: intType()}},
		Body:   &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpRet}}},
	}
	targetProp := &metadata.Property{DeclaringType: targetType, Name: "Value", Type: intType(), Getter: targetGetter, Setter: targetSetter}
	targetType.Properties = []*metadata.Property{targetProp}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugType := &metadata.Type{Namespace: "N", Name: "TPlug"}
	plugBacking := &metadata.Field{DeclaringType: plugType, Name: "_shadow", Type: intType()}
	plugType.Fields = []*metadata.Field{plugBacking}

	plugGetterBody := &metadata.Body{Instructions: []*metadata.Instruction{
		{OpCode: metadata.OpLdarg0},
		{OpCode: metadata.OpLdfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: plugBacking}}},
		{OpCode: metadata.OpRet},
	}}
	plugGetter := &metadata.Method{DeclaringType: plugType, Name: "get_Value", Body: plugGetterBody}

	plugSetterBody := &metadata.Body{Instructions: []*metadata.Instruction{
		{OpCode: metadata.OpLdarg0},
		{OpCode: metadata.OpLdargS, Operand: metadata.Operand{Kind: metadata.OperandParam, ParamIndex: 1}},
		{OpCode: metadata.OpStfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: plugBacking}}},
		{OpCode: metadata.OpRet},
	}}
	plugSetter := &metadata.Method{DeclaringType: plugType, Name: "set_Value", Params: []metadata.Param{{Index: 0, Type: intType()}}, Body: plugSetterBody}

	plugProp := &metadata.Property{DeclaringType: plugType, Name: "Value", Type: intType(), Getter: plugGetter, Setter: plugSetter}

	if err := PatchProperty(targetProp, plugProp, targetModule, nil); err != nil {
		t.Fatalf("PatchProperty: %v", err)
	}

	getterField := targetGetter.Body.Instructions[1].Operand.Field
	if getterField.Kind != metadata.RefKindDef || getterField.Def != targetBacking {
		t.Fatalf("expected getter retargeted to target's backing field, got %+v", getterField)
	}

	setterField := targetSetter.Body.Instructions[2].Operand.Field
	if setterField.Kind != metadata.RefKindDef || setterField.Def != targetBacking {
		t.Fatalf("expected setter retargeted to target's backing field, got %+v", setterField)
	}
}

func TestPatchProperty_StaticBackingFieldGetsCorrectOpcodes(t *testing.T) {
	targetType := &metadata.Type{Namespace: "N", Name: "T"}
	targetBacking := &metadata.Field{DeclaringType: targetType, Name: "_value", Type: intType(), Attributes: metadata.FieldAttrStatic}
	targetType.Fields = []*metadata.Field{targetBacking}
	targetGetter := &metadata.Method{DeclaringType: targetType, Name: "get_Value", Attributes: metadata.MethodAttrStatic, Body: &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpRet}}}}
	targetSetter := &metadata.Method{DeclaringType: targetType, Name: "set_Value", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Index: 0, Type: intType()}}, Body: &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpRet}}}}
	targetProp := &metadata.Property{DeclaringType: targetType, Name: "Value", Type: intType(), Getter: targetGetter, Setter: targetSetter}
	targetType.Properties = []*metadata.Property{targetProp}
	targetModule := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{targetType}}

	plugType := &metadata.Type{Namespace: "N", Name: "TPlug"}
	plugBacking := &metadata.Field{DeclaringType: plugType, Name: "_shadow", Type: intType(), Attributes: metadata.FieldAttrStatic}
	plugType.Fields = []*metadata.Field{plugBacking}
	plugGetter := &metadata.Method{
		DeclaringType: plugType, Name: "get_Value", Attributes: metadata.MethodAttrStatic,
		Body: &metadata.Body{Instructions: []*metadata.Instruction{
			{OpCode: metadata.OpLdsfld, Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: plugBacking}}},
			{OpCode: metadata.OpRet},
		}},
	}
	plugSetter := &metadata.Method{DeclaringType: plugType, Name: "set_Value", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Index: 0, Type: intType()}}, Body: &metadata.Body{Instructions: []*metadata.Instruction{{OpCode: metadata.OpRet}}}}
	plugProp := &metadata.Property{DeclaringType: plugType, Name: "Value", Type: intType(), Getter: plugGetter, Setter: plugSetter}

	if err := PatchProperty(targetProp, plugProp, targetModule, nil); err != nil {
		t.Fatalf("PatchProperty: %v", err)
	}

	if targetGetter.Body.Instructions[0].OpCode != metadata.OpLdsfld {
		t.Fatalf("expected ldsfld preserved for static backing field, got %s", targetGetter.Body.Instructions[0].OpCode)
	}
}
