package match

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

func TestIsInstancePlug(t *testing.T) {
	instance := &metadata.Method{
		Attributes: metadata.MethodAttrStatic,
		Params:     []metadata.Param{{Index: 0, Name: "aThis", Type: objType()}, {Index: 1, Name: "k", Type: intType()}},
	}
	if !IsInstancePlug(instance) {
		t.Error("expected static method with aThis first param to be an instance plug")
	}

	static := &metadata.Method{
		Attributes: metadata.MethodAttrStatic,
		Params:     []metadata.Param{{Index: 0, Name: "x", Type: intType()}},
	}
	if IsInstancePlug(static) {
		t.Error("static method without aThis must not be an instance plug")
	}

	nonStatic := &metadata.Method{
		Params: []metadata.Param{{Index: 0, Name: "aThis", Type: objType()}},
	}
	if IsInstancePlug(nonStatic) {
		t.Error("non-static method must never be treated as an instance plug regardless of param name")
	}
}

func TestMatchMethod_StaticToStatic(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	add := &metadata.Method{
		DeclaringType: target,
		Name:          "Add",
		Attributes:    metadata.MethodAttrStatic,
		Params:        []metadata.Param{{Index: 0, Type: intType()}, {Index: 1, Type: intType()}},
	}
	target.Methods = []*metadata.Method{add}

	plug := &metadata.Method{
		Name:       "Add",
		Attributes: metadata.MethodAttrStatic,
		Params:     []metadata.Param{{Index: 0, Type: intType()}, {Index: 1, Type: intType()}},
	}

	m, _, ok := MatchMethod(target, plug, nil)
	if !ok {
		t.Fatal("expected match")
	}
	if m.Target != add || m.InstancePlug {
		t.Errorf("got %+v, want target=Add instancePlug=false", m)
	}
}

func TestMatchMethod_InstancePlugShift(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "C"}
	tag := &metadata.Method{
		DeclaringType: target,
		Name:          "Tag",
		Params:        []metadata.Param{{Index: 0, Type: intType()}},
	}
	target.Methods = []*metadata.Method{tag}

	plug := &metadata.Method{
		Name:       "Tag",
		Attributes: metadata.MethodAttrStatic,
		Params:     []metadata.Param{{Index: 0, Name: "aThis", Type: objType()}, {Index: 1, Type: intType()}},
	}

	m, _, ok := MatchMethod(target, plug, nil)
	if !ok {
		t.Fatal("expected match")
	}
	if m.Target != tag || !m.InstancePlug {
		t.Errorf("got %+v, want target=Tag instancePlug=true", m)
	}
}

func TestMatchMethod_TargetAttributeOverridesName(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	real := &metadata.Method{DeclaringType: target, Name: "RealMethod", Attributes: metadata.MethodAttrStatic}
	target.Methods = []*metadata.Method{real}

	plug := &metadata.Method{Name: "DifferentPlugName", Attributes: metadata.MethodAttrStatic}
	attrs := []metadata.CustomAttribute{
		{
			Constructor: metadata.MethodRef{DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "Cosmos", Name: "PlugMember"}}},
			NamedArgs:   []metadata.NamedAttributeArg{{Name: "Target", Value: "RealMethod"}},
		},
	}

	m, _, ok := MatchMethod(target, plug, attrs)
	if !ok || m.Target != real {
		t.Fatalf("expected match against RealMethod via Target attribute, got ok=%v m=%+v", ok, m)
	}
}

func TestMatchMethod_CCtorRequiresStaticTarget(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	instanceCtorNamedCctor := &metadata.Method{DeclaringType: target, Name: metadata.CCtorName} // not static: shouldn't happen but guards the rule
	target.Methods = []*metadata.Method{instanceCtorNamedCctor}

	plug := &metadata.Method{Name: metadata.CCtorName, Attributes: metadata.MethodAttrStatic}

	_, candidates, ok := MatchMethod(target, plug, nil)
	if ok {
		t.Fatal("CCtor plug must not match a non-static target method")
	}
	if len(candidates) != 1 {
		t.Fatalf("expected one rejected candidate, got %v", candidates)
	}
}

func TestMatchMethod_NoMatchReturnsCandidates(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	overload1 := &metadata.Method{DeclaringType: target, Name: "Foo", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Type: intType()}}}
	overload2 := &metadata.Method{DeclaringType: target, Name: "Foo", Params: []metadata.Param{{Type: intType()}, {Type: intType()}}}
	target.Methods = []*metadata.Method{overload1, overload2}

	plug := &metadata.Method{Name: "Foo", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Type: objType()}, {Type: objType()}, {Type: objType()}}}

	_, candidates, ok := MatchMethod(target, plug, nil)
	if ok {
		t.Fatal("expected no match for mismatched arity/signature")
	}
	if len(candidates) != 2 {
		t.Fatalf("expected both same-name overloads as candidates, got %v", candidates)
	}
}

func TestMatchMethod_FirstMatchWinsOnAmbiguity(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	first := &metadata.Method{DeclaringType: target, Name: "Dup", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Type: intType()}}}
	second := &metadata.Method{DeclaringType: target, Name: "Dup", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Type: intType()}}}
	target.Methods = []*metadata.Method{first, second}

	plug := &metadata.Method{Name: "Dup", Attributes: metadata.MethodAttrStatic, Params: []metadata.Param{{Type: intType()}}}

	m, _, ok := MatchMethod(target, plug, nil)
	if !ok || m.Target != first {
		t.Fatalf("expected first declared overload to win, got ok=%v target=%v", ok, m.Target)
	}
}

func TestMatchProperty_RequiresGetterAndSetter(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	completeProp := &metadata.Property{Name: "Value", Getter: &metadata.Method{}, Setter: &metadata.Method{}}
	getterOnly := &metadata.Property{Name: "ReadOnly", Getter: &metadata.Method{}}
	target.Properties = []*metadata.Property{completeProp, getterOnly}

	if _, ok := MatchProperty(target, &metadata.Property{Name: "Value"}, nil); !ok {
		t.Error("expected match for property with both getter and setter")
	}
	if _, ok := MatchProperty(target, &metadata.Property{Name: "ReadOnly"}, nil); ok {
		t.Error("expected no match for property missing a setter")
	}
}

func TestMatchField(t *testing.T) {
	target := &metadata.Type{Namespace: "N", Name: "T"}
	f := &metadata.Field{Name: "Flag"}
	target.Fields = []*metadata.Field{f}

	got, ok := MatchField(target, &metadata.Field{Name: "Flag"}, nil)
	if !ok || got != f {
		t.Fatalf("expected match on field name, got ok=%v field=%v", ok, got)
	}
	if _, ok := MatchField(target, &metadata.Field{Name: "Missing"}, nil); ok {
		t.Error("expected no match for absent field")
	}
}
