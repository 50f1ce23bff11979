package rewrite

import (
	"testing"

	"github.com/cilplug/patcher/metadata"
)

type recordingWarner struct {
	warnings []string
}

func (w *recordingWarner) Warnf(format string, args ...any) {
	w.warnings = append(w.warnings, format)
}

func TestSafeImportType_RewritesSelfReference(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}

	ref := metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "Target", FullName: "N.T"}}

	got := SafeImportType(ref, target, nil)

	if got.Kind != metadata.TypeRefDef || got.Def != localT {
		t.Fatalf("got %+v, want direct definition reference to N.T", got)
	}
}

func TestSafeImportType_ImportsPlugSiblingDef(t *testing.T) {
	plugModule := &metadata.Module{Name: "Plug.dll", Assembly: "Plug"}
	sibling := &metadata.Type{Module: plugModule, Namespace: "N", Name: "Helper"}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target"}

	ref := metadata.TypeRef{Kind: metadata.TypeRefDef, Def: sibling}

	got := SafeImportType(ref, target, nil)

	if got.Kind != metadata.TypeRefExternal {
		t.Fatalf("got %+v, want an external reference naming the plug's own assembly", got)
	}
	if got.External.AssemblyName != "Plug" || got.External.FullName != "N.Helper" {
		t.Fatalf("got %+v, want AssemblyName=Plug FullName=N.Helper", got.External)
	}
}

func TestSafeImportType_PlugSiblingDefNamingTargetBecomesLocal(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}

	plugModule := &metadata.Module{Name: "Plug.dll", Assembly: "Target"} // plug mentions target's own assembly name
	sibling := &metadata.Type{Module: plugModule, Namespace: "N", Name: "T"}

	ref := metadata.TypeRef{Kind: metadata.TypeRefDef, Def: sibling}

	got := SafeImportType(ref, target, nil)

	if got.Kind != metadata.TypeRefDef || got.Def != localT {
		t.Fatalf("got %+v, want the self-reference substituted with target's own local definition", got)
	}
}

func TestSafeImportType_DefAlreadyInTargetIsUnchanged(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}
	localT.Module = target

	ref := metadata.TypeRef{Kind: metadata.TypeRefDef, Def: localT}

	got := SafeImportType(ref, target, nil)

	if got.Kind != metadata.TypeRefDef || got.Def != localT {
		t.Fatalf("got %+v, want the already-local definition left untouched", got)
	}
}

func TestSafeImportMethod_ImportsPlugSiblingDef(t *testing.T) {
	plugModule := &metadata.Module{Name: "Plug.dll", Assembly: "Plug"}
	helperType := &metadata.Type{Module: plugModule, Namespace: "N", Name: "Helper"}
	helperMethod := &metadata.Method{DeclaringType: helperType, Name: "Do"}
	helperType.Methods = []*metadata.Method{helperMethod}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target"}

	ref := metadata.MethodRef{Kind: metadata.RefKindDef, Def: helperMethod}

	got := SafeImportMethod(ref, target, nil)

	if got.Kind != metadata.RefKindExternal {
		t.Fatalf("got %+v, want an external reference naming the plug's own assembly", got)
	}
	if got.External.AssemblyName != "Plug" || got.Name != "Do" {
		t.Fatalf("got %+v, want AssemblyName=Plug Name=Do", got)
	}
}

func TestSafeImportField_ImportsPlugSiblingDef(t *testing.T) {
	plugModule := &metadata.Module{Name: "Plug.dll", Assembly: "Plug"}
	helperType := &metadata.Type{Module: plugModule, Namespace: "N", Name: "Helper"}
	helperField := &metadata.Field{DeclaringType: helperType, Name: "Value"}
	helperType.Fields = []*metadata.Field{helperField}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target"}

	ref := metadata.FieldRef{Kind: metadata.RefKindDef, Def: helperField}

	got := SafeImportField(ref, target, nil)

	if got.Kind != metadata.RefKindExternal {
		t.Fatalf("got %+v, want an external reference naming the plug's own assembly", got)
	}
	if got.External.AssemblyName != "Plug" || got.Name != "Value" {
		t.Fatalf("got %+v, want AssemblyName=Plug Name=Value", got)
	}
}

func TestSafeImportType_LeavesOtherAssembliesAlone(t *testing.T) {
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target"}
	ref := metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "mscorlib", FullName: "System.Int32"}}

	got := SafeImportType(ref, target, nil)
	if got.Kind != metadata.TypeRefExternal || got.External.AssemblyName != "mscorlib" {
		t.Fatalf("got %+v, want unchanged external reference to mscorlib", got)
	}
}

func TestSafeImportType_WarnsWhenNoLocalDefinition(t *testing.T) {
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target"}
	ref := metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "Target", FullName: "N.Missing"}}

	warner := &recordingWarner{}
	got := SafeImportType(ref, target, warner)

	if got.Kind != metadata.TypeRefExternal {
		t.Fatalf("expected unchanged reference when no local definition exists, got %+v", got)
	}
	if len(warner.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warner.warnings)
	}
}

func TestSafeImportType_RecursesIntoGenericInstance(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}

	listOfT := metadata.TypeRef{
		Kind: metadata.TypeRefGenericInstance,
		Elem: &metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "mscorlib", FullName: "System.Collections.Generic.List`1"}},
		GenericArgs: []metadata.TypeRef{
			{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "Target", FullName: "N.T"}},
		},
	}

	got := SafeImportType(listOfT, target, nil)

	if got.GenericArgs[0].Kind != metadata.TypeRefDef || got.GenericArgs[0].Def != localT {
		t.Fatalf("expected generic argument rewritten to local def, got %+v", got.GenericArgs[0])
	}
	// The List<> definition itself, from mscorlib, must be untouched.
	if got.Elem.Kind != metadata.TypeRefExternal || got.Elem.External.AssemblyName != "mscorlib" {
		t.Fatalf("expected generic type definition left alone, got %+v", got.Elem)
	}
}

func TestSafeImportType_ArrayOfSelfReference(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}

	arr := metadata.TypeRef{
		Kind: metadata.TypeRefArray,
		Elem: &metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "Target", FullName: "N.T"}},
	}

	got := SafeImportType(arr, target, nil)
	if got.Kind != metadata.TypeRefArray || got.Elem.Kind != metadata.TypeRefDef || got.Elem.Def != localT {
		t.Fatalf("got %+v, want array of local def", got)
	}
}

func TestSafeImportMethod_PrefersLocalDefinitionOnExactSignature(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	realMethod := &metadata.Method{
		DeclaringType: localT,
		Name:          "Get",
		ReturnType:    metadata.TypeRef{Kind: metadata.TypeRefDef, Def: &metadata.Type{Namespace: "System", Name: "Int32"}},
	}
	localT.Methods = []*metadata.Method{realMethod}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}

	ref := metadata.MethodRef{
		Kind:          metadata.RefKindExternal,
		DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "Target", FullName: "N.T"}},
		Name:          "Get",
		ReturnType:    metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "mscorlib", FullName: "System.Int32"}},
	}

	got := SafeImportMethod(ref, target, nil)

	if got.Kind != metadata.RefKindDef || got.Def != realMethod {
		t.Fatalf("got %+v, want concrete definition reference to realMethod", got)
	}
}

func TestSafeImportMethod_NoChangeReturnsOriginal(t *testing.T) {
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target"}
	ref := metadata.MethodRef{
		Kind:          metadata.RefKindExternal,
		DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "mscorlib", FullName: "System.Console"}},
		Name:          "WriteLine",
	}
	got := SafeImportMethod(ref, target, nil)
	if got.DeclaringType.External.AssemblyName != "mscorlib" {
		t.Fatalf("expected reference untouched when nothing names target assembly, got %+v", got)
	}
}

func TestSafeImportField_PrefersLocalDefinition(t *testing.T) {
	localT := &metadata.Type{Namespace: "N", Name: "T"}
	realField := &metadata.Field{DeclaringType: localT, Name: "Flag"}
	localT.Fields = []*metadata.Field{realField}
	target := &metadata.Module{Name: "Target.dll", Assembly: "Target", Types: []*metadata.Type{localT}}

	ref := metadata.FieldRef{
		Kind:          metadata.RefKindExternal,
		DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{AssemblyName: "Target", FullName: "N.T"}},
		Name:          "Flag",
	}

	got := SafeImportField(ref, target, nil)
	if got.Kind != metadata.RefKindDef || got.Def != realField {
		t.Fatalf("got %+v, want concrete definition reference to realField", got)
	}
}
