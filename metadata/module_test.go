package metadata

import "testing"

func TestFullName(t *testing.T) {
	tests := []struct {
		namespace, name, want string
	}{
		{"N", "T", "N.T"},
		{"", "T", "T"},
		{"A.B", "C", "A.B.C"},
	}
	for _, tt := range tests {
		if got := FullName(tt.namespace, tt.name); got != tt.want {
			t.Errorf("FullName(%q, %q) = %q, want %q", tt.namespace, tt.name, got, tt.want)
		}
	}
}

func TestModuleFindType(t *testing.T) {
	m := &Module{Name: "Target.dll", Assembly: "Target"}
	want := &Type{Module: m, Namespace: "N", Name: "T"}
	m.Types = append(m.Types, want, &Type{Module: m, Namespace: "N", Name: "U"})

	if got := m.FindType("N.T"); got != want {
		t.Errorf("FindType(%q) = %v, want %v", "N.T", got, want)
	}
	if got := m.FindType("N.Missing"); got != nil {
		t.Errorf("FindType(missing) = %v, want nil", got)
	}
}

func TestPurgeSelfReferences(t *testing.T) {
	m := &Module{Name: "Target.dll", Assembly: "Target"}
	m.ExternalRefs = []*ExternalModuleRef{
		{AssemblyName: "mscorlib"},
		{AssemblyName: "Target"},
		{AssemblyName: "Plugs"},
	}

	if !m.HasSelfReference() {
		t.Fatal("expected HasSelfReference to be true before purge")
	}

	m.PurgeSelfReferences()

	if m.HasSelfReference() {
		t.Fatal("expected no self reference after purge")
	}
	if len(m.ExternalRefs) != 2 {
		t.Fatalf("got %d external refs after purge, want 2", len(m.ExternalRefs))
	}
	for _, ref := range m.ExternalRefs {
		if ref.AssemblyName == "Target" {
			t.Fatalf("self reference %v survived purge", ref)
		}
	}
}

func TestMethodPredicates(t *testing.T) {
	ctor := &Method{Name: CtorName}
	cctor := &Method{Name: CCtorName, Attributes: MethodAttrStatic}
	plain := &Method{Name: "Add", Attributes: MethodAttrStatic}

	if !ctor.IsConstructor() || !ctor.IsInstanceCtor() || ctor.IsStaticCtor() {
		t.Errorf("ctor predicates wrong: %+v", ctor)
	}
	if !cctor.IsConstructor() || cctor.IsInstanceCtor() || !cctor.IsStaticCtor() {
		t.Errorf("cctor predicates wrong: %+v", cctor)
	}
	if plain.IsConstructor() {
		t.Errorf("plain method misidentified as constructor")
	}
	if !plain.IsStatic() {
		t.Errorf("plain method should be static")
	}
}

func TestClearPInvoke(t *testing.T) {
	m := &Method{
		Attributes: MethodAttrStatic | MethodAttrPInvokeImpl,
		ImplAttrs:  ImplPreserveSig | ImplInternalCall | ImplNative | ImplUnmanaged | ImplRuntime,
		PInvoke:    &PInvokeStub{ModuleRefName: "kernel32.dll"},
	}

	if !m.HasPInvoke() {
		t.Fatal("expected HasPInvoke before clearing")
	}

	m.ClearPInvoke()

	if m.HasPInvoke() {
		t.Fatal("expected HasPInvoke false after clearing")
	}
	if m.Attributes&MethodAttrPInvokeImpl != 0 {
		t.Error("PInvokeImpl flag survived ClearPInvoke")
	}
	if m.ImplAttrs != 0 {
		t.Errorf("ImplAttrs = %b, want 0 after ClearPInvoke", m.ImplAttrs)
	}
	if m.PInvoke != nil {
		t.Error("PInvoke stub survived ClearPInvoke")
	}
	if m.Attributes&MethodAttrStatic == 0 {
		t.Error("ClearPInvoke must not clear unrelated attribute bits")
	}
}
