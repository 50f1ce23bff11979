package archfilter

import (
	"testing"

	"github.com/cilplug/patcher/metadata"
)

func platformAttr(mask uint32) metadata.CustomAttribute {
	return metadata.CustomAttribute{
		Constructor: metadata.MethodRef{
			DeclaringType: metadata.TypeRef{
				Kind: metadata.TypeRefDef,
				Def:  &metadata.Type{Namespace: "Cosmos", Name: "PlatformSpecific"},
			},
		},
		NamedArgs: []metadata.NamedAttributeArg{
			{Name: "Architecture", Value: mask},
		},
	}
}

func TestIncludeType_NoAttribute(t *testing.T) {
	ty := &metadata.Type{Namespace: "N", Name: "T"}
	for _, sel := range []Architecture{Any, X64, ARM64, RISCV64} {
		if !IncludeType(sel, ty) {
			t.Errorf("IncludeType(%v) = false for unmarked type, want true", sel)
		}
	}
}

func TestIncludeType_WithAttribute(t *testing.T) {
	tests := []struct {
		name     string
		mask     uint32
		selector Architecture
		want     bool
	}{
		{"x64-only/x64", bitX64, X64, true},
		{"x64-only/arm64", bitX64, ARM64, false},
		{"x64-only/any", bitX64, Any, true},
		{"x64+arm64/arm64", bitX64 | bitARM64, ARM64, true},
		{"x64+arm64/riscv64", bitX64 | bitARM64, RISCV64, false},
		{"riscv64/riscv64", bitRISCV64, RISCV64, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ty := &metadata.Type{Namespace: "N", Name: "T", CustomAttributes: []metadata.CustomAttribute{platformAttr(tt.mask)}}
			if got := IncludeType(tt.selector, ty); got != tt.want {
				t.Errorf("IncludeType(%v) with mask %b = %v, want %v", tt.selector, tt.mask, got, tt.want)
			}
		})
	}
}

func TestIncludeMember_FallsBackToType(t *testing.T) {
	// Member carries no attribute of its own: it must inherit the
	// type-level decision rather than defaulting to "always include".
	if IncludeMember(X64, nil, false) {
		t.Error("member with no attribute should inherit false type decision")
	}
	if !IncludeMember(X64, nil, true) {
		t.Error("member with no attribute should inherit true type decision")
	}
}

func TestIncludeMember_OwnAttributeOverridesType(t *testing.T) {
	attrs := []metadata.CustomAttribute{platformAttr(bitARM64)}
	// Type says "included" but the member is arm64-only; selector x64
	// must exclude it regardless of the type's inherited decision.
	if IncludeMember(X64, attrs, true) {
		t.Error("member's own arm64-only attribute should override type-level inclusion")
	}
	if !IncludeMember(ARM64, attrs, false) {
		t.Error("member's own arm64 attribute should override type-level exclusion")
	}
}
