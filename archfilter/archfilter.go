// Package archfilter decides whether a plug type or member is
// included for a given target-architecture selector, per spec.md
// §4.1. The decision rests on a single custom attribute carrying a
// bitmask of allowed architectures; the filter is pure and total, as
// the spec requires, so it can run both up front (Plug Scanner) and
// again per member (Orchestrator) without side effects.
package archfilter

import "github.com/cilplug/patcher/metadata"

// Architecture is the build's target-architecture selector.
type Architecture uint8

const (
	Any Architecture = iota
	X64
	ARM64
	RISCV64
)

// Bit positions used by the platform-specific attribute's
// Architecture bitmask, per spec.md §6.
const (
	bitX64 = 1 << iota
	bitARM64
	bitRISCV64
)

func (a Architecture) bit() uint32 {
	switch a {
	case X64:
		return bitX64
	case ARM64:
		return bitARM64
	case RISCV64:
		return bitRISCV64
	default:
		return 0
	}
}

// PlatformSpecificAttribute is the full name by which the
// platform-specific attribute (spec.md §6) is recognized. The engine
// never depends on which assembly declares it, only on this name.
const PlatformSpecificAttribute = "Cosmos.PlatformSpecific"

// architectureMask extracts the named Architecture argument from a
// platform-specific attribute, if attrs carries one. The second
// return reports whether such an attribute was found at all; its
// absence means "platform-agnostic, include" per spec.md §4.1.
func architectureMask(attrs []metadata.CustomAttribute) (uint32, bool) {
	for _, attr := range attrs {
		if attr.Constructor.DeclaringType.FullName() != PlatformSpecificAttribute {
			continue
		}
		for _, named := range attr.NamedArgs {
			if named.Name != "Architecture" {
				continue
			}
			switch v := named.Value.(type) {
			case uint32:
				return v, true
			case int:
				return uint32(v), true
			case int64:
				return uint32(v), true
			}
			return 0, true
		}
		// Attribute present with no Architecture argument: treat as
		// "all architectures", i.e. a full mask that intersects every
		// selector, so the item is included. Conservatively include,
		// since an attribute author who forgot the argument almost
		// certainly didn't intend to exclude every build.
		return 0xFFFFFFFF, true
	}
	return 0, false
}

// Include decides inclusion for a type or member, given its own
// custom attributes and — for a member — the type-level decision to
// fall back on when the member itself carries no attribute. Pass
// typeDecision=true when called for a type itself (there is no
// parent decision to inherit).
func Include(selector Architecture, attrs []metadata.CustomAttribute, typeDecision bool) bool {
	if selector == Any {
		return true
	}

	mask, present := architectureMask(attrs)
	if !present {
		return typeDecision
	}
	return mask&selector.bit() != 0
}

// IncludeType decides inclusion for a type: there is no parent
// decision, so an absent attribute always means "include".
func IncludeType(selector Architecture, t *metadata.Type) bool {
	return Include(selector, t.CustomAttributes, true)
}

// IncludeMember decides inclusion for a member, defaulting to
// typeIncluded when the member carries no platform-specific attribute
// of its own.
func IncludeMember(selector Architecture, attrs []metadata.CustomAttribute, typeIncluded bool) bool {
	return Include(selector, attrs, typeIncluded)
}
