// Package match implements the Member Matcher (spec.md §4.4): binding
// a plug member to the target member it replaces, by name-plus-
// signature rules, including the instance-plug "aThis" convention.
package match

import (
	"fmt"

	"github.com/cilplug/patcher/metadata"
)

// PlugMemberAttribute is the full name of the plug-member attribute
// (spec.md §6): it carries an optional Target/TargetName argument
// overriding the annotated member's own name.
const PlugMemberAttribute = "Cosmos.PlugMember"

// aThisParamName is the synthetic first-parameter name spec.md §4.4
// and §6 use to mark a static plug method as an instance plug.
const aThisParamName = "aThis"

// TargetName resolves a plug member's declared target name: the
// named Target or TargetName argument of the plug-member attribute if
// present, else the member's own name.
func TargetName(attrs []metadata.CustomAttribute, ownName string) string {
	for _, attr := range attrs {
		if attr.Constructor.DeclaringType.FullName() != PlugMemberAttribute {
			continue
		}
		for _, named := range attr.NamedArgs {
			if named.Name != "Target" && named.Name != "TargetName" {
				continue
			}
			if s, ok := named.Value.(string); ok && s != "" {
				return s
			}
		}
	}
	return ownName
}

// IsInstancePlug reports whether m is a static plug method whose
// first parameter is literally named "aThis" — the synthetic receiver
// convention of spec.md §4.4/§6.
func IsInstancePlug(m *metadata.Method) bool {
	if !m.IsStatic() {
		return false
	}
	if len(m.Params) == 0 {
		return false
	}
	return m.Params[0].Name == aThisParamName
}

// plugParams returns the plug method's logical target-facing
// parameter list, dropping the synthetic aThis receiver if present.
func plugParams(m *metadata.Method, instancePlug bool) []metadata.Param {
	if instancePlug {
		return m.Params[1:]
	}
	return m.Params
}

// signatureMatches compares two parameter lists element-wise by
// type full name, per spec.md §4.4's "element-wise equality of
// parameter-type full names."
func signatureMatches(target, plug []metadata.Param) bool {
	if len(target) != len(plug) {
		return false
	}
	for i := range target {
		if target[i].Type.FullName() != plug[i].Type.FullName() {
			return false
		}
	}
	return true
}

// MethodCandidate describes one same-name target method considered
// (and rejected) while matching, for the diagnostic spec.md §4.4
// requires on failure.
type MethodCandidate struct {
	Method *metadata.Method
	Arity  int
	Static bool
}

// MethodMatch is the outcome of MatchMethod.
type MethodMatch struct {
	Target       *metadata.Method
	InstancePlug bool
}

// MatchMethod finds the target method plugMethod replaces, on
// targetType. It implements spec.md §4.4's full method-matching
// policy: name resolution (with Ctor/CCtor as reserved names), the
// instance-plug arity shift, element-wise signature comparison, the
// CCtor-must-be-static rule, and first-match-wins tie resolution.
//
// On success, ok is true. On failure, ok is false and candidates lists
// every same-name target method, for the diagnostic spec.md §4.4
// requires.
func MatchMethod(targetType *metadata.Type, plugMethod *metadata.Method, plugAttrs []metadata.CustomAttribute) (match MethodMatch, candidates []MethodCandidate, ok bool) {
	name := TargetName(plugAttrs, plugMethod.Name)
	instancePlug := IsInstancePlug(plugMethod)
	wantParams := plugParams(plugMethod, instancePlug)

	// The reserved plug-method names Ctor and CCtor stand for the
	// target's instance and static constructors.
	switch name {
	case "Ctor":
		name = metadata.CtorName
	case "CCtor":
		name = metadata.CCtorName
	}

	switch name {
	case metadata.CCtorName:
		for _, tm := range targetType.Methods {
			if tm.Name != metadata.CCtorName {
				continue
			}
			candidates = append(candidates, MethodCandidate{tm, len(tm.Params), tm.IsStatic()})
			if !tm.IsStatic() {
				continue
			}
			if signatureMatches(tm.Params, wantParams) {
				return MethodMatch{Target: tm, InstancePlug: instancePlug}, nil, true
			}
		}
		return MethodMatch{}, candidates, false

	case metadata.CtorName:
		for _, tm := range targetType.Methods {
			if tm.Name != metadata.CtorName {
				continue
			}
			candidates = append(candidates, MethodCandidate{tm, len(tm.Params), tm.IsStatic()})
			if signatureMatches(tm.Params, wantParams) {
				return MethodMatch{Target: tm, InstancePlug: instancePlug}, nil, true
			}
		}
		return MethodMatch{}, candidates, false

	default:
		for _, tm := range targetType.Methods {
			if tm.Name != name {
				continue
			}
			candidates = append(candidates, MethodCandidate{tm, len(tm.Params), tm.IsStatic()})
			if signatureMatches(tm.Params, wantParams) {
				return MethodMatch{Target: tm, InstancePlug: instancePlug}, nil, true
			}
		}
		return MethodMatch{}, candidates, false
	}
}

// FormatCandidates renders the same-name-candidate diagnostic spec.md
// §4.4 requires on a failed match.
func FormatCandidates(name string, candidates []MethodCandidate) string {
	if len(candidates) == 0 {
		return fmt.Sprintf("no target member named %q", name)
	}
	out := fmt.Sprintf("no matching overload of %q among %d candidate(s):", name, len(candidates))
	for _, c := range candidates {
		kind := "instance"
		if c.Static {
			kind = "static"
		}
		out += fmt.Sprintf(" [%s, arity=%d]", kind, c.Arity)
	}
	return out
}

// MatchProperty finds the property on targetType matching plugProp's
// resolved name. spec.md §4.4 requires both a getter and a setter to
// be present on the target for the engine to proceed; MatchProperty
// reports ok=false if either is missing.
func MatchProperty(targetType *metadata.Type, plugProp *metadata.Property, plugAttrs []metadata.CustomAttribute) (target *metadata.Property, ok bool) {
	name := TargetName(plugAttrs, plugProp.Name)
	target = targetType.FindProperty(name)
	if target == nil {
		return nil, false
	}
	if target.Getter == nil || target.Setter == nil {
		return nil, false
	}
	return target, true
}

// MatchField finds the field on targetType matching plugField's
// resolved name.
func MatchField(targetType *metadata.Type, plugField *metadata.Field, plugAttrs []metadata.CustomAttribute) (target *metadata.Field, ok bool) {
	name := TargetName(plugAttrs, plugField.Name)
	target = targetType.FindField(name)
	return target, target != nil
}
