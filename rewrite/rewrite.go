// Package rewrite implements the "safe import" Reference Rewriter of
// spec.md §4.3: given a type, method, or field reference sourced from
// a plug module, it produces a reference valid in the target module,
// recursively substituting any leaf that names the target module's
// own assembly with a direct local type definition. Cross-module
// import blindly produces external-assembly references; left alone,
// a plug that happens to mention the target assembly would leave the
// target module referencing itself, which most runtimes reject as an
// invalid token.
package rewrite

import "github.com/cilplug/patcher/metadata"

// Warner receives the non-fatal warning spec.md §4.3 step 2 calls for
// when a self-referencing leaf has no corresponding local definition.
// *github.com/go-kratos/kratos/v2/log.Helper satisfies this.
type Warner interface {
	Warnf(format string, args ...any)
}

// SafeImportType rewrites ref so it is valid when read from target,
// per spec.md §4.3.
func SafeImportType(ref metadata.TypeRef, target *metadata.Module, warn Warner) metadata.TypeRef {
	out, _ := safeImportType(ref, target, warn)
	return out
}

// safeImportType returns the rewritten reference and whether any
// substitution occurred, so composite callers only reconstruct a
// fresh reference when something beneath them actually changed (spec
// §4.3 step 3: "If any substitution occurred...").
func safeImportType(ref metadata.TypeRef, target *metadata.Module, warn Warner) (metadata.TypeRef, bool) {
	switch ref.Kind {
	case metadata.TypeRefExternal:
		if ref.External.AssemblyName == "" || ref.External.AssemblyName != target.Assembly {
			return ref, false
		}
		if def := target.FindType(ref.External.FullName); def != nil {
			return metadata.TypeRef{Kind: metadata.TypeRefDef, Def: def}, true
		}
		if warn != nil {
			warn.Warnf("safe-import: %s names %s's own assembly but has no local definition; leaving external reference unchanged",
				ref.External.FullName, target.Assembly)
		}
		return ref, false

	case metadata.TypeRefArray, metadata.TypeRefPointer, metadata.TypeRefByRef:
		if ref.Elem == nil {
			return ref, false
		}
		elem, changed := safeImportType(*ref.Elem, target, warn)
		if !changed {
			return ref, false
		}
		out := ref
		out.Elem = &elem
		return out, true

	case metadata.TypeRefGenericInstance:
		out := ref
		changedAny := false
		if ref.Elem != nil {
			elem, changed := safeImportType(*ref.Elem, target, warn)
			if changed {
				out.Elem = &elem
				changedAny = true
			}
		}
		if len(ref.GenericArgs) > 0 {
			newArgs := make([]metadata.TypeRef, len(ref.GenericArgs))
			copy(newArgs, ref.GenericArgs)
			argChanged := false
			for i, a := range ref.GenericArgs {
				na, changed := safeImportType(a, target, warn)
				if changed {
					newArgs[i] = na
					argChanged = true
				}
			}
			if argChanged {
				out.GenericArgs = newArgs
				changedAny = true
			}
		}
		return out, changedAny

	case metadata.TypeRefDef:
		// Baseline cross-module import (spec §4.3 step 1): a Def
		// sourced from the plug module's own graph is only valid
		// read from that module. Turn it into an external reference
		// naming its owning assembly, then let the TypeRefExternal
		// case above decide whether that assembly is actually
		// target's own (the self-reference substitution).
		if ref.Def == nil || ref.Def.Module == nil || ref.Def.Module == target {
			return ref, false
		}
		ext := metadata.TypeRef{
			Kind: metadata.TypeRefExternal,
			External: metadata.ExternalRef{
				AssemblyName: ref.Def.Module.Assembly,
				FullName:     ref.Def.FullName(),
			},
		}
		out, _ := safeImportType(ext, target, warn)
		return out, true

	default:
		// TypeRefGenericParam names a parameter position, not an
		// assembly; it never needs rewriting.
		return ref, false
	}
}

func paramsFullNamesMatch(a, b []metadata.TypeRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].FullName() != b[i].FullName() {
			return false
		}
	}
	return true
}

// SafeImportMethod rewrites a method reference per spec.md §4.3: it
// recurses into the declaring type, return type, parameter types, and
// generic arguments, and — if anything changed — prefers a concrete
// method definition on the (now local) declaring type when the
// signature matches exactly, falling back to a freshly constructed
// reference otherwise.
func SafeImportMethod(ref metadata.MethodRef, target *metadata.Module, warn Warner) metadata.MethodRef {
	rebuilt := false
	if ref.Kind == metadata.RefKindDef && ref.Def != nil && ref.Def.DeclaringType != nil &&
		ref.Def.DeclaringType.Module != nil && ref.Def.DeclaringType.Module != target {
		ref = externalMethodRef(ref.Def)
		rebuilt = true
	}

	declType, declChanged := safeImportType(ref.DeclaringType, target, warn)
	retType, retChanged := safeImportType(ref.ReturnType, target, warn)

	params := ref.Params
	paramsChanged := false
	if len(ref.Params) > 0 {
		newParams := make([]metadata.TypeRef, len(ref.Params))
		copy(newParams, ref.Params)
		for i, p := range ref.Params {
			np, changed := safeImportType(p, target, warn)
			if changed {
				newParams[i] = np
				paramsChanged = true
			}
		}
		if paramsChanged {
			params = newParams
		}
	}

	genArgs := ref.GenericArgs
	genChanged := false
	if len(ref.GenericArgs) > 0 {
		newGen := make([]metadata.TypeRef, len(ref.GenericArgs))
		copy(newGen, ref.GenericArgs)
		for i, g := range ref.GenericArgs {
			ng, changed := safeImportType(g, target, warn)
			if changed {
				newGen[i] = ng
				genChanged = true
			}
		}
		if genChanged {
			genArgs = newGen
		}
	}

	if !rebuilt && !declChanged && !retChanged && !paramsChanged && !genChanged {
		return ref
	}

	name := ref.Name
	if ref.Kind == metadata.RefKindDef && ref.Def != nil {
		name = ref.Def.Name
	}

	if declType.Kind == metadata.TypeRefDef && declType.Def != nil {
		for _, m := range declType.Def.Methods {
			if m.Name == name && paramsFullNamesMatch(methodParamTypes(m), params) {
				return metadata.MethodRef{Kind: metadata.RefKindDef, Def: m}
			}
		}
	}

	return metadata.MethodRef{
		Kind:          metadata.RefKindExternal,
		External:      ref.External,
		DeclaringType: declType,
		Name:          name,
		ReturnType:    retType,
		Params:        params,
		GenericArgs:   genArgs,
	}
}

func methodParamTypes(m *metadata.Method) []metadata.TypeRef {
	out := make([]metadata.TypeRef, len(m.Params))
	for i, p := range m.Params {
		out[i] = p.Type
	}
	return out
}

// externalMethodRef is the method-reference counterpart of the
// TypeRefDef baseline import in safeImportType: a Def sourced from
// the plug module's own graph is rebuilt as an external reference
// naming its declaring type's owning assembly, so it can no longer be
// mistaken for a reference that is already valid inside target.
func externalMethodRef(m *metadata.Method) metadata.MethodRef {
	return metadata.MethodRef{
		Kind: metadata.RefKindExternal,
		External: metadata.ExternalRef{
			AssemblyName: m.DeclaringType.Module.Assembly,
			FullName:     m.DeclaringType.FullName() + "::" + m.Name,
		},
		DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: m.DeclaringType},
		Name:          m.Name,
		ReturnType:    m.ReturnType,
		Params:        methodParamTypes(m),
	}
}

// externalFieldRef mirrors externalMethodRef for fields.
func externalFieldRef(f *metadata.Field) metadata.FieldRef {
	return metadata.FieldRef{
		Kind: metadata.RefKindExternal,
		External: metadata.ExternalRef{
			AssemblyName: f.DeclaringType.Module.Assembly,
			FullName:     f.DeclaringType.FullName() + "::" + f.Name,
		},
		DeclaringType: metadata.TypeRef{Kind: metadata.TypeRefDef, Def: f.DeclaringType},
		Name:          f.Name,
		FieldType:     f.Type,
	}
}

// SafeImportField rewrites a field reference per spec.md §4.3,
// mirroring SafeImportMethod's declaring-type-then-prefer-definition
// strategy.
func SafeImportField(ref metadata.FieldRef, target *metadata.Module, warn Warner) metadata.FieldRef {
	rebuilt := false
	if ref.Kind == metadata.RefKindDef && ref.Def != nil && ref.Def.DeclaringType != nil &&
		ref.Def.DeclaringType.Module != nil && ref.Def.DeclaringType.Module != target {
		ref = externalFieldRef(ref.Def)
		rebuilt = true
	}

	declType, declChanged := safeImportType(ref.DeclaringType, target, warn)
	fieldType, fieldChanged := safeImportType(ref.FieldType, target, warn)

	if !rebuilt && !declChanged && !fieldChanged {
		return ref
	}

	name := ref.Name
	if ref.Kind == metadata.RefKindDef && ref.Def != nil {
		name = ref.Def.Name
	}

	if declType.Kind == metadata.TypeRefDef && declType.Def != nil {
		if f := declType.Def.FindField(name); f != nil {
			return metadata.FieldRef{Kind: metadata.RefKindDef, Def: f}
		}
	}

	return metadata.FieldRef{
		Kind:          metadata.RefKindExternal,
		External:      ref.External,
		DeclaringType: declType,
		Name:          name,
		FieldType:     fieldType,
	}
}
