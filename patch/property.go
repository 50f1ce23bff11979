package patch

import (
	"github.com/cilplug/patcher/clone"
	"github.com/cilplug/patcher/metadata"
	"github.com/cilplug/patcher/perr"
	"github.com/cilplug/patcher/rewrite"
)

// PatchProperty implements spec.md §4.6's property patcher: it clones
// the plug's getter and setter bodies into the target property's
// accessors via the Method Body Cloner, then retargets any access to
// the plug's own backing field — detected as the first field load in
// its getter, the bytecode shape a compiler-generated property
// backing field always produces — so the cloned accessors read and
// write the target's own backing field instead.
func PatchProperty(target, plug *metadata.Property, targetModule *metadata.Module, warn rewrite.Warner) error {
	if target.Getter == nil || target.Setter == nil {
		return perr.Newf(perr.TargetMemberMissing, "target property %s is missing a getter or setter", target.Name)
	}

	target.Type = rewrite.SafeImportType(plug.Type, targetModule, warn)

	targetBacking := backingField(target.Getter)
	plugBacking := backingField(plug.Getter)

	if err := clone.PatchMethod(target.Getter, plug.Getter, false, targetModule, warn); err != nil {
		return perr.Wrap(perr.CloneFailure, "cloning getter of property "+plug.Name, err)
	}
	if plug.Setter != nil {
		if err := clone.PatchMethod(target.Setter, plug.Setter, false, targetModule, warn); err != nil {
			return perr.Wrap(perr.CloneFailure, "cloning setter of property "+plug.Name, err)
		}
	}

	if targetBacking != nil && plugBacking != nil {
		retargetBackingField(target.Getter, plugBacking, targetBacking)
		retargetBackingField(target.Setter, plugBacking, targetBacking)
	}

	return nil
}

// backingField returns the field the first ldfld/ldsfld in getter's
// body loads, or nil if getter has no body, is empty, or its first
// field access is an external (unresolved) reference.
func backingField(getter *metadata.Method) *metadata.Field {
	if getter == nil || getter.Body == nil {
		return nil
	}
	for _, instr := range getter.Body.Instructions {
		if instr.OpCode == metadata.OpLdfld || instr.OpCode == metadata.OpLdsfld {
			if instr.Operand.Field.Kind == metadata.RefKindDef {
				return instr.Operand.Field.Def
			}
			return nil
		}
	}
	return nil
}

// retargetBackingField rewrites every field access in method's body
// that names from into one naming to, correcting the static/instance
// opcode variant (ldfld/ldsfld, stfld/stsfld, ldflda/ldsflda) to match
// to's own static-ness.
func retargetBackingField(method *metadata.Method, from, to *metadata.Field) {
	if method == nil || method.Body == nil {
		return
	}
	toStatic := to.IsStatic()
	for _, instr := range method.Body.Instructions {
		switch instr.OpCode {
		case metadata.OpLdfld, metadata.OpLdsfld, metadata.OpStfld, metadata.OpStsfld, metadata.OpLdflda, metadata.OpLdsflda:
		default:
			continue
		}
		if instr.Operand.Field.Kind != metadata.RefKindDef || instr.Operand.Field.Def != from {
			continue
		}
		instr.Operand.Field = metadata.FieldRef{Kind: metadata.RefKindDef, Def: to}
		instr.OpCode = correctFieldOpcode(instr.OpCode, toStatic)
	}
}

func correctFieldOpcode(op metadata.OpCode, static bool) metadata.OpCode {
	switch op {
	case metadata.OpLdfld, metadata.OpLdsfld:
		if static {
			return metadata.OpLdsfld
		}
		return metadata.OpLdfld
	case metadata.OpStfld, metadata.OpStsfld:
		if static {
			return metadata.OpStsfld
		}
		return metadata.OpStfld
	case metadata.OpLdflda, metadata.OpLdsflda:
		if static {
			return metadata.OpLdsflda
		}
		return metadata.OpLdflda
	default:
		return op
	}
}
