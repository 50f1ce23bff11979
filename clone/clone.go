// Package clone implements the Method Body Cloner of spec.md §4.5: it
// copies a plug method's body into its matched target method, routing
// every operand that could name the plug's own module through the
// Reference Rewriter so the cloned body reads correctly from the
// target, and preserving a constructor's base-call prologue so the
// object is still correctly constructed before the plug body runs.
package clone

import (
	"github.com/cilplug/patcher/match"
	"github.com/cilplug/patcher/metadata"
	"github.com/cilplug/patcher/perr"
	"github.com/cilplug/patcher/rewrite"
)

// PatchMethod clones plug's body into target, per spec.md §4.5.
// instancePlug is the Member Matcher's verdict on whether plug uses
// the aThis receiver convention against target (match.MethodMatch.InstancePlug).
func PatchMethod(target, plug *metadata.Method, instancePlug bool, targetModule *metadata.Module, warn rewrite.Warner) error {
	if plug.Body == nil {
		return perr.Newf(perr.CloneFailure, "plug method %s has no body to clone", plug.Name)
	}

	splice := (instancePlug && !target.IsStatic()) || target.IsConstructor()

	prologueLen := preserveOrClearBody(target, splice)

	instanceShift := instancePlug && !target.IsStatic()

	cloneLocals(target, plug, targetModule, warn)

	mapping, err := cloneInstructions(target, plug, instanceShift, targetModule, warn)
	if err != nil {
		return err
	}

	if err := fixupBranches(target, plug, prologueLen, mapping); err != nil {
		return err
	}

	if !splice {
		cloneExceptionRegions(target, plug, mapping, targetModule, warn)
	}

	target.Body.MaxStack = plug.Body.MaxStack
	target.Body.InitLocals = plug.Body.InitLocals

	if target.HasPInvoke() {
		target.ClearPInvoke()
	}

	ensureReturn(target)

	return nil
}

// preserveOrClearBody implements spec.md §4.5 step 1. In splice mode
// on a constructor it scans the target's existing body for the call
// to a base or chained instance constructor and truncates everything
// after it; if no such call is found, or the target isn't a
// constructor, the body is cleared entirely. It returns the number of
// preserved prologue instructions (0 when nothing was preserved).
func preserveOrClearBody(target *metadata.Method, splice bool) int {
	if target.Body == nil {
		target.Body = &metadata.Body{}
		return 0
	}
	if splice && target.IsInstanceCtor() {
		if idx, found := findBaseCtorCall(target); found {
			target.Body.Instructions = target.Body.Instructions[:idx+1]
			return idx + 1
		}
	}
	target.Body.Instructions = nil
	return 0
}

// findBaseCtorCall locates a call instruction invoking ".ctor" on
// target's declaring type or its base type, the shape spec.md §4.5
// step 1 preserves when present.
func findBaseCtorCall(target *metadata.Method) (int, bool) {
	declType := target.DeclaringType
	for i, instr := range target.Body.Instructions {
		if instr.OpCode != metadata.OpCall {
			continue
		}
		ref := instr.Operand.Method
		name := ref.Name
		var declaring *metadata.Type
		if ref.Kind == metadata.RefKindDef && ref.Def != nil {
			name = ref.Def.Name
			declaring = ref.Def.DeclaringType
		} else if ref.DeclaringType.Kind == metadata.TypeRefDef {
			declaring = ref.DeclaringType.Def
		}
		if name != metadata.CtorName {
			continue
		}
		if declType != nil && (declaring == declType || (declType.BaseType != nil && declaring == declType.BaseType.Def)) {
			return i, true
		}
	}
	return 0, false
}

// cloneLocals implements spec.md §4.5 step 3: clear the target's
// local list and append a rerouted copy of every plug local.
func cloneLocals(target, plug *metadata.Method, targetModule *metadata.Module, warn rewrite.Warner) {
	locals := make([]metadata.Local, len(plug.Body.Locals))
	for i, l := range plug.Body.Locals {
		locals[i] = metadata.Local{
			Type:   rewrite.SafeImportType(l.Type, targetModule, warn),
			Name:   l.Name,
			Pinned: l.Pinned,
		}
	}
	target.Body.Locals = locals
}

// cloneInstructions implements spec.md §4.5 step 4: walk the plug's
// instruction stream once, appending a rewritten clone of each to the
// target body, and returns the plug-instruction-to-clone map the
// branch fixup pass needs.
func cloneInstructions(target, plug *metadata.Method, instanceShift bool, targetModule *metadata.Module, warn rewrite.Warner) (map[*metadata.Instruction]*metadata.Instruction, error) {
	mapping := make(map[*metadata.Instruction]*metadata.Instruction, len(plug.Body.Instructions))
	for _, instr := range plug.Body.Instructions {
		clone := &metadata.Instruction{OpCode: instr.OpCode}
		operand, err := rewriteOperand(instr.Operand, target, instanceShift, targetModule, warn)
		if err != nil {
			return nil, err
		}
		clone.Operand = operand
		target.Body.Append(clone)
		mapping[instr] = clone
	}
	return mapping, nil
}

// rewriteOperand dispatches one instruction's operand through the
// appropriate Reference Rewriter call or Parameter Remap rule, per
// spec.md §4.5 step 4's per-kind table. Branch targets and switch
// tables are left as placeholders; fixupBranches resolves them once
// every instruction has a clone.
func rewriteOperand(op metadata.Operand, target *metadata.Method, instanceShift bool, targetModule *metadata.Module, warn rewrite.Warner) (metadata.Operand, error) {
	switch op.Kind {
	case metadata.OperandMethod:
		op.Method = rewrite.SafeImportMethod(op.Method, targetModule, warn)
	case metadata.OperandField:
		op.Field = rewrite.SafeImportField(op.Field, targetModule, warn)
	case metadata.OperandType:
		op.Type = rewrite.SafeImportType(op.Type, targetModule, warn)
	case metadata.OperandParam:
		op = remapParamOperand(op, target, instanceShift, warn)
	case metadata.OperandBranchTarget, metadata.OperandSwitchTable:
		// resolved by fixupBranches once all instructions are cloned.
	default:
		// immediates, strings, call-site descriptors, and local
		// references carry through unchanged.
	}
	return op, nil
}

// remapParamOperand implements the Parameter Remap rule spec.md §4.5
// and §9 describe: with an instance shift in effect, plug parameter 0
// (the synthetic aThis receiver) becomes the target's own implicit
// receiver (argument slot 0), and plug parameter k>0 becomes target
// parameter k-1. Otherwise plug parameter k becomes target parameter
// k directly. A parameter index with no corresponding target slot
// keeps its original (plug-relative) reference and raises a warning,
// per the Open Question resolution recorded in DESIGN.md.
func remapParamOperand(op metadata.Operand, target *metadata.Method, instanceShift bool, warn rewrite.Warner) metadata.Operand {
	k := op.ParamIndex
	if instanceShift {
		if k == 0 {
			return metadata.Operand{Kind: metadata.OperandParam, ParamIndex: 0}
		}
		return metadata.Operand{Kind: metadata.OperandParam, ParamIndex: k - 1}
	}
	if int(k) < len(target.Params) {
		return metadata.Operand{Kind: metadata.OperandParam, ParamIndex: k}
	}
	if warn != nil {
		warn.Warnf("parameter remap: plug parameter %d has no corresponding slot on target %s (%d parameters); keeping original reference",
			k, target.Name, len(target.Params))
	}
	return op
}

// fixupBranches implements spec.md §4.5 step 5: walk the plug's
// instruction stream a second time, alongside the newly appended
// clones at the matching offset, and resolve every branch target or
// switch table entry through the mapping built while cloning.
func fixupBranches(target, plug *metadata.Method, prologueLen int, mapping map[*metadata.Instruction]*metadata.Instruction) error {
	for i, src := range plug.Body.Instructions {
		dst := target.Body.Instructions[prologueLen+i]
		switch src.Operand.Kind {
		case metadata.OperandBranchTarget:
			resolved, ok := mapping[src.Operand.BranchTarget]
			if !ok {
				return perr.Newf(perr.CloneFailure, "branch target of %s at plug offset %d does not resolve to a cloned instruction", src.OpCode, i)
			}
			dst.Operand.BranchTarget = resolved

		case metadata.OperandSwitchTable:
			targets := make([]*metadata.Instruction, len(src.Operand.SwitchTargets))
			for j, t := range src.Operand.SwitchTargets {
				resolved, ok := mapping[t]
				if !ok {
					return perr.Newf(perr.CloneFailure, "switch target %d at plug offset %d does not resolve to a cloned instruction", j, i)
				}
				targets[j] = resolved
			}
			dst.Operand.SwitchTargets = targets
		}
	}
	return nil
}

// cloneExceptionRegions implements spec.md §4.5 step 6: full-swap
// mode only, clear and rebuild the exception region list from the
// plug's, routing caught-exception types through the Reference
// Rewriter and positions through the instruction mapping.
func cloneExceptionRegions(target, plug *metadata.Method, mapping map[*metadata.Instruction]*metadata.Instruction, targetModule *metadata.Module, warn rewrite.Warner) {
	regions := make([]metadata.ExceptionRegion, len(plug.Body.ExceptionRegions))
	for i, r := range plug.Body.ExceptionRegions {
		out := metadata.ExceptionRegion{
			Kind:         r.Kind,
			TryStart:     mapping[r.TryStart],
			TryEnd:       mapping[r.TryEnd],
			HandlerStart: mapping[r.HandlerStart],
			HandlerEnd:   mapping[r.HandlerEnd],
		}
		if r.Kind == metadata.HandlerFilter {
			out.FilterStart = mapping[r.FilterStart]
		}
		if r.Kind == metadata.HandlerCatch && r.CaughtType != nil {
			rewritten := rewrite.SafeImportType(*r.CaughtType, targetModule, warn)
			out.CaughtType = &rewritten
		}
		regions[i] = out
	}
	target.Body.ExceptionRegions = regions
}

// ensureReturn implements spec.md §4.5 step 9: a cloned body must end
// in a return instruction even when the plug's own last instruction
// doesn't (e.g. a void plug method relying on implicit fallthrough).
func ensureReturn(target *metadata.Method) {
	last := target.Body.LastInstruction()
	if last != nil && last.OpCode.IsReturn() {
		return
	}
	target.Body.Append(metadata.NewInstruction(metadata.OpRet))
}

// MatchToPatch adapts a match.MethodMatch into the PatchMethod call
// the Patch Orchestrator makes once the Member Matcher has bound a
// plug method to its target.
func MatchToPatch(m match.MethodMatch, plug *metadata.Method, targetModule *metadata.Module, warn rewrite.Warner) error {
	return PatchMethod(m.Target, plug, m.InstancePlug, targetModule, warn)
}
