package patch

import (
	"github.com/cilplug/patcher/metadata"
	"github.com/cilplug/patcher/perr"
	"github.com/cilplug/patcher/rewrite"
)

// PatchField implements spec.md §4.6's field patcher: it copies the
// plug field's type and marshaling descriptor onto the matched target
// field, and — when the plug type's constructor carries a field
// initializer for it, recognized by the documented bytecode shape a
// compiler emits for `field = constant` ([ldarg.0,] load-constant,
// store-field) — splices an equivalent initializer into the target
// type's corresponding constructor, retargeted to the target field.
func PatchField(target, plugField *metadata.Field, targetModule *metadata.Module, warn rewrite.Warner) error {
	target.Type = rewrite.SafeImportType(plugField.Type, targetModule, warn)
	target.Marshal = plugField.Marshal

	init, ok := findFieldInitializer(plugField)
	if !ok {
		return nil
	}
	return spliceFieldInitializer(init, target, targetModule, warn)
}

// rewriteInitOperand routes a field initializer's value-producing
// operand through the Reference Rewriter, mirroring clone.rewriteOperand's
// per-kind dispatch for the one instruction this patcher constructs by
// hand rather than through the Method Body Cloner.
func rewriteInitOperand(op metadata.Operand, targetModule *metadata.Module, warn rewrite.Warner) metadata.Operand {
	switch op.Kind {
	case metadata.OperandType:
		op.Type = rewrite.SafeImportType(op.Type, targetModule, warn)
	case metadata.OperandField:
		op.Field = rewrite.SafeImportField(op.Field, targetModule, warn)
	case metadata.OperandMethod:
		op.Method = rewrite.SafeImportMethod(op.Method, targetModule, warn)
	}
	return op
}

type fieldInitializer struct {
	loadReceiver bool
	loadValue    *metadata.Instruction
}

// findFieldInitializer scans field's declaring type's constructor
// (the instance .ctor for an instance field, the .cctor for a static
// one) for the instruction sequence a compiler-emitted field
// initializer always produces: optionally `ldarg.0` for an instance
// field, then a value load, then a store to this exact field.
func findFieldInitializer(field *metadata.Field) (fieldInitializer, bool) {
	declType := field.DeclaringType
	if declType == nil {
		return fieldInitializer{}, false
	}
	ctorName := metadata.CtorName
	if field.IsStatic() {
		ctorName = metadata.CCtorName
	}
	for _, m := range declType.Methods {
		if m.Name != ctorName || m.Body == nil {
			continue
		}
		instrs := m.Body.Instructions
		for i, instr := range instrs {
			if instr.OpCode != metadata.OpStfld && instr.OpCode != metadata.OpStsfld {
				continue
			}
			if instr.Operand.Field.Kind != metadata.RefKindDef || instr.Operand.Field.Def != field {
				continue
			}
			if instr.OpCode == metadata.OpStsfld {
				if i < 1 {
					continue
				}
				return fieldInitializer{loadValue: instrs[i-1]}, true
			}
			if i < 2 || instrs[i-2].OpCode != metadata.OpLdarg0 {
				continue
			}
			return fieldInitializer{loadReceiver: true, loadValue: instrs[i-1]}, true
		}
	}
	return fieldInitializer{}, false
}

// spliceFieldInitializer installs init's value load as target's field
// initializer in target's declaring type's corresponding constructor.
// If that constructor already stores to target (it already initializes
// the field some other way), the existing value-producing instruction
// immediately before that store is replaced in place, so the old
// computation doesn't run alongside the new one; only when no such
// store exists does it append a fresh load-then-store pair just before
// the final return.
func spliceFieldInitializer(init fieldInitializer, target *metadata.Field, targetModule *metadata.Module, warn rewrite.Warner) error {
	declType := target.DeclaringType
	if declType == nil {
		return perr.New(perr.InvalidConstructorShape, "target field has no declaring type to splice an initializer into")
	}
	ctorName := metadata.CtorName
	if target.IsStatic() {
		ctorName = metadata.CCtorName
	}
	var ctor *metadata.Method
	for _, m := range declType.Methods {
		if m.Name == ctorName {
			ctor = m
			break
		}
	}
	if ctor == nil || ctor.Body == nil {
		return perr.Newf(perr.InvalidConstructorShape, "target type %s has no %s to splice a field initializer into", declType.FullName(), ctorName)
	}

	storeOp := metadata.OpStfld
	if target.IsStatic() {
		storeOp = metadata.OpStsfld
	}

	loadValue := &metadata.Instruction{
		OpCode:  init.loadValue.OpCode,
		Operand: rewriteInitOperand(init.loadValue.Operand, targetModule, warn),
	}

	instrs := ctor.Body.Instructions
	for i, instr := range instrs {
		if instr.OpCode != storeOp {
			continue
		}
		if instr.Operand.Field.Kind != metadata.RefKindDef || instr.Operand.Field.Def != target {
			continue
		}
		if i < 1 {
			continue
		}
		instrs[i-1] = loadValue
		return nil
	}

	insertAt := len(instrs)
	if last := ctor.Body.LastInstruction(); last != nil && last.OpCode.IsReturn() {
		insertAt--
	}

	spliced := make([]*metadata.Instruction, 0, 3)
	if init.loadReceiver {
		spliced = append(spliced, &metadata.Instruction{OpCode: metadata.OpLdarg0})
	}
	spliced = append(spliced, loadValue)
	spliced = append(spliced, &metadata.Instruction{
		OpCode:  storeOp,
		Operand: metadata.Operand{Kind: metadata.OperandField, Field: metadata.FieldRef{Kind: metadata.RefKindDef, Def: target}},
	})

	newInstrs := make([]*metadata.Instruction, 0, len(instrs)+len(spliced))
	newInstrs = append(newInstrs, instrs[:insertAt]...)
	newInstrs = append(newInstrs, spliced...)
	newInstrs = append(newInstrs, instrs[insertAt:]...)
	ctor.Body.Instructions = newInstrs
	return nil
}
