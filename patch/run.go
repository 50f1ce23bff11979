// Package patch implements the property and field patchers (spec.md
// §4.6) and the Patch Orchestrator (spec.md §4.7) that drives the
// whole engine: it asks the Plug Scanner for the target-to-plug-types
// mapping, walks each claimed target type's members through the
// Architecture Filter and Member Matcher, and dispatches to the
// Method Body Cloner or the property/field patchers above, containing
// errors at the scope spec.md §7 assigns each error kind.
package patch

import (
	"sort"

	"github.com/cilplug/patcher/archfilter"
	"github.com/cilplug/patcher/clone"
	"github.com/cilplug/patcher/match"
	"github.com/cilplug/patcher/metadata"
	"github.com/cilplug/patcher/perr"
	"github.com/cilplug/patcher/plugscan"
	"github.com/cilplug/patcher/rewrite"
)

// Report summarizes one Run: every member successfully patched, and
// every non-fatal diagnostic raised along the way.
type Report struct {
	PatchedMethods    []string
	PatchedProperties []string
	PatchedFields     []string
	Diagnostics       []*perr.Error
}

func (r *Report) diagnose(kind perr.Kind, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, perr.Newf(kind, format, args...))
}

// Run implements the Patch Orchestrator's full pass over target
// against plugModules, for the given architecture selector.
//
// TargetTypeMissing, TargetMemberMissing, and AmbiguousTargetName are
// recovered locally (the offending target or member is skipped and
// recorded as a diagnostic); CloneFailure and InvalidConstructorShape
// are recovered at the member boundary (that member is skipped);
// ModuleInvariantBroken is fatal and aborts Run with a non-nil error.
func Run(target *metadata.Module, selector archfilter.Architecture, plugModules []*metadata.Module, warn rewrite.Warner) (*Report, error) {
	report := &Report{}

	scanResult := plugscan.Scan(plugModules)
	for _, d := range scanResult.Diagnostics {
		report.diagnose(perr.AmbiguousTargetName, "%s: %s", d.PlugFullName, d.Reason)
	}

	names := make([]string, 0, len(scanResult.Targets))
	for name := range scanResult.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		patchOneTarget(target, name, scanResult.Targets[name], selector, warn, report)
	}

	target.PurgeSelfReferences()
	if target.HasSelfReference() {
		return report, perr.Newf(perr.ModuleInvariantBroken, "module %s still references its own assembly after patching", target.Name)
	}

	return report, nil
}

func patchOneTarget(target *metadata.Module, targetName string, plugTypes []*metadata.Type, selector archfilter.Architecture, warn rewrite.Warner, report *Report) {
	targetType := target.FindType(targetName)
	if targetType == nil {
		report.diagnose(perr.TargetTypeMissing, "no type named %s in target module %s", targetName, target.Name)
		return
	}
	if plugscan.IsPlug(targetType) {
		report.diagnose(perr.TargetTypeMissing, "%s carries the plug attribute itself; it is a plug, not a target", targetName)
		return
	}

	for _, plugType := range plugTypes {
		if !archfilter.IncludeType(selector, plugType) {
			continue
		}
		patchType(target, targetType, plugType, selector, warn, report)
	}
}

func patchType(target *metadata.Module, targetType, plugType *metadata.Type, selector archfilter.Architecture, warn rewrite.Warner, report *Report) {
	for _, plugMethod := range plugType.Methods {
		if !archfilter.IncludeMember(selector, plugMethod.CustomAttributes, true) {
			continue
		}
		m, candidates, ok := match.MatchMethod(targetType, plugMethod, plugMethod.CustomAttributes)
		if !ok {
			name := match.TargetName(plugMethod.CustomAttributes, plugMethod.Name)
			report.diagnose(perr.TargetMemberMissing, "%s::%s -> %s", plugType.FullName(), plugMethod.Name, match.FormatCandidates(name, candidates))
			continue
		}
		if err := clone.PatchMethod(m.Target, plugMethod, m.InstancePlug, target, warn); err != nil {
			recordMemberFailure(report, err, plugType, plugMethod.Name)
			continue
		}
		report.PatchedMethods = append(report.PatchedMethods, targetType.FullName()+"::"+m.Target.Name)
	}

	for _, plugProp := range plugType.Properties {
		if !archfilter.IncludeMember(selector, plugProp.CustomAttributes, true) {
			continue
		}
		targetProp, ok := match.MatchProperty(targetType, plugProp, plugProp.CustomAttributes)
		if !ok {
			name := match.TargetName(plugProp.CustomAttributes, plugProp.Name)
			report.diagnose(perr.TargetMemberMissing, "%s::%s -> no property %q with both a getter and a setter", plugType.FullName(), plugProp.Name, name)
			continue
		}
		if err := PatchProperty(targetProp, plugProp, target, warn); err != nil {
			recordMemberFailure(report, err, plugType, plugProp.Name)
			continue
		}
		report.PatchedProperties = append(report.PatchedProperties, targetType.FullName()+"::"+targetProp.Name)
	}

	for _, plugField := range plugType.Fields {
		if !archfilter.IncludeMember(selector, plugField.CustomAttributes, true) {
			continue
		}
		targetField, ok := match.MatchField(targetType, plugField, plugField.CustomAttributes)
		if !ok {
			name := match.TargetName(plugField.CustomAttributes, plugField.Name)
			report.diagnose(perr.TargetMemberMissing, "%s::%s -> no field %q on target", plugType.FullName(), plugField.Name, name)
			continue
		}
		if err := PatchField(targetField, plugField, target, warn); err != nil {
			recordMemberFailure(report, err, plugType, plugField.Name)
			continue
		}
		report.PatchedFields = append(report.PatchedFields, targetType.FullName()+"::"+targetField.Name)
	}
}

func recordMemberFailure(report *Report, err error, plugType *metadata.Type, memberName string) {
	kind := perr.CloneFailure
	if pe, ok := err.(*perr.Error); ok {
		kind = pe.Kind
	}
	report.diagnose(kind, "%s::%s: %v", plugType.FullName(), memberName, err)
}
