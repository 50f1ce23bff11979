// Package plugscan walks plug assemblies, identifies plug-marked
// types, and emits a mapping from target type full name to the list
// of plug types that claim it, per spec.md §4.2.
package plugscan

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/cilplug/patcher/metadata"
)

// PlugAttribute is the full name by which the plug-type attribute
// (spec.md §6) is recognized.
const PlugAttribute = "Cosmos.Plug"

// Diagnostic records a non-fatal event raised while scanning, such as
// a plug attribute with no readable target name.
type Diagnostic struct {
	PlugFullName string
	Reason       string
}

// Result is the outcome of a scan: the target-name-to-plug-types
// mapping and any diagnostics raised along the way.
type Result struct {
	Targets     map[string][]*metadata.Type
	Diagnostics []Diagnostic
}

// Scan walks every type in every module of plugModules and groups the
// plug-marked ones by their declared target full name, preserving
// source order (module order, then type declaration order within a
// module) — order the Orchestrator relies on for its documented
// last-write-wins composition.
func Scan(plugModules []*metadata.Module) Result {
	res := Result{Targets: make(map[string][]*metadata.Type)}

	for _, m := range plugModules {
		for _, t := range m.Types {
			attr, ok := findPlugAttribute(t)
			if !ok {
				continue
			}
			target, ok := resolveTargetName(attr)
			if !ok {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					PlugFullName: t.FullName(),
					Reason:       "plug attribute has neither a positional argument nor Target/TargetName",
				})
				continue
			}
			res.Targets[target] = append(res.Targets[target], t)
		}
	}
	return res
}

// IsPlug reports whether t carries the plug-type attribute: spec.md
// §4.7 excludes such types from ever being treated as a patch target.
func IsPlug(t *metadata.Type) bool {
	_, ok := findPlugAttribute(t)
	return ok
}

func findPlugAttribute(t *metadata.Type) (metadata.CustomAttribute, bool) {
	for _, attr := range t.CustomAttributes {
		if attr.Constructor.DeclaringType.FullName() == PlugAttribute {
			return attr, true
		}
	}
	return metadata.CustomAttribute{}, false
}

// resolveTargetName implements spec.md §4.2's three-step resolution
// order: a lone positional argument, then the named Target argument,
// then TargetName.
func resolveTargetName(attr metadata.CustomAttribute) (string, bool) {
	if len(attr.CtorArgs) == 1 && len(attr.NamedArgs) == 0 {
		if name, ok := argAsTypeName(attr.CtorArgs[0].Value); ok && name != "" {
			return name, true
		}
	}
	if name, ok := namedArgString(attr, "Target"); ok && name != "" {
		return name, true
	}
	if name, ok := namedArgString(attr, "TargetName"); ok && name != "" {
		return name, true
	}
	return "", false
}

func namedArgString(attr metadata.CustomAttribute, name string) (string, bool) {
	for _, arg := range attr.NamedArgs {
		if arg.Name != name {
			continue
		}
		return argAsTypeName(arg.Value)
	}
	return "", false
}

// argAsTypeName accepts either a literal string value or a type
// reference value (converted to its full name), per spec.md §4.2's
// "as a type reference converted to a full name, or as a literal
// string."
func argAsTypeName(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case metadata.TypeRef:
		return val.FullName(), true
	case *metadata.Type:
		return val.FullName(), true
	default:
		return "", false
	}
}

// Loader loads a single candidate file into a module graph. The
// Metadata I/O collaborator (package metadataio) supplies this; it is
// injected here so plugscan stays free of any dependency on how a
// module is actually decoded.
type Loader func(path string) (*metadata.Module, error)

// CandidatesNeedingPatch implements spec.md §4.2's side helper: given
// a directory of candidate assemblies and the set of target names
// plugModules claim, report which candidate files contain at least
// one type named as a target. Unreadable files — including anything
// that doesn't even look like a managed binary — are silently
// skipped, per spec.md.
//
// The directory is fanned out across a bounded worker pool (mirroring
// the teacher's cmd/main.go job-queue pattern) since sniffing and
// parsing each candidate is independent of every other one; the
// shared module graph a patch run mutates is never touched here.
func CandidatesNeedingPatch(dir string, targets map[string]struct{}, load Loader, logger *log.Helper) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	paths := make(chan string)
	var matched []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) && len(entries) > 0 {
		workers = len(entries)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				if containsTarget(path, targets, load, logger) {
					mu.Lock()
					matched = append(matched, path)
					mu.Unlock()
				}
			}
		}()
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths <- filepath.Join(dir, entry.Name())
	}
	close(paths)
	wg.Wait()

	return matched, nil
}

func containsTarget(path string, targets map[string]struct{}, load Loader, logger *log.Helper) bool {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	// Managed PE assemblies are still application/x-msdownload or
	// application/vnd.microsoft.portable-executable as far as content
	// sniffing is concerned; mimetype only rules out files that are
	// not executables at all (text files, archives, images dropped
	// next to the binaries being scanned), cheaply, before the
	// Metadata I/O collaborator is asked to parse CLR tables out of
	// them.
	if !mtype.Is("application/vnd.microsoft.portable-executable") && !mtype.Is("application/x-msdownload") {
		return false
	}

	m, err := load(path)
	if err != nil {
		if logger != nil {
			logger.Debugf("skipping unreadable candidate %s: %v", path, err)
		}
		return false
	}
	for _, t := range m.Types {
		if _, ok := targets[t.FullName()]; ok {
			return true
		}
	}
	return false
}
