package heuristic

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"

	"github.com/bidsify/bidsify/internal/errs"
	"github.com/bidsify/bidsify/internal/model"
)

// Factory constructs a fresh Heuristic instance, plus the bytes the
// provenance store should freeze as that heuristic's "heuristic.py"
// equivalent (spec.md §4.8/§6).
type Factory func() (Heuristic, []byte, error)

var registry = map[string]Factory{}

// Register adds a bundled heuristic under a short name. Called from
// init() in the files defining each bundled heuristic.
func Register(name string, f Factory) {
	registry[name] = f
}

// BundledNames lists the short names available for lookup-by-name,
// sorted for stable CLI output.
func BundledNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// pluginNewSymbol is the exported symbol a path-resolved .so heuristic
// plugin must provide: func() (heuristic.Heuristic, error).
const pluginNewSymbol = "New"

// Resolve looks up a heuristic by filesystem path first, then by bundled
// short name — "path lookup precedes name lookup so a local file shadows
// a bundled module" (spec.md §4.3). It returns the heuristic plus the
// bytes the caller should freeze into the provenance store.
func Resolve(nameOrPath string) (Heuristic, []byte, error) {
	if nameOrPath == "" {
		return nil, nil, errs.Usage("no heuristic specified")
	}

	if info, err := os.Stat(nameOrPath); err == nil && !info.IsDir() {
		h, raw, err := loadPath(nameOrPath)
		if err != nil {
			return nil, nil, errs.Usage("failed to load heuristic at %s: %v", nameOrPath, err)
		}
		return h, raw, nil
	}

	if f, ok := registry[nameOrPath]; ok {
		h, raw, err := f()
		if err != nil {
			return nil, nil, errs.Usage("failed to construct bundled heuristic %s: %v", nameOrPath, err)
		}
		return h, raw, nil
	}

	return nil, nil, errs.Usage("heuristic %q not found as a file or among bundled heuristics: %v", nameOrPath, BundledNames())
}

// loadPath loads a compiled heuristic plugin (spec.md §9's "compiled
// plug-ins following a small ABI" option) and returns its raw bytes for
// the provenance store.
func loadPath(path string) (Heuristic, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	if filepath.Ext(path) != ".so" {
		return nil, nil, fmt.Errorf("unsupported heuristic file type %s (expected a compiled .so plugin)", filepath.Ext(path))
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, nil, err
	}
	sym, err := p.Lookup(pluginNewSymbol)
	if err != nil {
		return nil, nil, fmt.Errorf("plugin missing exported %s() func: %w", pluginNewSymbol, err)
	}
	newFn, ok := sym.(func() (Heuristic, error))
	if !ok {
		return nil, nil, fmt.Errorf("plugin's %s has the wrong signature, want func() (heuristic.Heuristic, error)", pluginNewSymbol)
	}
	h, err := newFn()
	if err != nil {
		return nil, nil, err
	}
	return h, raw, nil
}

// Decision is one validated InfoToDict entry: a target plus the series_ids
// it consumes.
type Decision struct {
	Target    model.ConversionTarget
	SeriesIDs []string
}

// InvokeInfoToDict calls the heuristic's InfoToDict and validates every
// returned target per spec.md §4.3: non-empty template, allowed outtypes,
// and series_ids that actually exist among the input seqinfos.
func InvokeInfoToDict(h Heuristic, seqinfos []model.SeqInfo, subject string) ([]Decision, error) {
	known := make(map[string]bool, len(seqinfos))
	for _, si := range seqinfos {
		known[si.SeriesID] = true
	}

	raw, err := h.InfoToDict(seqinfos)
	if err != nil {
		return nil, errs.Heuristic(subject, err, "infotodict raised")
	}

	decisions := make([]Decision, 0, len(raw))
	for target, seriesIDs := range raw {
		if target.Template == "" {
			return nil, errs.Heuristic(subject, nil, "infotodict returned a target with an empty template")
		}
		if len(target.OutTypes) == 0 {
			target.OutTypes = []string{model.OutTypeNiiGz}
		}
		for _, ot := range target.OutTypes {
			if !model.AllowedOutTypes[ot] {
				return nil, errs.Heuristic(subject, nil, "infotodict returned target %q with unsupported outtype %q", target.Template, ot)
			}
		}
		for _, sid := range seriesIDs {
			if !known[sid] {
				return nil, errs.Heuristic(subject, nil, "infotodict returned target %q referencing unknown series_id %q", target.Template, sid)
			}
		}
		decisions = append(decisions, Decision{Target: target, SeriesIDs: seriesIDs})
	}

	sort.Slice(decisions, func(i, j int) bool { return decisions[i].Target.Template < decisions[j].Target.Template })
	return decisions, nil
}
