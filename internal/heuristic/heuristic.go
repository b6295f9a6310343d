// Package heuristic hosts the pluggable heuristic contract (spec.md §4.3):
// resolving a heuristic by path or bundled name, invoking its entry
// points with stable input shapes, and validating what it returns.
//
// Per spec.md §9 ("Heuristic as a module... model the heuristic interface
// as a plug-in with a declared set of callbacks... Implementations may be
// ... compiled plug-ins following a small ABI"), a Heuristic is a Go value
// implementing InfoToDicter plus any of the optional interfaces below; any
// entry point may be omitted, in which case the host's defaults apply.
package heuristic

import "github.com/bidsify/bidsify/internal/model"

// IDs is the optional infotoids result: derived subject/session/locator.
type IDs struct {
	Locator string
	Session string
	Subject string
}

// InfoToDicter is the only required entry point: decide, for the seqinfos
// of one group, which ConversionTargets to produce and which series feed
// each one.
type InfoToDicter interface {
	InfoToDict(seqinfos []model.SeqInfo) (map[model.ConversionTarget][]string, error)
}

// KeyCreator is the commonly used create_key helper; the host provides a
// default implementation (DefaultCreateKey) heuristics may call instead of
// implementing this themselves.
type KeyCreator interface {
	CreateKey(template string, outtypes []string, annotation string) (model.ConversionTarget, error)
}

// IDInferer derives subject/session/locator from the data instead of
// trusting the caller-supplied identifiers.
type IDInferer interface {
	InfoToIDs(seqinfos []model.SeqInfo, outdir string) (IDs, error)
}

// FileFilterer excludes a candidate path before parsing.
type FileFilterer interface {
	FilterFile(path string) bool
}

// DicomFilterer excludes a parsed DICOM header.
type DicomFilterer interface {
	FilterDicom(df *model.DicomFile) bool
}

// CustomGrouper is consulted only under grouping=custom (spec.md §4.2).
type CustomGrouper interface {
	Group(files []*model.DicomFile) (map[string][]*model.DicomFile, error)
}

// IntendedForOptionser exposes POPULATE_INTENDED_FOR_OPTS.
type IntendedForOptionser interface {
	IntendedForOpts() map[string]interface{}
}

// Heuristic is the full contract; InfoToDicter is the only method every
// heuristic must implement. Optional behaviors are discovered via type
// assertion against the interfaces above, the same pattern net/http uses
// for http.Flusher/http.Hijacker.
type Heuristic interface {
	InfoToDicter
}

// DefaultCreateKey is the engine-provided create_key helper (spec.md §4.3)
// heuristics can call directly instead of building a ConversionTarget by
// hand.
func DefaultCreateKey(template string, outtypes []string, annotation string) (model.ConversionTarget, error) {
	if template == "" {
		return model.ConversionTarget{}, errTemplate
	}
	if len(outtypes) == 0 {
		outtypes = []string{model.OutTypeNiiGz}
	}
	for _, ot := range outtypes {
		if !model.AllowedOutTypes[ot] {
			return model.ConversionTarget{}, errOutType(ot)
		}
	}
	return model.ConversionTarget{Template: template, OutTypes: outtypes, Annotation: annotation}, nil
}
