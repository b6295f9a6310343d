// Package convert implements the conversion orchestrator (spec.md §4.4):
// turning heuristic decisions into concrete output plans, driving the
// transcoder, and renaming its output into final BIDS-facing paths.
package convert

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bidsify/bidsify/internal/heuristic"
	"github.com/bidsify/bidsify/internal/model"
)

// Plan expands every heuristic Decision into one OutputPlan per series it
// names, substituting the template's placeholders (spec.md §3) and
// assigning the 1-based {item} counter within each target key. seqinfos
// must already be ordered by ascending series number (seriesgroup.BuildSeqInfos
// guarantees this), since that order is what the engine processes in.
func Plan(decisions []heuristic.Decision, seqinfos []model.SeqInfo, subject, session string) ([]model.OutputPlan, error) {
	bySeries := make(map[string]model.SeqInfo, len(seqinfos))
	seriesOrder := make(map[string]int, len(seqinfos))
	for i, si := range seqinfos {
		bySeries[si.SeriesID] = si
		seriesOrder[si.SeriesID] = i
	}

	var plans []model.OutputPlan
	for _, d := range decisions {
		ordered := append([]string(nil), d.SeriesIDs...)
		sortBySeriesOrder(ordered, seriesOrder)

		for item, seriesID := range ordered {
			si, ok := bySeries[seriesID]
			if !ok {
				return nil, fmt.Errorf("convert: plan references unknown series %q", seriesID)
			}
			prefix, err := substitute(d.Target.Template, placeholders{
				subject: subject,
				session: session,
				item:    item + 1,
				seqitem: item + 1,
			})
			if err != nil {
				return nil, err
			}
			plans = append(plans, model.OutputPlan{
				Target:    d.Target,
				SeriesIDs: []string{seriesID},
				Prefix:    prefix,
				Item:      item + 1,
			})
		}
	}
	return plans, nil
}

type placeholders struct {
	subject string
	session string
	item    int
	seqitem int
}

// substitute fills in the named template placeholders spec.md §3 lists for
// ConversionTarget. A heuristic-defined slot must already be resolved by
// the time the target is returned; anything still bracketed afterward is
// rejected rather than silently passed through.
func substitute(template string, p placeholders) (string, error) {
	sessionSuffix := ""
	sessionDir := ""
	if p.session != "" {
		sessionSuffix = "_ses-" + p.session
		sessionDir = "/ses-" + p.session
	}

	replacer := strings.NewReplacer(
		"{subject}", p.subject,
		"{session}", p.session,
		"{item}", fmt.Sprintf("%d", p.item),
		"{seqitem}", fmt.Sprintf("%d", p.seqitem),
		"{subindex}", fmt.Sprintf("%d", p.item),
		"{bids_subject_session_prefix}", "sub-"+p.subject+sessionSuffix,
		"{bids_subject_session_dir}", "sub-"+p.subject+sessionDir,
	)
	out := replacer.Replace(template)
	if strings.Contains(out, "{") && strings.Contains(out, "}") {
		return "", fmt.Errorf("convert: template %q has unresolved placeholders after substitution: %q", template, out)
	}
	return filepath.Clean(out), nil
}

func sortBySeriesOrder(seriesIDs []string, order map[string]int) {
	for i := 1; i < len(seriesIDs); i++ {
		for j := i; j > 0 && order[seriesIDs[j-1]] > order[seriesIDs[j]]; j-- {
			seriesIDs[j-1], seriesIDs[j] = seriesIDs[j], seriesIDs[j-1]
		}
	}
}
