package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/model"
)

type fakeTranscoder struct {
	writeExt []string
}

func (f *fakeTranscoder) Convert(ctx context.Context, dicomPaths []string, outPrefix string) ([]string, error) {
	if err := os.MkdirAll(filepath.Dir(outPrefix), 0755); err != nil {
		return nil, err
	}
	var out []string
	for _, ext := range f.writeExt {
		p := outPrefix + ext
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func TestConvertAll_RenamesToFinalPrefix(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	tr := &fakeTranscoder{writeExt: []string{".nii.gz", ".json"}}

	target := model.ConversionTarget{Template: "sub-01/anat/sub-01_T1w", OutTypes: []string{model.OutTypeNiiGz}}
	plan := model.OutputPlan{Target: target, SeriesIDs: []string{"1-t1"}, Prefix: "sub-01/anat/sub-01_T1w", Item: 1}
	fileGroup := map[string][]*model.DicomFile{
		"1-t1": {{Path: "/dev/null", SeriesInstanceUID: "1-t1"}},
	}

	results, failures := ConvertAll(context.Background(), cfg, tr, "01", []model.OutputPlan{plan}, fileGroup, root)
	require.Empty(t, failures)
	require.Len(t, results, 1)
	assert.FileExists(t, filepath.Join(root, "sub-01/anat/sub-01_T1w.nii.gz"))
	assert.FileExists(t, filepath.Join(root, "sub-01/anat/sub-01_T1w.json"))
}

func TestConvertAll_DuplicateFinalPathGetsDupSuffix(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	tr := &fakeTranscoder{writeExt: []string{".nii.gz"}}

	target := model.ConversionTarget{Template: "sub-01/anat/sub-01_T1w", OutTypes: []string{model.OutTypeNiiGz}}
	plan1 := model.OutputPlan{Target: target, SeriesIDs: []string{"1-t1"}, Prefix: "sub-01/anat/sub-01_T1w", Item: 1}
	plan2 := model.OutputPlan{Target: target, SeriesIDs: []string{"2-t1"}, Prefix: "sub-01/anat/sub-01_T1w", Item: 1}
	fileGroup := map[string][]*model.DicomFile{
		"1-t1": {{Path: "/dev/null"}},
		"2-t1": {{Path: "/dev/null"}},
	}

	results, failures := ConvertAll(context.Background(), cfg, tr, "01", []model.OutputPlan{plan1, plan2}, fileGroup, root)
	require.Empty(t, failures)
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(root, "sub-01/anat/sub-01_T1w"), results[0].FinalPrefix)
	assert.Equal(t, filepath.Join(root, "sub-01/anat/sub-01_T1w__dup-01"), results[1].FinalPrefix)
}

func TestConvertAll_MissingSourceFilesIsAFailureNotAPanic(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	tr := &fakeTranscoder{writeExt: []string{".nii.gz"}}

	target := model.ConversionTarget{Template: "sub-01/anat/sub-01_T1w", OutTypes: []string{model.OutTypeNiiGz}}
	plan := model.OutputPlan{Target: target, SeriesIDs: []string{"missing"}, Prefix: "sub-01/anat/sub-01_T1w", Item: 1}

	_, failures := ConvertAll(context.Background(), cfg, tr, "01", []model.OutputPlan{plan}, map[string][]*model.DicomFile{}, root)
	assert.Len(t, failures, 1)
}

func TestConvertAll_ScoutSeriesSuppressesNifti(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	tr := &fakeTranscoder{writeExt: []string{".nii.gz"}}

	target := model.ConversionTarget{Template: "sub-01/anat/sub-01_scout", OutTypes: []string{model.OutTypeNiiGz}}
	plan := model.OutputPlan{Target: target, SeriesIDs: []string{"1-scout"}, Prefix: "sub-01/anat/sub-01_scout", Item: 1}
	fileGroup := map[string][]*model.DicomFile{
		"1-scout": {{Path: "/dev/null", IsDerived: true}},
	}

	results, failures := ConvertAll(context.Background(), cfg, tr, "01", []model.OutputPlan{plan}, fileGroup, root)
	require.Empty(t, failures)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Files)
}

func TestConvertAll_BvalBvecDroppedWhenNotDwi(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	tr := &fakeTranscoder{writeExt: []string{".nii.gz", ".bval", ".bvec"}}

	target := model.ConversionTarget{Template: "sub-01/anat/sub-01_T1w", OutTypes: []string{model.OutTypeNiiGz}}
	plan := model.OutputPlan{Target: target, SeriesIDs: []string{"1-t1"}, Prefix: "sub-01/anat/sub-01_T1w", Item: 1}
	fileGroup := map[string][]*model.DicomFile{"1-t1": {{Path: "/dev/null"}}}

	results, failures := ConvertAll(context.Background(), cfg, tr, "01", []model.OutputPlan{plan}, fileGroup, root)
	require.Empty(t, failures)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Files, 1)
}
