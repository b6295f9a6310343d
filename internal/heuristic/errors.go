package heuristic

import "fmt"

var errTemplate = fmt.Errorf("heuristic: template must be a non-empty string")

func errOutType(ot string) error {
	return fmt.Errorf("heuristic: outtype %q is not one of nii, nii.gz, dicom", ot)
}
