package workbook

import "errors"

var (
	// ErrSheetNotFound is returned when a required sheet is missing.
	ErrSheetNotFound = errors.New("workbook: sheet not found")

	// ErrInvalidProject is returned for project numbers that cannot name a folder.
	ErrInvalidProject = errors.New("workbook: invalid project number")

	// ErrProjectNotFound is returned when no list file exists for a project.
	ErrProjectNotFound = errors.New("workbook: project list not found")
)
