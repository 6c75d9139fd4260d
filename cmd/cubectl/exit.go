package main

import "github.com/brazildatacube/cubebuilder/internal/errorsx"

// exitCodeFor maps the errorsx taxonomy onto the §6 exit codes. Errors
// outside the taxonomy (flag parsing, I/O) fall back to validation.
func exitCodeFor(err error) int {
	switch errorsx.TypeOf(err) {
	case errorsx.NotFound:
		return exitNotFound
	case errorsx.Conflict:
		return exitConflict
	case errorsx.Validation:
		return exitValidation
	default:
		return exitValidation
	}
}
