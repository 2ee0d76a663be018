package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/deltapivot/internal/compiler"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the tables compiled from a definitions path.
type LoadResult struct {
	Tables    []compiler.TableSpec
	FileCount int // Number of CUE files read
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefs compiles the table definitions at path, a .cue file or a
// directory of them. A nil result means nothing could be compiled.
// With LoadModeFailFast only the first table error is returned.
func LoadDefs(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions: %v", err)}}
	}

	fileCount := 1
	if info.IsDir() {
		files, err := compiler.FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
		fileCount = len(files)
	}

	value, err := compiler.BuildValue(path)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: compileErr.Message, Pos: compileErr.Pos}}
		}
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}}
	}

	specs, compileErrs := compiler.CompileTables(value)
	result := &LoadResult{Tables: specs, FileCount: fileCount}

	errs := make([]error, 0, len(compileErrs))
	for _, err := range compileErrs {
		errs = append(errs, convertCompileError(err))
		if mode == LoadModeFailFast {
			break
		}
	}
	return result, errs
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return &LoadError{Code: verr.Code, Message: err.Error()}
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: err.Error(),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeReadFailed  = "E007" // Input or journal read error

	// Table definition errors
	ErrCodeNoTables      = "E101" // No tables declared
	ErrCodeMissingField  = "E102" // Required field absent
	ErrCodeColumns       = "E103" // Missing or invalid columns
	ErrCodeInvalidKind   = "E104" // Unknown column kind
	ErrCodeInvalidOrder  = "E105" // Unknown sort order
	ErrCodeUnknownTable  = "E106" // Table not defined
	ErrCodeRoundFailed   = "E301" // One or more rounds failed
	ErrCodeScenarioFails = "E302" // One or more scenarios failed
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "tables":
		return ErrCodeNoTables
	case "index", "column", "by", "value":
		return ErrCodeMissingField
	case "columns":
		return ErrCodeColumns
	case "type":
		return ErrCodeInvalidKind
	case "sort.order":
		return ErrCodeInvalidOrder
	default:
		return ErrCodeGeneric
	}
}
