package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/botloom/internal/harness"
)

// LoadError represents an error that occurred while loading a world file.
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

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeUnsupported = "E002" // Unsupported world file type
	ErrCodeEmptyWorld  = "E003" // World has no bots
	ErrCodeLoadFailed  = "E004" // File could not be parsed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE evaluation failed
	ErrCodeJournal     = "E007" // Journal could not be opened or read

	// Tag validation errors
	ErrCodeLiteral     = "E101" // Literal tag failed to evaluate
	ErrCodeListener    = "E102" // Listener failed to compile
	ErrCodeModule      = "E103" // Module failed to compile or load
	ErrCodeImportCycle = "E104" // Modules import each other
)

// LoadWorld reads a world file. YAML (.yaml, .yml) and JSON files map bot
// ids to bot specs; CUE files (.cue) are evaluated first, so a world can
// be computed with CUE comprehensions and defaults.
func LoadWorld(path string) (harness.World, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("world file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error reading world file: %v", err)}
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
	case ".cue":
		data, err = evalCUE(path, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &LoadError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("unsupported world file %s: want .yaml, .yml, .json or .cue", path)}
	}

	world, err := decodeWorld(data)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	if len(world) == 0 {
		return nil, &LoadError{Code: ErrCodeEmptyWorld, Message: fmt.Sprintf("no bots found in %s", path)}
	}
	return world, nil
}

// decodeWorld parses YAML (or JSON, which is YAML) strictly.
func decodeWorld(data []byte) (harness.World, error) {
	var world harness.World
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&world); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return world, nil
}

// evalCUE evaluates a CUE world to concrete JSON.
func evalCUE(path string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	out, err := value.MarshalJSON()
	if err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, err)
	}
	return out, nil
}

func cueLoadError(code string, err error) *LoadError {
	loadErr := &LoadError{Code: code, Message: err.Error()}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		loadErr.Message = errs[0].Error()
		if pos := errs[0].Position(); pos.IsValid() {
			loadErr.Pos = pos
		}
	}
	return loadErr
}

// loadErrorCode returns the code of a *LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}
