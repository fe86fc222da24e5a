package testcase

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

// SchemaError is a fixture schema violation with its source position.
type SchemaError struct {
	Message string
	Pos     token.Pos
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// CheckSchemaFile validates a fixture file against the embedded CUE schema.
func CheckSchemaFile(path string) ([]*SchemaError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return CheckSchema(path, data)
}

// CheckSchema validates raw fixture bytes against the embedded CUE schema.
// The returned slice is empty when the fixture conforms. The error result
// is reserved for failures to run the check itself (unparseable JSON or a
// broken schema).
func CheckSchema(filename string, data []byte) ([]*SchemaError, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile fixture schema: %w", err)
	}

	expr, err := cuejson.Extract(filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	value := ctx.BuildExpr(expr)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("build fixture value: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Fixture")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toSchemaErrors(err), nil
	}
	return nil, nil
}

// toSchemaErrors flattens a CUE error list, keeping the first position of
// each error.
func toSchemaErrors(err error) []*SchemaError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []*SchemaError{{Message: err.Error()}}
	}

	out := make([]*SchemaError, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		se := &SchemaError{Message: msg}
		if positions := cueerrors.Positions(e); len(positions) > 0 {
			se.Pos = positions[0]
		}
		out = append(out, se)
	}
	return out
}
