package schemafile

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/roach88/driftdb/internal/dberr"
)

// documentDef constrains a schema document before it is decoded.
const documentDef = `
#Column: {
	name:      string & !=""
	type:      "string" | "number" | "boolean"
	optional?: bool
	indexed?:  bool
}

#Table: {
	name: string & !=""
	columns: [...#Column]
}

#Step: {create_table: #Table} | {add_columns: {table: string & !="", columns: [...#Column]}} | {sql: string & !=""}

#Document: {
	version: int & >=1
	tables: [...#Table]
	migrations?: [...{
		version: int & >=2
		steps: [...#Step]
	}]
}
`

// DecodeCUE parses a single CUE file. filename is used for positions.
func DecodeCUE(filename string, data []byte) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return decodeCUEValue(ctx, v)
}

// decodeCUEDir loads the CUE package in dir.
func decodeCUEDir(dir string) (*Document, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, dberr.Configuration("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, dberr.Configuration("loading CUE files: %v", inst.Err)
	}

	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return decodeCUEValue(ctx, v)
}

func decodeCUEValue(ctx *cue.Context, v cue.Value) (*Document, error) {
	def := ctx.CompileString(documentDef).LookupPath(cue.ParsePath("#Document"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("schema definition: %w", err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, formatCUEError(err)
	}
	return &doc, nil
}

// formatCUEError reports the first CUE error with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return dberr.Configuration("%v", err)
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pos := positions[0]
		return dberr.Configuration("%s:%d:%d: %v", pos.Filename(), pos.Line(), pos.Column(), first)
	}
	return dberr.Configuration("%v", first)
}
