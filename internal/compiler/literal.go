package compiler

import (
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/botloom/internal/ir"
)

// LiteralErrorPrefix starts the value of a literal tag that failed to evaluate.
const LiteralErrorPrefix = PrefixLiteral + " error: "

var (
	cueMu  sync.Mutex
	cueCtx *cue.Context
)

// compileLiteral evaluates a literal/formula body as a CUE expression.
// JSON is valid CUE, so objects and arrays written as JSON work as-is;
// arithmetic, string interpolation and comprehensions work too.
func compileLiteral(body string) ir.Value {
	cueMu.Lock()
	defer cueMu.Unlock()
	if cueCtx == nil {
		cueCtx = cuecontext.New()
	}

	v := cueCtx.CompileString(body)
	if err := v.Err(); err != nil {
		return literalError(err)
	}
	if err := v.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return literalError(err)
	}

	var out any
	if err := v.Decode(&out); err != nil {
		return literalError(err)
	}
	return ir.FromGo(out)
}

func literalError(err error) ir.Value {
	msg := err.Error()
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		msg = errs[0].Error()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return ir.String(LiteralErrorPrefix + msg)
}

// IsLiteralError reports whether v is the value of a literal that failed
// to evaluate.
func IsLiteralError(v ir.Value) bool {
	s, ok := v.(ir.String)
	return ok && strings.HasPrefix(string(s), LiteralErrorPrefix)
}
