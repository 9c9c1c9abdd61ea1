package config

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-cty-funcs/crypto"
	"github.com/hashicorp/go-cty-funcs/encoding"
	"github.com/hashicorp/go-cty-funcs/filesystem"
	"github.com/hashicorp/go-cty-funcs/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/userfunc"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// StandardFunctions returns the functions available to every expression in a
// configuration file.
func StandardFunctions() map[string]function.Function {
	return map[string]function.Function{
		"upper":     stdlib.UpperFunc,
		"lower":     stdlib.LowerFunc,
		"trimspace": stdlib.TrimSpaceFunc,
		"trim":      stdlib.TrimFunc,
		"replace":   stdlib.ReplaceFunc,
		"format":    stdlib.FormatFunc,
		"join":      stdlib.JoinFunc,
		"split":     stdlib.SplitFunc,
		"substr":    stdlib.SubstrFunc,
		"strlen":    stdlib.StrlenFunc,
		"regex":     stdlib.RegexFunc,

		"max": stdlib.MaxFunc,
		"min": stdlib.MinFunc,

		"coalesce": stdlib.CoalesceFunc,
		"contains": stdlib.ContainsFunc,
		"keys":     stdlib.KeysFunc,
		"length":   stdlib.LengthFunc,
		"lookup":   stdlib.LookupFunc,
		"merge":    stdlib.MergeFunc,

		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,

		"tostring": stdlib.MakeToFunc(cty.String),
		"tonumber": stdlib.MakeToFunc(cty.Number),
		"tobool":   stdlib.MakeToFunc(cty.Bool),

		"base64decode": encoding.Base64DecodeFunc,
		"base64encode": encoding.Base64EncodeFunc,
		"urlencode":    encoding.URLEncodeFunc,
		"sha256":       crypto.Sha256Func,
		"basename":     filesystem.BasenameFunc,
		"pathexpand":   filesystem.PathExpandFunc,
		"uuidv4":       uuid.V4Func,
		"uuidv5":       uuid.V5Func,
	}
}

// extractUserFunctions pulls `function` blocks out of bodies and returns them
// along with the bodies that remain. The functions see the final evaluation
// context, so they may call each other and the standard functions.
func extractUserFunctions(bodies []hcl.Body, evalCtx func() *hcl.EvalContext) (map[string]function.Function, []hcl.Body, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	remaining := make([]hcl.Body, 0, len(bodies))
	funcs := make(map[string]function.Function)

	for _, body := range bodies {
		declared, rest, addDiags := userfunc.DecodeUserFunctions(body, "function", evalCtx)
		diags = diags.Extend(addDiags)
		if addDiags.HasErrors() {
			continue
		}
		remaining = append(remaining, rest)

		names := make([]string, 0, len(declared))
		for name := range declared {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if _, exists := funcs[name]; exists {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate function",
					Detail:   fmt.Sprintf("Function %s is already defined", name),
				})
				continue
			}
			funcs[name] = declared[name]
		}
	}

	return funcs, remaining, diags
}

// addUserFunctions adds funcs to evalCtx, refusing to shadow a standard
// function.
func addUserFunctions(evalCtx *hcl.EvalContext, funcs map[string]function.Function) hcl.Diagnostics {
	var diags hcl.Diagnostics

	for name, fn := range funcs {
		if _, exists := evalCtx.Functions[name]; exists {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate function",
				Detail:   fmt.Sprintf("Function %s is reserved and can't be overridden", name),
			})
			continue
		}
		evalCtx.Functions[name] = fn
	}

	return diags
}
