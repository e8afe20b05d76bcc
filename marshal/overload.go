package marshal

import (
	"fmt"
	"strings"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/registry/types"
)

// Candidate pairs a method overload with its index within the same-name
// group, the index into Method.Specificity this candidate corresponds to.
type Candidate struct {
	Index  int // position within the overload group, matches Specificity indexing
	Method types.Method
}

// TryMarshal attempts to marshal args against cand's declared argument
// types, reporting whether any argument needed a precision-losing
// narrowing (spec.md §4.4 step 5). A real marshaller would also need the
// type registry to resolve ArgTypeIDs to primitive-vs-object kind; this
// function takes that resolution as argKind so it stays independent of
// any particular registry implementation.
type ArgTypeKind struct {
	IsIntegral  bool
	IsFloat     bool
	IntegerRank int // only meaningful when IsIntegral
	IsFloat32   bool
}

func TryMarshal(args []Box, cand types.Method, argKind func(typeID types.ID) ArgTypeKind, mode NarrowingMode) (lossy bool, err error) {
	if len(args) != len(cand.ArgTypeIDs) {
		return false, cos.NewErrMarshal("arity mismatch: got %d args, want %d", len(args), len(cand.ArgTypeIDs))
	}
	for i, a := range args {
		k := argKind(cand.ArgTypeIDs[i])
		switch {
		case a.Kind == KindInt && k.IsIntegral:
			// Box.I64 normalizes every byte/short/int/long argument through a
			// 64-bit value (box.go), so the box itself carries no narrower
			// declared width to compare against - the source is always
			// long-width for narrowing purposes, the same way NarrowFloat
			// always treats its source as double. Using the value's own
			// tightest-fitting rank here instead would make Strict mode
			// reject exactly the same inputs Lenient does, since that rank
			// is computed from the same lo/hi range NarrowInt already checks.
			if _, ok := NarrowInt(a.I64, integralNameForRank(k.IntegerRank), longRank, mode); !ok {
				return false, cos.NewErrPrecisionLoss(a.I64, integralNameForRank(k.IntegerRank))
			}
			if k.IntegerRank < longRank {
				lossy = true
			}
		case a.Kind == KindFloat && k.IsFloat:
			if _, ok := NarrowFloat(a.F64, k.IsFloat32, mode); !ok {
				target := "double"
				if k.IsFloat32 {
					target = "float"
				}
				return false, cos.NewErrPrecisionLoss(a.F64, target)
			}
			if k.IsFloat32 {
				lossy = true
			}
		case a.Kind == KindNull, a.Kind == KindObject, a.Kind == KindString:
			// reference-typed arguments never narrow; type compatibility is
			// checked by the caller via the descriptor's IsSubtypeOf, not here.
		default:
			// container kinds (array/list/set/map/collection/iterable/slice)
			// are accepted as-is; element-wise checking happens recursively
			// by the same algorithm when those elements are themselves typed.
		}
	}
	return lossy, nil
}

func integralNameForRank(rank int) string {
	switch rank {
	case 0:
		return "byte"
	case 1:
		return "short"
	case 2:
		return "int"
	default:
		return "long"
	}
}

// longRank is integralRank("long"): every Box carries its integer value as
// a 64-bit I64 regardless of the primitive it was boxed from, so narrowing
// always treats the source as full-width.
const longRank = 3

// Resolve implements the five-step overload-resolution algorithm of
// spec.md §4.4. candidates must all share the same name and arity.
// hasKwargs/kwargNames describe the call site's keyword arguments, if any.
func Resolve(
	candidates []Candidate,
	args []Box,
	kwargNames []string,
	argKind func(typeID types.ID) ArgTypeKind,
) (*Candidate, error) {
	type survivor struct {
		cand  Candidate
		lossy bool
	}
	var working []survivor

	// Strict narrowing applies only when several same-arity overloads
	// compete; a lone candidate may narrow as long as the value round-trips.
	mode := Lenient
	if len(candidates) > 1 {
		mode = Strict
	}

	for _, c := range candidates {
		// step 1: explicit-only rejection
		if c.Method.Flags.Has(types.FlagExplicitOnly) {
			continue
		}
		// step 2: kwargs rejection
		if len(kwargNames) > 0 {
			ok := true
			for _, kw := range kwargNames {
				if !c.Method.AcceptsKwarg(kw) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
		}
		// step 3: attempt to marshal
		lossy, err := TryMarshal(args, c.Method, argKind, mode)
		if err != nil {
			continue
		}
		// step 4: specificity-matrix working-set narrowing
		next := make([]survivor, 0, len(working)+1)
		dominated := false
		for _, w := range working {
			rel := c.Method.Specificity[w.cand.Index]
			switch {
			case rel < 0:
				// c strictly more specific than w: w is dropped
			case rel > 0:
				// c strictly less specific than w: c is dominated, keep w
				next = append(next, w)
				dominated = true
			default:
				next = append(next, w)
			}
		}
		if !dominated {
			next = append(next, survivor{cand: c, lossy: lossy})
		}
		working = next
	}

	if len(working) == 0 {
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = fmt.Sprintf("overload#%d", c.Index)
		}
		return nil, cos.NewErrOverload("", names, false)
	}

	// step 5: prefer lossless candidates when any exist
	var lossless []survivor
	for _, w := range working {
		if !w.lossy {
			lossless = append(lossless, w)
		}
	}
	pool := working
	if len(lossless) > 0 {
		pool = lossless
	}

	if len(pool) == 1 {
		return &pool[0].cand, nil
	}

	names := make([]string, len(pool))
	for i, w := range pool {
		names[i] = fmt.Sprintf("overload#%d", w.cand.Index)
	}
	return nil, cos.NewErrOverload(strings.Join(names, ", "), names, true)
}
