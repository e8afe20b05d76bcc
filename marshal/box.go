// Package marshal implements pjrmi's value marshaller (spec.md §4.4): the
// wire encoding of arguments, numeric narrowing rules, and overload
// resolution. It is the largest single component of the runtime and the
// one with the most invariants to get exactly right.
package marshal

import (
	"github.com/watt-toolkit/pjrmi/registry/handles"
)

// Box is a tagged local value ready to be marshalled: either a primitive
// number/bool/string, a handle to a remote object, or a local container.
// It plays the role the source's dynamically-typed values play, but as an
// explicit sum type rather than duck typing.
type Box struct {
	Kind  Kind
	Bool  bool
	I64   int64   // byte/short/char/int/long all normalize through here
	F64   float64 // float/double normalize through here; see numeric.go
	Str   string
	Proxy *handles.Proxy
	Elems []Box // arrays, Lists, Sets, Collections, Iterables
	Pairs []Pair // Maps
}

type Pair struct{ Key, Value Box }

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt   // byte/short/char/int/long - width decided at marshal time
	KindFloat // float/double - width decided at marshal time
	KindString
	KindObject // Proxy
	KindArray
	KindList
	KindSet
	KindMap
	KindCollection
	KindIterable
	KindSlice
)

func Null() Box                 { return Box{Kind: KindNull} }
func BoolBox(b bool) Box        { return Box{Kind: KindBool, Bool: b} }
func IntBox(v int64) Box        { return Box{Kind: KindInt, I64: v} }
func FloatBox(v float64) Box    { return Box{Kind: KindFloat, F64: v} }
func StringBox(s string) Box    { return Box{Kind: KindString, Str: s} }
func ObjectBox(p *handles.Proxy) Box {
	if p == nil {
		return Null()
	}
	return Box{Kind: KindObject, Proxy: p}
}

// IsPrimitiveName reports whether name is one of the eight Java primitive
// type names the registry's bootstrap order resolves eagerly (spec.md
// §4.3).
func IsPrimitiveName(name string) bool {
	switch name {
	case "boolean", "byte", "short", "char", "int", "long", "float", "double":
		return true
	}
	return false
}

// widthOf returns the wire width in bytes of a primitive by descriptor
// name, per spec.md §4.4's fixed-width payload table.
func widthOf(name string) int {
	switch name {
	case "boolean", "byte":
		return 1
	case "short", "char":
		return 2
	case "int", "float":
		return 4
	case "long", "double":
		return 8
	}
	return 0
}

// isIntegral reports whether a primitive name is one of the integer kinds
// (as opposed to float/double), used by the numeric-narrowing rules.
func isIntegral(name string) bool {
	switch name {
	case "byte", "short", "char", "int", "long":
		return true
	}
	return false
}

// integralRank orders integer widths for the byte < short < int < long
// inference rule (spec.md §4.4's "generic-object target" clause); char is
// treated at short's rank since both are two bytes wide.
func integralRank(name string) int {
	switch name {
	case "byte":
		return 0
	case "short", "char":
		return 1
	case "int":
		return 2
	case "long":
		return 3
	}
	return -1
}
