package marshal

import (
	"github.com/watt-toolkit/pjrmi/cmn/cos"
	"github.com/watt-toolkit/pjrmi/wire"
)

// EncodePrimitive writes b's fixed-width payload for the named primitive
// type - no tag, no type id, just the value itself (spec.md §4.4's
// "bool=1b, byte=1b, short/char=2b, int=4b, long=8b, float=4b BE,
// double=8b BE").
func EncodePrimitive(w *wire.Writer, b Box, typeName string) error {
	switch typeName {
	case "boolean":
		w.Bool(b.Bool)
	case "byte":
		w.Byte(byte(b.I64))
	case "short", "char":
		w.Short(int16(b.I64))
	case "int":
		w.Int(int32(b.I64))
	case "long":
		w.Long(b.I64)
	case "float":
		w.Float32(float32(b.F64))
	case "double":
		w.Float64(b.F64)
	default:
		return cos.NewErrMarshal("not a primitive type: %s", typeName)
	}
	return nil
}

// DecodePrimitive is EncodePrimitive's inverse, used both for method
// return values and the ARBITRARY_ITEM response tag.
func DecodePrimitive(r *wire.Reader, typeName string) (Box, error) {
	switch typeName {
	case "boolean":
		v, err := r.Bool()
		return BoolBox(v), err
	case "byte":
		v, err := r.Byte()
		return IntBox(int64(int8(v))), err
	case "short", "char":
		v, err := r.Short()
		return IntBox(int64(v)), err
	case "int":
		v, err := r.Int()
		return IntBox(int64(v)), err
	case "long":
		v, err := r.Long()
		return IntBox(v), err
	case "float":
		v, err := r.Float32()
		return FloatBox(float64(v)), err
	case "double":
		v, err := r.Float64()
		return FloatBox(v), err
	}
	return Box{}, cos.NewErrMarshal("not a primitive type: %s", typeName)
}

// EncodeContainer writes the (count, elements) form spec.md §4.4 specifies
// for Map/Set/Collection/Iterable/List targets, deferring each element's
// encoding to encodeElem.
func EncodeContainer(w *wire.Writer, b Box, encodeElem func(*wire.Writer, Box) error) error {
	switch b.Kind {
	case KindMap:
		w.Int(int32(len(b.Pairs)))
		for _, p := range b.Pairs {
			if err := encodeElem(w, p.Key); err != nil {
				return err
			}
			if err := encodeElem(w, p.Value); err != nil {
				return err
			}
		}
	default:
		w.Int(int32(len(b.Elems)))
		for _, e := range b.Elems {
			if err := encodeElem(w, e); err != nil {
				return err
			}
		}
	}
	return nil
}
