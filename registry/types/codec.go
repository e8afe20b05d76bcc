package types

import "github.com/watt-toolkit/pjrmi/wire"

// Flag bits for Descriptor.Encode - not to be confused with MethodFlag.
const (
	descFlagPrimitive = 1 << iota
	descFlagInterface
	descFlagThrowable
	descFlagFunctional
	descFlagIsArray
)

// Encode serializes a Descriptor as a TYPE_DESCRIPTION payload. Both the
// real server and pjrmi's in-process test server use this codec, so the
// wire layout only needs to be normative within this module.
func (d *Descriptor) Encode(w *wire.Writer) {
	w.Int(int32(d.ID))
	w.UTF16String(d.Name)

	var flags byte
	if d.Primitive {
		flags |= descFlagPrimitive
	}
	if d.Interface {
		flags |= descFlagInterface
	}
	if d.Throwable {
		flags |= descFlagThrowable
	}
	if d.Functional {
		flags |= descFlagFunctional
	}
	if d.IsArray {
		flags |= descFlagIsArray
	}
	w.Byte(flags)
	w.Int(int32(d.ArrayElemID))

	w.Int(int32(len(d.Supertypes)))
	for _, s := range d.Supertypes {
		w.Int(int32(s))
	}

	w.Int(int32(len(d.Fields)))
	for _, f := range d.Fields {
		w.UTF16String(f.Name)
		w.Int(int32(f.FieldTypeID))
		w.Bool(f.Static)
	}

	w.Int(int32(len(d.Constructors)))
	for _, m := range d.Constructors {
		encodeMethod(w, m, false)
	}

	w.Int(int32(len(d.Methods)))
	for name, overloads := range d.Methods {
		w.UTF16String(name)
		w.Int(int32(len(overloads)))
		for _, m := range overloads {
			encodeMethod(w, m, true)
		}
	}
}

func encodeMethod(w *wire.Writer, m Method, hasReturn bool) {
	w.Int(m.Index)
	w.Byte(byte(m.Flags))
	if hasReturn {
		w.Int(int32(m.ReturnTypeID))
	}
	w.Int(int32(len(m.ArgTypeIDs)))
	for _, a := range m.ArgTypeIDs {
		w.Int(int32(a))
	}
	w.Int(int32(len(m.ParamNames)))
	for _, p := range m.ParamNames {
		w.UTF16String(p)
	}
	switch m.KwargNames {
	case nil:
		w.Int(-1)
	default:
		w.Int(int32(len(m.KwargNames)))
		for _, k := range m.KwargNames {
			w.UTF16String(k)
		}
	}
	w.Int(int32(len(m.Specificity)))
	for _, s := range m.Specificity {
		w.Byte(byte(s))
	}
}

// DecodeDescriptor parses a TYPE_DESCRIPTION payload.
func DecodeDescriptor(r *wire.Reader) (*Descriptor, error) {
	d := &Descriptor{Methods: map[string][]Method{}}

	id, err := r.Int()
	if err != nil {
		return nil, err
	}
	d.ID = ID(id)

	if d.Name, err = r.UTF16String(); err != nil {
		return nil, err
	}

	flags, err := r.Byte()
	if err != nil {
		return nil, err
	}
	d.Primitive = flags&descFlagPrimitive != 0
	d.Interface = flags&descFlagInterface != 0
	d.Throwable = flags&descFlagThrowable != 0
	d.Functional = flags&descFlagFunctional != 0
	d.IsArray = flags&descFlagIsArray != 0

	elemID, err := r.Int()
	if err != nil {
		return nil, err
	}
	d.ArrayElemID = ID(elemID)

	nSuper, err := r.Int()
	if err != nil {
		return nil, err
	}
	d.Supertypes = make([]ID, nSuper)
	for i := range d.Supertypes {
		v, err := r.Int()
		if err != nil {
			return nil, err
		}
		d.Supertypes[i] = ID(v)
	}

	nFields, err := r.Int()
	if err != nil {
		return nil, err
	}
	d.Fields = make([]Field, nFields)
	for i := range d.Fields {
		name, err := r.UTF16String()
		if err != nil {
			return nil, err
		}
		ftID, err := r.Int()
		if err != nil {
			return nil, err
		}
		static, err := r.Bool()
		if err != nil {
			return nil, err
		}
		d.Fields[i] = Field{Name: name, FieldTypeID: ID(ftID), Static: static}
	}

	nCtors, err := r.Int()
	if err != nil {
		return nil, err
	}
	d.Constructors = make([]Method, nCtors)
	for i := range d.Constructors {
		m, err := decodeMethod(r, false)
		if err != nil {
			return nil, err
		}
		d.Constructors[i] = m
	}

	nGroups, err := r.Int()
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < nGroups; i++ {
		name, err := r.UTF16String()
		if err != nil {
			return nil, err
		}
		nOverloads, err := r.Int()
		if err != nil {
			return nil, err
		}
		overloads := make([]Method, nOverloads)
		for j := range overloads {
			m, err := decodeMethod(r, true)
			if err != nil {
				return nil, err
			}
			overloads[j] = m
		}
		d.Methods[name] = overloads
	}

	return d, nil
}

func decodeMethod(r *wire.Reader, hasReturn bool) (Method, error) {
	var m Method

	idx, err := r.Int()
	if err != nil {
		return m, err
	}
	m.Index = idx

	fb, err := r.Byte()
	if err != nil {
		return m, err
	}
	m.Flags = MethodFlag(fb)

	if hasReturn {
		rt, err := r.Int()
		if err != nil {
			return m, err
		}
		m.ReturnTypeID = ID(rt)
	}

	nArgs, err := r.Int()
	if err != nil {
		return m, err
	}
	m.ArgTypeIDs = make([]ID, nArgs)
	for i := range m.ArgTypeIDs {
		v, err := r.Int()
		if err != nil {
			return m, err
		}
		m.ArgTypeIDs[i] = ID(v)
	}

	nParams, err := r.Int()
	if err != nil {
		return m, err
	}
	m.ParamNames = make([]string, nParams)
	for i := range m.ParamNames {
		if m.ParamNames[i], err = r.UTF16String(); err != nil {
			return m, err
		}
	}

	nKwargs, err := r.Int()
	if err != nil {
		return m, err
	}
	if nKwargs < 0 {
		m.KwargNames = nil
	} else {
		m.KwargNames = make([]string, nKwargs)
		for i := range m.KwargNames {
			if m.KwargNames[i], err = r.UTF16String(); err != nil {
				return m, err
			}
		}
	}

	nSpec, err := r.Int()
	if err != nil {
		return m, err
	}
	m.Specificity = make([]int8, nSpec)
	for i := range m.Specificity {
		b, err := r.Byte()
		if err != nil {
			return m, err
		}
		m.Specificity[i] = int8(b)
	}

	return m, nil
}
