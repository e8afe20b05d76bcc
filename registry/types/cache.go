package types

import (
	"os"

	"github.com/tinylib/msgp/msgp"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
)

// Disk cache for resolved type descriptors (SPEC_FULL.md §4.3): a
// warm-start optimization so a client reconnecting to the same server
// doesn't have to refetch every descriptor it already resolved last time.
// Never used for wire decoding - that format is normative and lives in
// codec.go - only for persisting/restoring the registry's own cache
// across process restarts, encoded with github.com/tinylib/msgp the same
// way aistore's dsort/xact packages persist local state, hand-written in
// the Append/Read-bytes style msgp's code generator itself emits.

func (d *Descriptor) marshalMsg(b []byte) []byte {
	b = msgp.AppendInt32(b, int32(d.ID))
	b = msgp.AppendString(b, d.Name)
	b = msgp.AppendBool(b, d.Primitive)
	b = msgp.AppendBool(b, d.Interface)
	b = msgp.AppendBool(b, d.Throwable)
	b = msgp.AppendBool(b, d.Functional)
	b = msgp.AppendBool(b, d.IsArray)
	b = msgp.AppendInt32(b, int32(d.ArrayElemID))

	b = msgp.AppendArrayHeader(b, uint32(len(d.Supertypes)))
	for _, s := range d.Supertypes {
		b = msgp.AppendInt32(b, int32(s))
	}

	b = msgp.AppendArrayHeader(b, uint32(len(d.Fields)))
	for _, f := range d.Fields {
		b = msgp.AppendString(b, f.Name)
		b = msgp.AppendInt32(b, int32(f.FieldTypeID))
		b = msgp.AppendBool(b, f.Static)
	}

	b = msgp.AppendArrayHeader(b, uint32(len(d.Constructors)))
	for _, m := range d.Constructors {
		b = m.marshalMsg(b, false)
	}

	b = msgp.AppendArrayHeader(b, uint32(len(d.Methods)))
	for name, overloads := range d.Methods {
		b = msgp.AppendString(b, name)
		b = msgp.AppendArrayHeader(b, uint32(len(overloads)))
		for _, m := range overloads {
			b = m.marshalMsg(b, true)
		}
	}
	return b
}

func unmarshalDescriptorMsg(b []byte) (*Descriptor, []byte, error) {
	d := &Descriptor{Methods: map[string][]Method{}}
	var err error

	var id int32
	if id, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return nil, b, err
	}
	d.ID = ID(id)

	if d.Name, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, b, err
	}
	if d.Primitive, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, b, err
	}
	if d.Interface, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, b, err
	}
	if d.Throwable, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, b, err
	}
	if d.Functional, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, b, err
	}
	if d.IsArray, b, err = msgp.ReadBoolBytes(b); err != nil {
		return nil, b, err
	}
	var elemID int32
	if elemID, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return nil, b, err
	}
	d.ArrayElemID = ID(elemID)

	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, b, err
	}
	d.Supertypes = make([]ID, n)
	for i := range d.Supertypes {
		var v int32
		if v, b, err = msgp.ReadInt32Bytes(b); err != nil {
			return nil, b, err
		}
		d.Supertypes[i] = ID(v)
	}

	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, b, err
	}
	d.Fields = make([]Field, n)
	for i := range d.Fields {
		var name string
		var ftID int32
		var static bool
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		if ftID, b, err = msgp.ReadInt32Bytes(b); err != nil {
			return nil, b, err
		}
		if static, b, err = msgp.ReadBoolBytes(b); err != nil {
			return nil, b, err
		}
		d.Fields[i] = Field{Name: name, FieldTypeID: ID(ftID), Static: static}
	}

	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, b, err
	}
	d.Constructors = make([]Method, n)
	for i := range d.Constructors {
		var m Method
		if m, b, err = unmarshalMethodMsg(b, false); err != nil {
			return nil, b, err
		}
		d.Constructors[i] = m
	}

	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return nil, b, err
	}
	for i := uint32(0); i < n; i++ {
		var name string
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		var nOverloads uint32
		if nOverloads, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, b, err
		}
		overloads := make([]Method, nOverloads)
		for j := range overloads {
			var m Method
			if m, b, err = unmarshalMethodMsg(b, true); err != nil {
				return nil, b, err
			}
			overloads[j] = m
		}
		d.Methods[name] = overloads
	}

	return d, b, nil
}

func (m Method) marshalMsg(b []byte, hasReturn bool) []byte {
	b = msgp.AppendInt32(b, m.Index)
	b = msgp.AppendUint8(b, uint8(m.Flags))
	if hasReturn {
		b = msgp.AppendInt32(b, int32(m.ReturnTypeID))
	}
	b = msgp.AppendArrayHeader(b, uint32(len(m.ArgTypeIDs)))
	for _, a := range m.ArgTypeIDs {
		b = msgp.AppendInt32(b, int32(a))
	}
	b = msgp.AppendArrayHeader(b, uint32(len(m.ParamNames)))
	for _, p := range m.ParamNames {
		b = msgp.AppendString(b, p)
	}
	// KwargNames == nil ("accepts any keyword") is distinct from an empty,
	// non-nil slice ("accepts none"); AppendBool records which before the
	// elements themselves, same distinction codec.go's wire form keeps via
	// a negative length.
	b = msgp.AppendBool(b, m.KwargNames != nil)
	if m.KwargNames != nil {
		b = msgp.AppendArrayHeader(b, uint32(len(m.KwargNames)))
		for _, k := range m.KwargNames {
			b = msgp.AppendString(b, k)
		}
	}
	b = msgp.AppendArrayHeader(b, uint32(len(m.Specificity)))
	for _, s := range m.Specificity {
		b = msgp.AppendInt8(b, s)
	}
	return b
}

func unmarshalMethodMsg(b []byte, hasReturn bool) (Method, []byte, error) {
	var m Method
	var err error

	if m.Index, b, err = msgp.ReadInt32Bytes(b); err != nil {
		return m, b, err
	}
	var flags uint8
	if flags, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return m, b, err
	}
	m.Flags = MethodFlag(flags)

	if hasReturn {
		var rt int32
		if rt, b, err = msgp.ReadInt32Bytes(b); err != nil {
			return m, b, err
		}
		m.ReturnTypeID = ID(rt)
	}

	var n uint32
	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return m, b, err
	}
	m.ArgTypeIDs = make([]ID, n)
	for i := range m.ArgTypeIDs {
		var v int32
		if v, b, err = msgp.ReadInt32Bytes(b); err != nil {
			return m, b, err
		}
		m.ArgTypeIDs[i] = ID(v)
	}

	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return m, b, err
	}
	m.ParamNames = make([]string, n)
	for i := range m.ParamNames {
		if m.ParamNames[i], b, err = msgp.ReadStringBytes(b); err != nil {
			return m, b, err
		}
	}

	var hasKwargs bool
	if hasKwargs, b, err = msgp.ReadBoolBytes(b); err != nil {
		return m, b, err
	}
	if hasKwargs {
		if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return m, b, err
		}
		m.KwargNames = make([]string, n)
		for i := range m.KwargNames {
			if m.KwargNames[i], b, err = msgp.ReadStringBytes(b); err != nil {
				return m, b, err
			}
		}
	} else {
		m.KwargNames = nil
	}

	if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
		return m, b, err
	}
	m.Specificity = make([]int8, n)
	for i := range m.Specificity {
		if m.Specificity[i], b, err = msgp.ReadInt8Bytes(b); err != nil {
			return m, b, err
		}
	}

	return m, b, nil
}

// SaveCache writes every descriptor currently cached in the registry to
// path as a msgp-encoded stream. Best-effort: callers that can't afford a
// disk write (read-only filesystem, no Config.TypeCachePath) just skip it.
func (r *Registry) SaveCache(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b := msgp.AppendArrayHeader(nil, uint32(len(r.byID)))
	for _, d := range r.byID {
		b = d.marshalMsg(b)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return cos.NewErrResource("type cache: cannot write %s: %v", path, err)
	}
	return nil
}

// LoadCache pre-populates the registry from a file SaveCache previously
// wrote. An entry whose id is already cached is skipped, so a descriptor
// fetched from the server this run is never replaced. Every other loaded
// entry is served as-is by ClassForName/ClassForID without a
// TYPE_REQUEST; it is not checked against what the server would return.
func (r *Registry) LoadCache(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cos.NewErrResource("type cache: cannot read %s: %v", path, err)
	}
	n, b, err := msgp.ReadArrayHeaderBytes(raw)
	if err != nil {
		return cos.NewErrResource("type cache: corrupt header in %s: %v", path, err)
	}

	descs := make([]*Descriptor, n)
	for i := uint32(0); i < n; i++ {
		var d *Descriptor
		if d, b, err = unmarshalDescriptorMsg(b); err != nil {
			return cos.NewErrResource("type cache: corrupt entry %d in %s: %v", i, path, err)
		}
		descs[i] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descs {
		if _, ok := r.byID[d.ID]; ok {
			continue
		}
		r.byID[d.ID] = d
		r.byName[d.Name] = d
	}
	return nil
}
