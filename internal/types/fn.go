package types //nolint:revive

import "slices"

// FnInfo stores metadata for function pointer types.
type FnInfo struct {
	Params []TypeID // Parameter types (in order)
	Result TypeID   // Return type
}

// RegisterFn creates or finds a function pointer type.
func (in *Interner) RegisterFn(params []TypeID, result TypeID) TypeID {
	for slot := 1; slot < len(in.fns); slot++ {
		info := in.fns[slot]
		if info.Result == result && slices.Equal(info.Params, params) {
			return in.Intern(Type{Kind: KindFnPtr, Payload: payloadSlot(slot, "fn")})
		}
	}
	in.fns = append(in.fns, FnInfo{
		Params: cloneTypeArgs(params),
		Result: result,
	})
	slot := payloadSlot(len(in.fns)-1, "fn")
	return in.Intern(Type{Kind: KindFnPtr, Payload: slot})
}

// FnInfo retrieves function type metadata by TypeID.
func (in *Interner) FnInfo(id TypeID) (*FnInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindFnPtr {
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(in.fns) {
		return nil, false
	}
	return &in.fns[tt.Payload], true
}
