package types

import "slices"

// ErasedInfo identifies an opaque return type placeholder: the Index-th
// erased type of the function named by OriginName with OriginArgs.
type ErasedInfo struct {
	OriginName string
	OriginArgs []TypeID
	Index      int
}

// RegisterErased creates or finds an erased type placeholder.
func (in *Interner) RegisterErased(originName string, originArgs []TypeID, index int) TypeID {
	for slot := 1; slot < len(in.erased); slot++ {
		e := in.erased[slot]
		if e.OriginName == originName && e.Index == index && slices.Equal(e.OriginArgs, originArgs) {
			return in.Intern(Type{Kind: KindErased, Payload: payloadSlot(slot, "erased")})
		}
	}
	in.erased = append(in.erased, ErasedInfo{
		OriginName: originName,
		OriginArgs: cloneTypeArgs(originArgs),
		Index:      index,
	})
	slot := payloadSlot(len(in.erased)-1, "erased")
	return in.Intern(Type{Kind: KindErased, Payload: slot})
}

// ErasedInfo returns the placeholder metadata for an erased TypeID.
func (in *Interner) ErasedInfo(id TypeID) (*ErasedInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindErased {
		return nil, false
	}
	if tt.Payload == 0 || int(tt.Payload) >= len(in.erased) {
		return nil, false
	}
	return &in.erased[tt.Payload], true
}
