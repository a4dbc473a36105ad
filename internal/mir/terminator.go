package mir

type TermKind uint8

const (
	TermNone TermKind = iota
	TermReturn
	TermGoto
	TermIf
	TermSwitchInt
	TermCall
	TermDiverge
	TermAssert
	TermUnreachable
)

type Terminator struct {
	Kind TermKind

	Return      ReturnTerm
	Goto        GotoTerm
	If          IfTerm
	SwitchInt   SwitchIntTerm
	Call        CallTerm
	Diverge     DivergeTerm
	Assert      AssertTerm
	Unreachable struct{}
}

// ReturnTerm optionally stores Value into the return slot before leaving.
type ReturnTerm struct {
	HasValue bool
	Value    Operand
}

type GotoTerm struct {
	Target BlockID
}

type IfTerm struct {
	Cond Operand
	Then BlockID
	Else BlockID
}

type SwitchIntCase struct {
	Value  uint64
	Target BlockID
}

type SwitchIntTerm struct {
	Value   Operand
	Cases   []SwitchIntCase
	Default BlockID
}

// CalleeKind distinguishes call target types.
type CalleeKind uint8

const (
	// CalleePath calls a function named by path.
	CalleePath CalleeKind = iota
	// CalleeValue calls through a function pointer operand.
	CalleeValue
)

// Callee represents a call target.
type Callee struct {
	Kind  CalleeKind
	Path  Path
	Value Operand
}

// CallTerm calls Callee and continues at Target. With HasCatch set the call
// is a panic boundary: a panic escaping the callee resumes at Catch with its
// payload written to PayloadDst.
type CallTerm struct {
	HasDst bool
	Dst    Place
	Callee Callee
	Args   []Operand
	Target BlockID

	HasCatch   bool
	Catch      BlockID
	PayloadDst Place
}

// DivergeTerm raises a panic. Payload is a pointer-sized value, usually a
// Box or &str.
type DivergeTerm struct {
	HasPayload bool
	Payload    Operand
}

// AssertTerm panics with Msg unless Cond equals Expected.
type AssertTerm struct {
	Cond     Operand
	Expected bool
	Msg      string
	Target   BlockID
}
