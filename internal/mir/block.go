package mir

// Block is a basic block: straight-line instructions closed by exactly one
// terminator. ID equals the block's index in Func.Blocks.
type Block struct {
	ID     BlockID
	Instrs []Instr
	Term   Terminator
}

// Terminated reports whether the block has a terminator. Validate rejects
// unterminated blocks, so the engine can assume it.
func (b *Block) Terminated() bool {
	return b != nil && b.Term.Kind != TermNone
}
