package mir

import (
	"slices"
	"strconv"
	"strings"

	"miri/internal/types"
)

// Path identifies a function or static item by its fully-qualified name and
// generic arguments. Paths are monomorphic by the time they reach the
// interpreter.
type Path struct {
	Name string
	Args []types.TypeID
}

// P builds a path.
func P(name string, args ...types.TypeID) Path {
	return Path{Name: name, Args: slices.Clone(args)}
}

// Key renders the lookup key: the name, followed by "::<a,b>" when there are
// generic arguments.
func (p Path) Key() string {
	if len(p.Args) == 0 {
		return p.Name
	}
	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteString("::<")
	for i, a := range p.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(a), 10))
	}
	sb.WriteByte('>')
	return sb.String()
}

// Label renders the path with type labels for diagnostics.
func (p Path) Label(typesIn *types.Interner) string {
	if len(p.Args) == 0 || typesIn == nil {
		return p.Key()
	}
	parts := make([]string, len(p.Args))
	for i, a := range p.Args {
		parts[i] = types.Label(typesIn, a)
	}
	return p.Name + "::<" + strings.Join(parts, ", ") + ">"
}

func (p Path) IsZero() bool {
	return p.Name == "" && len(p.Args) == 0
}

func (p Path) Equal(q Path) bool {
	return p.Name == q.Name && slices.Equal(p.Args, q.Args)
}
