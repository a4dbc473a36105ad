package mir_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"miri/internal/mir"
	"miri/internal/types"
	"miri/internal/value"
)

func TestImage_RoundTrip(t *testing.T) {
	m, b := newModule()
	pair := m.Types.RegisterStruct("Pair", []types.StructField{{Name: "a", Type: b.I32}, {Name: "b", Type: b.U8}})
	m.AddFunc(&mir.Func{
		Path:   mir.P("main"),
		Result: pair,
		Locals: []mir.Local{{Type: pair, Name: "p"}},
		Blocks: []mir.Block{{
			Instrs: []mir.Instr{mir.Assign(mir.LocalPlace(0), mir.RValue{
				Kind:      mir.RValueAggregate,
				Aggregate: mir.Aggregate{Elems: []mir.Operand{mir.IntConst(b.I32, -3), mir.UintConst(b.U8, 9)}},
			})},
			Term: mir.Terminator{Kind: mir.TermReturn, Return: mir.ReturnTerm{HasValue: true, Value: mir.Move(mir.LocalPlace(0))}},
		}},
		IsTest: true,
	})
	initVal := value.Zeroed(8)
	if err := initVal.WritePointer(0, 8, value.FunctionPointer("main")); err != nil {
		t.Fatal(err)
	}
	img, err := initVal.Image()
	if err != nil {
		t.Fatal(err)
	}
	m.AddStatic(&mir.Static{Path: mir.P("ENTRY"), Type: m.Types.RegisterFn(nil, pair), Init: img})

	path := filepath.Join(t.TempDir(), "prog.mirpack")
	if err := mir.WriteImageFile(path, m); err != nil {
		t.Fatalf("WriteImageFile: %v", err)
	}
	got, err := mir.ReadImageFile(path)
	if err != nil {
		t.Fatalf("ReadImageFile: %v", err)
	}

	fn := got.Function(mir.P("main"))
	if fn == nil || !fn.IsTest || len(fn.Blocks) != 1 {
		t.Fatalf("main not restored: %+v", fn)
	}
	elems := fn.Blocks[0].Instrs[0].Assign.Src.Aggregate.Elems
	if elems[0].Const.IntValue != -3 || elems[1].Const.UintValue != 9 {
		t.Fatalf("aggregate constants changed: %+v", elems)
	}
	info, ok := got.Types.StructInfo(fn.Result)
	if !ok || info.Name != "Pair" || len(info.Fields) != 2 {
		t.Fatalf("struct type not restored: %+v", info)
	}
	st := got.Static(mir.P("ENTRY"))
	if st == nil {
		t.Fatal("static not restored")
	}
	restored, err := value.FromImage(st.Init)
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(restored, initVal) {
		t.Fatal("static initialiser changed")
	}
	if err := mir.Validate(got); err != nil {
		t.Fatalf("decoded module does not validate: %v", err)
	}
}

func TestImage_RejectsOtherSchema(t *testing.T) {
	var buf bytes.Buffer
	payload := map[string]any{"Magic": "mirpack", "Schema": 99, "Target": "x86_64-linux-gnu"}
	if err := msgpack.NewEncoder(&buf).Encode(payload); err != nil {
		t.Fatal(err)
	}
	_, err := mir.DecodeImage(&buf)
	if !errors.Is(err, mir.ErrImageSchema) {
		t.Fatalf("expected ErrImageSchema, got %v", err)
	}
}
