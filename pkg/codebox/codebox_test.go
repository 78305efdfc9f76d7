package codebox

import (
	"testing"

	"github.com/haavardp/fishjit/pkg/fishtype"
)

func TestParsePadsRaggedLines(t *testing.T) {
	g := Parse("ab\nc\n")
	w, h := g.Dimensions()
	if w != 2 || h != 2 {
		t.Fatalf("got %dx%d, want 2x2", w, h)
	}
	if g.Get(1, 1) != fishtype.Cell(' ') {
		t.Fatalf("short line not padded with space")
	}
}

func TestGetSetWraps(t *testing.T) {
	g := New(3, 2)
	g.Set(-1, -1, fishtype.Cell('x'))
	if g.Get(1, 2) != fishtype.Cell('x') {
		t.Fatalf("Set/Get did not wrap to same cell")
	}
}

func TestNextWrapsDirection(t *testing.T) {
	g := New(3, 3)
	s := fishtype.State{Row: 0, Col: 0, Dir: fishtype.Up}
	g.Next(&s)
	if s.Row != 2 || s.Col != 0 {
		t.Fatalf("Up from row 0 should wrap to row 2, got row %d", s.Row)
	}
}

func TestReadStringCollectsUntilDelimiter(t *testing.T) {
	g := Parse(`"hi"v`)
	s := fishtype.State{Row: 0, Col: 0, Dir: fishtype.Right}
	cells, ok := g.ReadString(&s, fishtype.Cell('"'))
	if !ok {
		t.Fatalf("expected closed string")
	}
	got := string([]rune{rune(cells[0]), rune(cells[1])})
	if got != "hi" {
		t.Fatalf("got %q, want %q", got, "hi")
	}
	if s.Col != 3 {
		t.Fatalf("IP should sit on closing quote, col=%d", s.Col)
	}
}

func TestHelperParityWithGoPath(t *testing.T) {
	g := New(3, 2)
	g.PutViaHelper(0, 0, fishtype.Cell('z'))
	if g.Get(0, 0) != fishtype.Cell('z') {
		t.Fatalf("PutViaHelper and Get disagree on layout")
	}
	if g.GetViaHelper(-1, -1) != g.Get(-1, -1) {
		t.Fatalf("GetViaHelper and Get disagree on wrap")
	}
}

func TestReadStringUnterminated(t *testing.T) {
	g := Parse(`"ab`)
	s := fishtype.State{Row: 0, Col: 0, Dir: fishtype.Right}
	_, ok := g.ReadString(&s, fishtype.Cell('"'))
	if ok {
		t.Fatalf("expected unterminated string to fail")
	}
}
