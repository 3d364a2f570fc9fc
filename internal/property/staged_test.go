package property

import (
	"reflect"
	"testing"
)

func TestStagedIsolation(t *testing.T) {
	base := NewBasic(New("0.onoff", false), New("ld.cur_dim_level", 0))
	staged := NewStaged(base, false)

	if !staged.Put(New("0.onoff", true)) {
		t.Fatal("Put() = false, want true")
	}

	if got := Bool(staged, "0.onoff"); !got {
		t.Error("staged view does not show staged value")
	}
	if got := Bool(base, "0.onoff"); got {
		t.Error("base view shows staged value before commit")
	}

	changed := staged.Commit()
	if got := Bool(base, "0.onoff"); !got {
		t.Error("base view does not show committed value")
	}
	if len(changed) != 1 || changed[0].Name() != "0.onoff" {
		t.Errorf("Commit() = %v, want [0.onoff=true]", changed)
	}
	if staged.IsStaging() {
		t.Error("IsStaging() = true after commit")
	}
}

func TestStagedCommitReportsExactDiff(t *testing.T) {
	tests := []struct {
		name string
		puts []Value
		want []string
	}{
		{
			name: "single change",
			puts: []Value{New("a", 2)},
			want: []string{"a"},
		},
		{
			name: "unchanged value is dropped",
			puts: []Value{New("a", 1), New("b", "x")},
			want: []string{},
		},
		{
			name: "change then revert",
			puts: []Value{New("a", 5), New("a", 1)},
			want: []string{},
		},
		{
			name: "new property",
			puts: []Value{New("c", true), New("a", 3)},
			want: []string{"c", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBasic(New("a", 1), New("b", "x"))
			staged := NewStaged(base, false)
			for _, v := range tt.puts {
				staged.Put(v)
			}

			changes := staged.Changes()
			if len(changes) != len(tt.want) {
				t.Fatalf("Changes() len = %d, want %d", len(changes), len(tt.want))
			}

			got := Names(staged.Commit())
			if len(got) == 0 {
				got = []string{}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Commit() names = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStagedAllowSame(t *testing.T) {
	base := NewBasic(New("a", 1))

	strict := NewStaged(base, false)
	if strict.Put(New("a", 1)) {
		t.Error("strict Put() of equal value = true, want false")
	}

	loose := NewStaged(base, true)
	if !loose.Put(New("a", 1)) {
		t.Error("allow-same Put() of equal value = false, want true")
	}
	if got := loose.Staging(); len(got) != 1 {
		t.Errorf("Staging() len = %d, want 1", len(got))
	}
	if got := loose.Commit(); len(got) != 0 {
		t.Errorf("Commit() = %v, want no changes", got)
	}
}

func TestStagedRejectsTypeChange(t *testing.T) {
	base := NewBasic(New("a", 1))
	staged := NewStaged(base, false)

	if staged.Put(New("a", "one")) {
		t.Error("Put() with different type = true, want false")
	}
	if staged.IsStaging() {
		t.Error("IsStaging() = true after rejected put")
	}
}

func TestStagedClear(t *testing.T) {
	base := NewBasic(New("a", 1))
	staged := NewStaged(base, false)
	staged.Put(New("a", 2))
	staged.ClearStaged()

	if got := Int(staged, "a"); got != 1 {
		t.Errorf("Int() after clear = %d, want 1", got)
	}
	if got := staged.Commit(); got != nil {
		t.Errorf("Commit() after clear = %v, want nil", got)
	}
}

func TestPutBit(t *testing.T) {
	base := NewBasic(New("gv.current_alarms", int64(0b110)))
	staged := NewStaged(base, false)

	PutBit(staged, "gv.current_alarms", 0b010, false)
	if got := Int64(staged, "gv.current_alarms"); got != 0b100 {
		t.Errorf("after clear bit = %b, want 100", got)
	}
	PutBit(staged, "gv.current_alarms", 0b001, true)
	if got := Int64(staged, "gv.current_alarms"); got != 0b101 {
		t.Errorf("after set bit = %b, want 101", got)
	}
}

func TestReadOnly(t *testing.T) {
	base := NewBasic(New("0.name", "kitchen"))
	ro := NewReadOnly(base)

	if got := Text(ro, "0.name"); got != "kitchen" {
		t.Errorf("Text() = %q, want kitchen", got)
	}
	if got := len(ro.All()); got != 1 {
		t.Errorf("All() len = %d, want 1", got)
	}

	var empty ReadOnly
	if _, ok := empty.Get("x"); ok {
		t.Error("zero ReadOnly Get() ok = true")
	}
}
