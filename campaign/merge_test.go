package campaign

import (
	"reflect"
	"testing"
)

func names(cs []Character) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func chars(ns ...string) []Character {
	out := make([]Character, len(ns))
	for i, n := range ns {
		out[i] = Character{Name: n, Race: "Human", Class: "Fighter", Level: 3}
	}
	return out
}

// TestMergeRoster verifies ordering, dedup, truncation and padding.
func TestMergeRoster(t *testing.T) {
	tests := []struct {
		name      string
		existing  []Character
		generated []Character
		size      int
		locked    bool
		want      []string
	}{
		{
			name:      "pads short roster",
			generated: chars("Ava", "Bo"),
			size:      3,
			locked:    true,
			want:      []string{"Ava", "Bo", "TBD 3"},
		},
		{
			name:      "locked keeps existing first",
			existing:  chars("Ava", "Bo"),
			generated: chars("Cyr", "Ava", "Dax"),
			size:      4,
			locked:    true,
			want:      []string{"Ava", "Bo", "Cyr", "Dax"},
		},
		{
			name:      "unlocked prefers generated",
			existing:  chars("Ava", "Bo"),
			generated: chars("Cyr", "Dax"),
			size:      3,
			want:      []string{"Cyr", "Dax", "Ava"},
		},
		{
			name:      "dedup is case and space insensitive",
			generated: chars("Ava", " ava ", "AVA", "Bo"),
			size:      2,
			want:      []string{"Ava", "Bo"},
		},
		{
			name:      "nameless entries are dropped",
			generated: chars("", "  ", "Bo"),
			size:      2,
			want:      []string{"Bo", "TBD 2"},
		},
		{
			name:      "truncates to size",
			generated: chars("A", "B", "C", "D"),
			size:      2,
			want:      []string{"A", "B"},
		},
		{
			name:      "filler skips taken names",
			generated: chars("TBD 2"),
			size:      3,
			want:      []string{"TBD 2", "TBD 3", "TBD 4"},
		},
		{
			name: "negative size is empty",
			size: -1,
			want: []string{},
		},
		{
			name:     "single filler collision",
			existing: chars("TBD 2"),
			size:     2,
			want:     []string{"TBD 2", "TBD 3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRoster(tt.existing, tt.generated, tt.size, tt.locked)
			if !reflect.DeepEqual(names(got), tt.want) {
				t.Fatalf("roster = %v, want %v", names(got), tt.want)
			}
		})
	}
}

// TestMergeRosterProperties verifies size, idempotence and determinism over
// a spread of inputs.
func TestMergeRosterProperties(t *testing.T) {
	pools := [][]Character{nil, chars("Ava"), chars("Ava", "Bo", "Cyr"), chars("Bo", "bo", "Eli", "Fen", "Gus")}

	for _, existing := range pools {
		for _, generated := range pools {
			for size := 0; size <= 6; size++ {
				for _, locked := range []bool{false, true} {
					got := MergeRoster(existing, generated, size, locked)
					if len(got) != size {
						t.Fatalf("size %d: got %d characters", size, len(got))
					}

					again := MergeRoster(got, nil, size, locked)
					if !reflect.DeepEqual(again, got) {
						t.Fatalf("not idempotent: %v then %v", names(got), names(again))
					}

					if !reflect.DeepEqual(MergeRoster(existing, generated, size, locked), got) {
						t.Fatal("not deterministic")
					}
				}
			}
		}
	}
}

// TestMergeRosterPrecedence verifies which side's attributes survive when
// both rosters carry the same character.
func TestMergeRosterPrecedence(t *testing.T) {
	existing := []Character{{Name: "Ava", Race: "Elf", Class: "Wizard", Level: 5}}
	generated := []Character{{Name: " ava", Race: "Dwarf", Class: "Cleric", Level: 2}}

	tests := []struct {
		name   string
		locked bool
		want   Character
	}{
		{name: "locked keeps existing", locked: true, want: existing[0]},
		{name: "unlocked takes generated", locked: false, want: generated[0]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRoster(existing, generated, 2, tt.locked)
			if !reflect.DeepEqual(got[0], tt.want) {
				t.Fatalf("first = %+v, want %+v", got[0], tt.want)
			}
			if got[1].Name != "TBD 2" {
				t.Fatalf("second = %+v, want filler", got[1])
			}
		})
	}
}

// TestMergeRosterCopiesTraits verifies the result does not alias inputs.
func TestMergeRosterCopiesTraits(t *testing.T) {
	in := []Character{{Name: "Ava", Traits: map[string]string{"flaw": "proud"}}}
	out := MergeRoster(in, nil, 1, true)
	out[0].Traits["flaw"] = "greedy"
	if in[0].Traits["flaw"] != "proud" {
		t.Fatal("traits aliased")
	}
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder(3)
	if p.Name != "TBD 3" || p.Level != 1 || p.Race != PlaceholderRace || !isPlaceholder(p) {
		t.Fatalf("placeholder = %+v", p)
	}
}
