package campaign

import "strconv"

// Placeholder attribute values for padded roster entries.
const (
	PlaceholderRace  = "Unknown"
	PlaceholderClass = "Unknown"
)

// Placeholder returns the filler character for 1-based roster position i.
func Placeholder(i int) Character {
	return Character{
		Name:  "TBD " + strconv.Itoa(i),
		Race:  PlaceholderRace,
		Class: PlaceholderClass,
		Level: 1,
	}
}

// MergeRoster combines the existing roster with a newly generated one and
// returns exactly size characters.
//
// Characters are identified by Key. When locked, existing characters come
// first in their original order and generated ones fill the remaining
// places; otherwise generated characters win and existing ones form the
// tail. Duplicates and nameless entries are dropped, the result is cut to
// size, and missing places are filled with Placeholder entries numbered
// from the next free position. A negative
// size is treated as zero.
//
// MergeRoster is deterministic, and merging its result again with no new
// characters returns the same roster.
func MergeRoster(existing, generated []Character, size int, locked bool) []Character {
	if size < 0 {
		size = 0
	}

	first, second := generated, existing
	if locked {
		first, second = existing, generated
	}

	out := make([]Character, 0, size)
	seen := make(map[string]bool, len(first)+len(second))
	for _, list := range [][]Character{first, second} {
		for _, c := range list {
			if len(out) == size {
				break
			}
			key := c.Key()
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, cloneCharacter(c))
		}
	}

	for n := len(out) + 1; len(out) < size; n++ {
		filler := Placeholder(n)
		if seen[filler.Key()] {
			continue
		}
		seen[filler.Key()] = true
		out = append(out, filler)
	}
	return out
}

func cloneCharacter(c Character) Character {
	if c.Traits != nil {
		traits := make(map[string]string, len(c.Traits))
		for k, v := range c.Traits {
			traits[k] = v
		}
		c.Traits = traits
	}
	return c
}

// usableCharacters counts generated characters with a name.
func usableCharacters(cs []Character) int {
	n := 0
	for _, c := range cs {
		if c.Key() != "" {
			n++
		}
	}
	return n
}
