package artifact

// PartSet is a small ordered set of parts.
type PartSet map[Part]bool

func NewPartSet(parts ...Part) PartSet {
	s := make(PartSet, len(parts))
	for _, p := range parts {
		s[p] = true
	}
	return s
}

func (s PartSet) Has(p Part) bool { return s != nil && s[p] }

func (s PartSet) Add(p Part) { s[p] = true }

func (s PartSet) Remove(p Part) { delete(s, p) }

func (s PartSet) Empty() bool { return len(s) == 0 }

// List returns the parts in canonical mnemonic, image, audio order.
func (s PartSet) List() []Part {
	out := make([]Part, 0, len(s))
	for _, p := range []Part{PartMnemonic, PartImage, PartAudio} {
		if s[p] {
			out = append(out, p)
		}
	}
	return out
}

func (s PartSet) Clone() PartSet {
	c := make(PartSet, len(s))
	for p, ok := range s {
		if ok {
			c[p] = true
		}
	}
	return c
}
