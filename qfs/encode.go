package qfs

const (
	hashBits   = 16
	chainDepth = 32

	maxOffset   = 131072
	maxCopy     = 1028
	maxLiterals = 112
)

type matcher struct {
	src  []byte
	head []int32
	prev []int32
}

func newMatcher(src []byte) *matcher {
	m := &matcher{
		src:  src,
		head: make([]int32, 1<<hashBits),
		prev: make([]int32, len(src)),
	}
	for i := range m.head {
		m.head[i] = -1
	}
	return m
}

func (m *matcher) hash(i int) uint32 {
	v := uint32(m.src[i]) | uint32(m.src[i+1])<<8 | uint32(m.src[i+2])<<16
	return (v * 2654435761) >> (32 - hashBits)
}

func (m *matcher) insert(i int) {
	if i+3 > len(m.src) {
		return
	}
	h := m.hash(i)
	m.prev[i] = m.head[h]
	m.head[h] = int32(i) //nolint:gosec // len(src) < 1<<32 and positions fit in practice
}

// encodable reports whether a copy of length n at distance off fits one of
// the three copy command forms.
func encodable(n, off int) bool {
	switch {
	case n >= 5:
		return off <= maxOffset
	case n == 4:
		return off <= 16384
	case n == 3:
		return off <= 1024
	}
	return false
}

// longest returns the best encodable match for position i.
func (m *matcher) longest(i int) (length, offset int) {
	if i+3 > len(m.src) {
		return 0, 0
	}
	limit := min(maxCopy, len(m.src)-i)
	cand := m.head[m.hash(i)]
	for depth := 0; cand >= 0 && depth < chainDepth; depth++ {
		c := int(cand)
		off := i - c
		if off > maxOffset {
			break
		}
		n := 0
		for n < limit && m.src[c+n] == m.src[i+n] {
			n++
		}
		if n > length && encodable(n, off) {
			length, offset = n, off
			if n == limit {
				break
			}
		}
		cand = m.prev[c]
	}
	return length, offset
}

func (m *matcher) encode(out []byte) []byte {
	src := m.src
	lit := 0
	i := 0
	for i < len(src) {
		n, off := m.longest(i)
		if n == 0 {
			m.insert(i)
			i++
			continue
		}
		out = flushLiterals(out, src[lit:i])
		plain := src[lit+(i-lit)&^3 : i]
		out = appendCopy(out, plain, n, off)
		for j := i; j < i+n; j++ {
			m.insert(j)
		}
		i += n
		lit = i
	}
	out = flushLiterals(out, src[lit:])
	rest := src[lit+(len(src)-lit)&^3:]
	out = append(out, 0xFC|byte(len(rest)))
	return append(out, rest...)
}

// flushLiterals writes all but the last len(p)%4 bytes of p as literal
// commands.
func flushLiterals(out, p []byte) []byte {
	for len(p) >= 4 {
		n := min(maxLiterals, len(p)&^3)
		out = append(out, 0xE0|byte((n-4)>>2))
		out = append(out, p[:n]...)
		p = p[n:]
	}
	return out
}

func appendCopy(out, plain []byte, n, off int) []byte {
	p := byte(len(plain))
	o := off - 1
	switch {
	case n <= 10 && off <= 1024:
		out = append(out,
			byte(o>>3&0x60)|byte(n-3)<<2|p,
			byte(o))
	case n <= 67 && off <= 16384:
		out = append(out,
			0x80|byte(n-4),
			p<<6|byte(o>>8),
			byte(o))
	default:
		l := n - 5
		out = append(out,
			0xC0|byte(o>>16)<<4|byte(l>>8)<<2|p,
			byte(o>>8),
			byte(o),
			byte(l))
	}
	return append(out, plain...)
}
