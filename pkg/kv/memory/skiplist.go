package memory

const (
	maxSkiplistLevel = 16
	skiplistP        = 0.25
)

type skiplistNode struct {
	member   string
	score    float64
	backward *skiplistNode
	forward  []*skiplistNode
}

func (n *skiplistNode) next() *skiplistNode {
	return n.forward[0]
}

// skiplist keeps sorted set members ordered by (score, member)
type skiplist struct {
	head   *skiplistNode
	tail   *skiplistNode
	level  int
	length int
	rng    uint64
}

func newSkiplist() *skiplist {
	return &skiplist{
		head: &skiplistNode{forward: make([]*skiplistNode, maxSkiplistLevel)},
		rng:  0x9E3779B97F4A7C15,
	}
}

// before reports whether n sorts ahead of (score, member)
func (n *skiplistNode) before(score float64, member string) bool {
	if n.score != score {
		return n.score < score
	}
	return n.member < member
}

// randomLevel draws a geometric level with xorshift64
func (s *skiplist) randomLevel() int {
	level := 0
	for level < maxSkiplistLevel-1 {
		s.rng ^= s.rng << 13
		s.rng ^= s.rng >> 7
		s.rng ^= s.rng << 17
		if float64(s.rng&0xFFFF) >= skiplistP*0xFFFF {
			break
		}
		level++
	}
	return level
}

func (s *skiplist) insert(member string, score float64) {
	update := make([]*skiplistNode, maxSkiplistLevel)
	x := s.head
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && x.forward[i].before(score, member) {
			x = x.forward[i]
		}
		update[i] = x
	}

	level := s.randomLevel()
	if level > s.level {
		for i := s.level + 1; i <= level; i++ {
			update[i] = s.head
		}
		s.level = level
	}

	node := &skiplistNode{member: member, score: score, forward: make([]*skiplistNode, level+1)}
	for i := 0; i <= level; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	if update[0] != s.head {
		node.backward = update[0]
	}
	if node.forward[0] != nil {
		node.forward[0].backward = node
	} else {
		s.tail = node
	}
	s.length++
}

func (s *skiplist) remove(member string, score float64) bool {
	update := make([]*skiplistNode, maxSkiplistLevel)
	x := s.head
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && x.forward[i].before(score, member) {
			x = x.forward[i]
		}
		update[i] = x
	}
	x = x.forward[0]
	if x == nil || x.score != score || x.member != member {
		return false
	}
	for i := 0; i <= s.level; i++ {
		if update[i].forward[i] != x {
			break
		}
		update[i].forward[i] = x.forward[i]
	}
	if x.forward[0] != nil {
		x.forward[0].backward = x.backward
	} else {
		s.tail = x.backward
	}
	for s.level > 0 && s.head.forward[s.level] == nil {
		s.level--
	}
	s.length--
	return true
}

func (s *skiplist) first() *skiplistNode {
	return s.head.forward[0]
}

func (s *skiplist) last() *skiplistNode {
	return s.tail
}

// rangeByRank returns nodes with rank in [start, stop], both already
// normalized to 0 <= start <= stop < length.
func (s *skiplist) rangeByRank(start, stop int, reverse bool) []*skiplistNode {
	out := make([]*skiplistNode, 0, stop-start+1)
	if reverse {
		n := s.tail
		for i := 0; n != nil && i <= stop; i++ {
			if i >= start {
				out = append(out, n)
			}
			n = n.backward
		}
		return out
	}
	n := s.first()
	for i := 0; n != nil && i <= stop; i++ {
		if i >= start {
			out = append(out, n)
		}
		n = n.next()
	}
	return out
}
