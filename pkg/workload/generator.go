package workload

import (
	"math/rand/v2"

	"github.com/marmos91/vdevq/pkg/vdevq"
)

// Op is one generated request.
type Op struct {
	Type        vdevq.IOType
	Offset      int64
	Size        int64
	Priority    int
	Placeholder bool
}

// Generator produces the request stream of one worker. Each worker owns a
// disjoint slice of the region so that concurrent writers never overlap.
type Generator struct {
	spec Spec
	rng  *rand.Rand

	base   int64
	length int64
	cursor int64
	pass   int64
}

// NewGenerator creates the generator for worker w of spec.Workers.
func NewGenerator(spec Spec, w int) *Generator {
	per := spec.Region / int64(spec.Workers)
	per -= per % spec.BlockSize

	seed := spec.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Generator{
		spec:   spec,
		rng:    rand.New(rand.NewPCG(seed, uint64(w))),
		base:   int64(w) * per,
		length: per,
	}
}

// Next returns the next request.
func (g *Generator) Next() Op {
	size := g.size()
	bs := g.spec.BlockSize

	var off int64
	switch g.spec.Pattern {
	case Random:
		off = g.rng.Int64N((g.length-size)/bs+1) * bs
	case Strided:
		if g.cursor+size > g.length {
			// Shift each pass by one block so passes touch new blocks.
			g.pass++
			g.cursor = (g.pass * bs) % g.spec.Stride
			if g.cursor+size > g.length {
				g.cursor = 0
			}
		}
		off = g.cursor
		g.cursor += g.spec.Stride
	default:
		if g.cursor+size > g.length {
			g.cursor = 0
		}
		off = g.cursor
		g.cursor += size
	}

	op := Op{
		Type:     vdevq.Write,
		Offset:   g.base + off,
		Size:     size,
		Priority: g.rng.IntN(g.spec.Priorities),
	}
	if g.rng.Float64() < g.spec.ReadRatio {
		op.Type = vdevq.Read
	} else if g.spec.PlaceholderRatio > 0 && g.rng.Float64() < g.spec.PlaceholderRatio {
		op.Placeholder = true
	}
	return op
}

// size draws a block multiple in [MinSize, MaxSize].
func (g *Generator) size() int64 {
	bs := g.spec.BlockSize
	lo := max(1, g.spec.MinSize/bs)
	hi := g.spec.MaxSize / bs
	if hi <= lo {
		return lo * bs
	}
	return (lo + g.rng.Int64N(hi-lo+1)) * bs
}
