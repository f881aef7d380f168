package problem

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mathrush/backend/internal/models"
)

// Generator produces randomized arithmetic challenges. Each call to Next is
// independent; the only state carried between calls is the random source.
// Safe for concurrent use: one generator is shared by every session, and
// store mutation callbacks may run it from any goroutine.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a generator backed by the given source. Tests pass a seeded
// source for reproducible sequences.
func New(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// NewSeeded returns a generator with its own time-seeded source.
func NewSeeded() *Generator {
	return New(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// Next generates a fresh problem, choosing uniformly between addition,
// subtraction, multiplication and division.
func (g *Generator) Next() models.Problem {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.rng.Intn(4) {
	case 0:
		return g.addition()
	case 1:
		return g.subtraction()
	case 2:
		return g.multiplication()
	default:
		return g.division()
	}
}

func (g *Generator) addition() models.Problem {
	a := g.intn(2, 100)
	b := g.intn(2, 100)
	return models.Problem{
		Text:   fmt.Sprintf("%d + %d", a, b),
		Answer: a + b,
	}
}

// subtraction places the larger operand first so the answer is never negative.
func (g *Generator) subtraction() models.Problem {
	a := g.intn(2, 100)
	b := g.intn(2, 100)
	if b > a {
		a, b = b, a
	}
	return models.Problem{
		Text:   fmt.Sprintf("%d - %d", a, b),
		Answer: a - b,
	}
}

func (g *Generator) multiplication() models.Problem {
	small := g.intn(2, 12)
	large := g.intn(2, 100)
	a, b := small, large
	if g.rng.Intn(2) == 0 {
		a, b = large, small
	}
	return models.Problem{
		Text:   fmt.Sprintf("%d × %d", a, b),
		Answer: a * b,
	}
}

// division is constructed inverse-first: dividend = divisor × quotient, which
// guarantees an exact integer result.
func (g *Generator) division() models.Problem {
	divisor := g.intn(2, 12)
	quotient := g.intn(2, 100)
	dividend := divisor * quotient
	return models.Problem{
		Text:   fmt.Sprintf("%d ÷ %d", dividend, divisor),
		Answer: quotient,
	}
}

// intn draws uniformly from [min, max] inclusive.
func (g *Generator) intn(min, max int) int {
	return min + g.rng.Intn(max-min+1)
}
