package vm

import (
	"fmt"

	"github.com/vybium/vybium-zinc-vm/internal/vybium-zinc-vm/circuit"
)

// evaluationStack is a stack of segments. Branches and calls fork a fresh
// segment and may only pop what they pushed themselves.
type evaluationStack struct {
	segments [][]circuit.Primitive
	size     int
	limit    int
}

func newEvaluationStack(limit int) *evaluationStack {
	return &evaluationStack{
		segments: [][]circuit.Primitive{make([]circuit.Primitive, 0, 16)},
		limit:    limit,
	}
}

func (s *evaluationStack) top() []circuit.Primitive {
	return s.segments[len(s.segments)-1]
}

// Len returns the number of values in the active segment
func (s *evaluationStack) Len() int {
	return len(s.top())
}

func (s *evaluationStack) push(values ...circuit.Primitive) error {
	if s.size+len(values) > s.limit {
		return fmt.Errorf("%w: limit %d", ErrStackOverflow, s.limit)
	}
	last := len(s.segments) - 1
	s.segments[last] = append(s.segments[last], values...)
	s.size += len(values)
	return nil
}

func (s *evaluationStack) pop() (circuit.Primitive, error) {
	values, err := s.popN(1)
	if err != nil {
		return circuit.Primitive{}, err
	}
	return values[0], nil
}

// popN removes n values and returns them in push order
func (s *evaluationStack) popN(n int) ([]circuit.Primitive, error) {
	last := len(s.segments) - 1
	seg := s.segments[last]
	if n > len(seg) {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrStackUnderflow, n, len(seg))
	}
	out := make([]circuit.Primitive, n)
	copy(out, seg[len(seg)-n:])
	s.segments[last] = seg[:len(seg)-n]
	s.size -= n
	return out, nil
}

// fork opens a new segment
func (s *evaluationStack) fork() {
	s.segments = append(s.segments, make([]circuit.Primitive, 0, 8))
}

// join closes the active segment and returns its values
func (s *evaluationStack) join() ([]circuit.Primitive, error) {
	if len(s.segments) == 1 {
		return nil, fmt.Errorf("%w: no forked segment", ErrUnbalancedStack)
	}
	seg := s.top()
	s.segments = s.segments[:len(s.segments)-1]
	s.size -= len(seg)
	return seg, nil
}
