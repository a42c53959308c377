package export

import (
	"github.com/gomlx/exporter/trace"
	"github.com/gomlx/exporter/types"
)

// variableSink accumulates the distinct variables an artifact will store,
// partitioned into trainable and non-trainable. Identity is the variable
// handle; the first insertion of a handle fixes both its position and its
// partition, so the order resources are tracked and endpoints are added is the
// order the artifact stores state in.
type variableSink struct {
	seen         types.Set[uint64]
	trainable    []trace.Variable
	nonTrainable []trace.Variable
}

func newVariableSink() *variableSink {
	return &variableSink{seen: types.MakeSet[uint64]()}
}

func (s *variableSink) add(v trace.Variable, trainable bool) bool {
	if s.seen.Has(v.Handle()) {
		return false
	}
	s.seen.Insert(v.Handle())
	if trainable {
		s.trainable = append(s.trainable, v)
	} else {
		s.nonTrainable = append(s.nonTrainable, v)
	}
	return true
}

func (s *variableSink) addUses(uses []trace.VariableUse) {
	for _, use := range uses {
		s.add(use.Variable, use.Trainable)
	}
}

func (s *variableSink) len() int { return len(s.trainable) + len(s.nonTrainable) }

// all returns the collected variables, trainable first, each partition in
// insertion order.
func (s *variableSink) all() []trace.Variable {
	all := make([]trace.Variable, 0, s.len())
	all = append(all, s.trainable...)
	all = append(all, s.nonTrainable...)
	return all
}
