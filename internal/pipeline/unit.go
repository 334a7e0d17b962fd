package pipeline

import (
	"loom/internal/aspect"
)

// unit is one WorkUnit: the accumulator of a StepKey. Units are created on
// the first contribution, stay in the index forever and execute once. All
// fields are guarded by the owning Scheduler's mutex.
type unit struct {
	key       StepKey
	instances []aspect.Instance // PhaseApply
	sources   []aspect.Source   // PhaseDiscover
	consumed  bool
}

func unitLess(a, b *unit) bool {
	return Compare(a.key, b.key) < 0
}

func (u *unit) addInstance(inst aspect.Instance) {
	if u.consumed {
		assertf("instance %s contributed to consumed unit %s", inst, u.key)
	}
	if u.key.Phase != PhaseApply {
		assertf("instance %s contributed to %s unit", inst, u.key.Phase)
	}
	u.instances = append(u.instances, inst)
}

func (u *unit) addSource(src aspect.Source) {
	if u.consumed {
		assertf("source %s contributed to consumed unit %s", src.Name(), u.key)
	}
	if u.key.Phase != PhaseDiscover {
		assertf("source %s contributed to %s unit", src.Name(), u.key.Phase)
	}
	u.sources = append(u.sources, src)
}

// take marks the unit consumed and hands out its payload.
func (u *unit) take() ([]aspect.Instance, []aspect.Source) {
	if u.consumed {
		assertf("unit %s executed twice", u.key)
	}
	u.consumed = true
	inst, src := u.instances, u.sources
	u.instances, u.sources = nil, nil
	return inst, src
}
