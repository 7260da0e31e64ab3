package state

// ObjectiveKind names a routing preference.
type ObjectiveKind string

const (
	ObjectiveCost        ObjectiveKind = "cost"
	ObjectiveReliability ObjectiveKind = "reliability"
	ObjectiveFairness    ObjectiveKind = "fairness"
	ObjectiveQuality     ObjectiveKind = "quality"
	ObjectiveLatency     ObjectiveKind = "latency"
	ObjectiveSpeed       ObjectiveKind = "speed"
)

// Valid reports whether k is a recognized objective.
func (k ObjectiveKind) Valid() bool {
	switch k {
	case ObjectiveCost, ObjectiveReliability, ObjectiveFairness,
		ObjectiveQuality, ObjectiveLatency, ObjectiveSpeed:
		return true
	}
	return false
}

func (k ObjectiveKind) String() string { return string(k) }

// Objective is the preference the router optimizes for: a primary kind,
// optional secondary kinds, and optional weights. When Weights is non-empty
// the multi-objective strategy composes the named kinds; otherwise the
// primary kind alone selects the strategy.
type Objective struct {
	Primary   ObjectiveKind   `json:"primary"`
	Secondary []ObjectiveKind `json:"secondary,omitempty"`

	// Weights maps objective kinds to values in [0, 1]. Kinds named in
	// Primary or Secondary without a weight share the unassigned remainder
	// equally.
	Weights map[ObjectiveKind]float64 `json:"weights,omitempty"`

	// Constraints carries caller-supplied hard constraints, passed through
	// to strategies without interpretation here.
	Constraints map[string]any `json:"constraints,omitempty"`
}

// ObjectiveFor builds a primary-only objective from a kind name. Unknown
// names fall back to fairness, the router default.
func ObjectiveFor(name string) Objective {
	k := ObjectiveKind(name)
	if !k.Valid() {
		k = ObjectiveFairness
	}
	return Objective{Primary: k}
}

// Kinds returns the primary followed by the secondary kinds, deduplicated,
// preserving order.
func (o Objective) Kinds() []ObjectiveKind {
	out := make([]ObjectiveKind, 0, 1+len(o.Secondary))
	seen := make(map[ObjectiveKind]bool, 1+len(o.Secondary))
	for _, k := range append([]ObjectiveKind{o.Primary}, o.Secondary...) {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Clone returns a deep copy.
func (o Objective) Clone() Objective {
	out := o
	if o.Secondary != nil {
		out.Secondary = append([]ObjectiveKind(nil), o.Secondary...)
	}
	if o.Weights != nil {
		out.Weights = make(map[ObjectiveKind]float64, len(o.Weights))
		for k, v := range o.Weights {
			out.Weights[k] = v
		}
	}
	if o.Constraints != nil {
		out.Constraints = make(map[string]any, len(o.Constraints))
		for k, v := range o.Constraints {
			out.Constraints[k] = v
		}
	}
	return out
}
