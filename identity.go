package authsession

// authIdentity is the default Identity implementation handed out by backends
// that have no richer type of their own.
type authIdentity struct {
	id     string
	claims map[string]any
}

// NewIdentity builds an immutable Identity from a backend subject id and its
// claims. The claims map is copied.
func NewIdentity(id string, claims map[string]any) Identity {
	cloned := make(map[string]any, len(claims))
	for k, v := range claims {
		cloned[k] = v
	}
	return authIdentity{id: id, claims: cloned}
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Claims() map[string]any {
	cloned := make(map[string]any, len(a.claims))
	for k, v := range a.claims {
		cloned[k] = v
	}
	return cloned
}

var _ Identity = authIdentity{}
