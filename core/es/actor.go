package es

import "slices"

// Actor identifies the issuer of a command. Its id is stamped on every
// envelope the command produces.
type Actor struct {
	Tenant string   `json:"tenant"`
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles"`
}

// Validate checks the shape required by the command path. Roles may be
// empty but must be present.
func (a *Actor) Validate() error {
	if a == nil {
		return MissingArgument("actor")
	}
	switch {
	case a.Tenant == "":
		return MissingArgument("actor.tenant")
	case a.ID == "":
		return MissingArgument("actor.id")
	case a.Name == "":
		return MissingArgument("actor.name")
	case a.Roles == nil:
		return MissingArgument("actor.roles")
	}
	return nil
}

func (a *Actor) HasRole(role string) bool { return slices.Contains(a.Roles, role) }
