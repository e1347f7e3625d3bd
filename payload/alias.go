package payload

import "github.com/juju/errors"

// AliasRegistry holds the name-alias bindings established by the most
// recent birth certificate of a single node. Not safe for concurrent use;
// callers hold their own node lock.
type AliasRegistry struct {
	names map[Alias]string
}

func NewAliasRegistry() *AliasRegistry {
	return &AliasRegistry{names: make(map[Alias]string)}
}

// LearnBirth discards all previous bindings and records every metric of
// the birth payload that carries both a name and an alias. Metrics with
// only one of the two are valid birth content but establish no binding.
func (reg *AliasRegistry) LearnBirth(p *Payload) {
	reg.names = make(map[Alias]string)
	for it := p.Metrics(); ; {
		m, ok := it.Next()
		if !ok {
			break
		}
		if m.HasName && m.HasAlias {
			reg.names[m.Alias] = m.Name
		}
	}
}

// Resolve maps an alias back to the name bound at the last birth.
func (reg *AliasRegistry) Resolve(alias Alias) (string, error) {
	name, ok := reg.names[alias]
	if !ok {
		return "", errors.NotFoundf("alias %d", alias)
	}
	return name, nil
}

func (reg *AliasRegistry) Len() int { return len(reg.names) }
