package policyopa

import "chimera/internal/domain"

// StaticPolicy is the fallback tool policy used when no rego bundle is
// configured. The required capability defaults to the tool name itself.
type StaticPolicy struct {
	restricted map[string]struct{}
	caps       map[string]domain.Capability
}

func NewStaticPolicy(restricted []string, caps map[string]domain.Capability) *StaticPolicy {
	set := make(map[string]struct{}, len(restricted))
	for _, tool := range restricted {
		set[tool] = struct{}{}
	}
	if caps == nil {
		caps = map[string]domain.Capability{}
	}
	return &StaticPolicy{restricted: set, caps: caps}
}

func (p *StaticPolicy) Restricted(tool string) (bool, error) {
	_, ok := p.restricted[tool]
	return ok, nil
}

func (p *StaticPolicy) RequiredCapability(tool string) domain.Capability {
	if cap, ok := p.caps[tool]; ok {
		return cap
	}
	return domain.Capability(tool)
}
