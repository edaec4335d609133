package domain

// PolicyMode selects between the hardened configuration and the
// intentionally insecure lab configuration. It is the single toggle for
// every deliberately disabled check; no other code path weakens
// validation.
type PolicyMode string

const (
	PolicyStrict PolicyMode = "STRICT"
	// PolicyVulnerableDemo skips delegation-chain validation (the
	// leaf-claimed scope is accepted as-is) and the guest
	// restricted-tool rule, reproducing the misconfiguration the
	// sandbox exists to demonstrate.
	PolicyVulnerableDemo PolicyMode = "VULNERABLE_DEMO"
)

func ParsePolicyMode(s string) PolicyMode {
	if s == string(PolicyVulnerableDemo) {
		return PolicyVulnerableDemo
	}
	return PolicyStrict
}

// ToolPolicy answers whether a tool is restricted. Restricted tools are
// denied to guest-bound sessions regardless of negotiated scope.
type ToolPolicy interface {
	Restricted(tool string) (bool, error)
	// RequiredCapability maps a tool name to the capability a session
	// must hold to invoke it.
	RequiredCapability(tool string) Capability
}
