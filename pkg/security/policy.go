package security

import (
	"fmt"
	"maps"
	"slices"

	"webkernel/pkg/kerr"

	"github.com/puzpuzpuz/xsync/v4"
)

// Policy is a sandbox applied to every process spawned from one program.
type Policy struct {
	// Promises, when non-nil, is intersected with the parent's promises.
	Promises *Promise
	// Unveils are added to the inherited ones, after which unveil is locked.
	Unveils []UnveilPath
}

// NewPolicy builds a policy from its configured form: nil promises leave
// the parent's unchanged, and unveil maps paths to permissions.
func NewPolicy(promises *string, unveil map[string]string) (Policy, error) {
	var policy Policy
	if promises != nil {
		p, err := ParsePromises(*promises)
		if err != nil {
			return Policy{}, err
		}
		policy.Promises = &p
	}
	for _, path := range slices.Sorted(maps.Keys(unveil)) {
		policy.Unveils = append(policy.Unveils, UnveilPath{Path: path, Permissions: unveil[path]})
	}
	return policy, nil
}

// Policies maps program paths to policies. It is safe for concurrent use.
type Policies struct {
	byProgram *xsync.Map[string, Policy]
}

// NewPolicies returns an empty policy set.
func NewPolicies() *Policies {
	return &Policies{byProgram: xsync.NewMap[string, Policy]()}
}

// Set installs the policy for the absolute program path, replacing any
// earlier one. Processes already running keep their sandbox.
func (p *Policies) Set(program string, policy Policy) error {
	for _, u := range policy.Unveils {
		if !ValidatePermissions(u.Permissions) {
			return kerr.Wrap(kerr.ErrInvalidArgument,
				fmt.Sprintf("%s: bad unveil permissions %q", program, u.Permissions))
		}
	}
	p.byProgram.Store(program, policy)
	return nil
}

// Remove drops the policy of program.
func (p *Policies) Remove(program string) {
	p.byProgram.Delete(program)
}

// Lookup returns the policy of program.
func (p *Policies) Lookup(program string) (Policy, bool) {
	return p.byProgram.Load(program)
}

// Len returns the number of policies.
func (p *Policies) Len() int {
	return p.byProgram.Size()
}

// Apply returns the sandbox for a process of program whose parent has
// sandbox parent. Without a policy the parent's sandbox is inherited as is.
func (p *Policies) Apply(program string, parent Sandbox) (Sandbox, error) {
	if p == nil {
		return parent, nil
	}
	policy, ok := p.byProgram.Load(program)
	if !ok {
		return parent, nil
	}

	sb := parent
	if policy.Promises != nil {
		sb = sb.Restrict(*policy.Promises)
	}
	if len(policy.Unveils) > 0 {
		var err error
		for _, u := range policy.Unveils {
			if sb, err = sb.Unveil(u.Path, u.Permissions); err != nil {
				return parent, err
			}
		}
		sb = sb.Lock()
	}
	return sb, nil
}
