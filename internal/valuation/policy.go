package valuation

import "context"

// CompanyPolicySource resolves the costing policy of the company owning a
// location. An empty string means no policy is configured anywhere along
// the location's branch hierarchy.
type CompanyPolicySource interface {
	CostingPolicy(ctx context.Context, locationID int64) (string, error)
}

// PolicyResolver picks the valuation method for one operation: explicit
// override first, then the owning company's policy, then the default.
type PolicyResolver struct {
	source   CompanyPolicySource
	fallback Method
}

// NewPolicyResolver constructs a resolver. An unrecognised default string
// falls back to FIFO.
func NewPolicyResolver(source CompanyPolicySource, defaultMethod string) *PolicyResolver {
	fallback := MethodFIFO
	if defaultMethod != "" {
		fallback = ParseMethod(defaultMethod)
	}
	return &PolicyResolver{source: source, fallback: fallback}
}

// Resolve returns the method for an operation at the given location.
// Unknown policy strings resolve to FIFO rather than failing; a typo'd
// company policy therefore silently costs as FIFO.
func (r *PolicyResolver) Resolve(ctx context.Context, explicit string, locationID int64) (Method, error) {
	if explicit != "" {
		return ParseMethod(explicit), nil
	}
	if r.source != nil {
		policy, err := r.source.CostingPolicy(ctx, locationID)
		if err != nil {
			return "", err
		}
		if policy != "" {
			return ParseMethod(policy), nil
		}
	}
	return r.fallback, nil
}
