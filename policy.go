package entitlement

import (
	cedar "github.com/cedar-policy/cedar-go"
)

// Tenant-authored access policies. Some schools grant course access beyond
// the built-in rules — a support role, an internal review group — and express
// those rules in Cedar. The policy set is consulted only after every
// built-in branch of CheckCourseAccess has declined, so a policy can add a
// grant but can never revoke one: absence of a permit, like an explicit
// forbid, leaves the built-in denial in place.
//
// Requests are shaped as:
//
//	principal: User::"<email>"
//	action:    Action::"view"
//	resource:  Course::"<course id>"
//	context:   { role, access_level, school }

// CompileAccessPolicies parses Cedar policy source into a policy set usable
// with WithAccessPolicies. The name is used in parse error positions.
//
// Example:
//
//	ps, err := CompileAccessPolicies("school.cedar", []byte(src))
//	if err != nil {
//		return err
//	}
//	engine := NewEngine(gw, WithAccessPolicies(ps))
func CompileAccessPolicies(name string, src []byte) (*cedar.PolicySet, error) {
	ps, err := cedar.NewPolicySetFromBytes(name, src)
	if err != nil {
		return nil, &EngineError{
			Code:    ErrorCodeInvalidInput,
			Message: "failed to compile access policies",
			Cause:   err,
		}
	}
	return ps, nil
}

func (e *Engine) policyAllows(course Course, userEmail string, role Role) bool {
	if e.policies == nil {
		return false
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("User", cedar.String(userEmail)),
		Action:    cedar.NewEntityUID("Action", "view"),
		Resource:  cedar.NewEntityUID("Course", cedar.String(course.ID)),
		Context: cedar.NewRecord(cedar.RecordMap{
			"role":         cedar.String(string(role)),
			"access_level": cedar.String(string(course.AccessLevel)),
			"school":       cedar.String(course.SchoolID),
		}),
	}

	decision, _ := e.policies.IsAuthorized(cedar.EntityMap{}, req)
	return decision == cedar.Allow
}
