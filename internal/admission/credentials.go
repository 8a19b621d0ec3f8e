package admission

import "context"

// CredentialGate refuses requests whose bearer token failed verification.
// The auth middleware runs in deferred mode and only records the failure, so
// the request log still sees the request before it is turned away.
type CredentialGate struct{}

func NewCredentialGate() *CredentialGate {
	return &CredentialGate{}
}

func (g *CredentialGate) Intercept(_ context.Context, req *Request) error {
	if req.AuthFailure == "" {
		return nil
	}
	return rejectInvalidCredentials(req.AuthFailure)
}
