package model

// Principal is the identity a request acts as. It is built by the auth
// middleware and passed explicitly to the data service.
type Principal struct {
	// UserID is auth.id in access rules. Nil means unauthenticated.
	UserID  *int64
	IsAdmin bool
	AdminID int64
	Email   string
	// APIKey is the key that authenticated the request, if any.
	APIKey *APIKey
}

// Authenticated reports whether auth.id is set.
func (p *Principal) Authenticated() bool {
	return p != nil && p.UserID != nil
}

// AdminPrincipal returns the administrative principal for an admin account.
func AdminPrincipal(a *Admin) *Principal {
	id := a.ID
	return &Principal{UserID: &id, IsAdmin: true, AdminID: a.ID, Email: a.Email}
}

// SystemPrincipal is the administrative principal used by local tooling.
func SystemPrincipal() *Principal {
	return &Principal{IsAdmin: true}
}

// KeyPrincipal returns the principal for a validated API key.
func KeyPrincipal(k *APIKey) *Principal {
	return &Principal{UserID: k.OwnerID, APIKey: k}
}
