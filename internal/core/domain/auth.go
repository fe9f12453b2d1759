package domain

import "time"

type APIKey struct {
	TokenHash string
	TenantID  string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Principal is whoever performs a request: a user acting through an API
// client, or the client itself.
type Principal struct {
	TenantID  string
	ActorID   string
	ActorType ActorType
}

func (p Principal) Ref() ActorRef {
	return ActorRef{ID: p.ActorID, Type: p.ActorType}
}

// ClientPrincipal is the principal of a request made by the client without a user.
func (k APIKey) ClientPrincipal() Principal {
	return Principal{TenantID: k.TenantID, ActorID: k.Name, ActorType: ActorTypeClient}
}
