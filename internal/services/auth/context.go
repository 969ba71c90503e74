package auth

import "context"

type identityContextKey string

const identityKey identityContextKey = "auth_identity"

// Identity is what the external identity provider vouches for.
type Identity struct {
	UserID    string
	Email     string
	Name      string
	AvatarURL string
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	if !ok || identity.UserID == "" {
		return Identity{}, false
	}
	return identity, true
}
