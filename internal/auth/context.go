package auth

import (
	"context"
)

type contextKey string

const contextKeyUser contextKey = "user"

// User is the authenticated caller. ID is the identity provider's subject and
// scopes every connection and event.
type User struct {
	ID    string
	Email string
}

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(contextKeyUser).(*User)
	return u, ok && u != nil
}
