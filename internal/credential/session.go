package credential

import (
	"context"

	"golang.org/x/oauth2"
)

// SessionContext is the identity every lifecycle component is handed explicitly.
// The token is looked up on each call so a refresh by the session manager is
// picked up by long-lived exam streams.
type SessionContext struct {
	UserID string
	store  Store
}

// NewSessionContext binds a user to the store holding their credential.
func NewSessionContext(userID string, store Store) *SessionContext {
	return &SessionContext{UserID: userID, store: store}
}

// Token returns the current access credential.
func (s *SessionContext) Token(ctx context.Context) (string, error) {
	if s == nil || s.store == nil {
		return "", ErrNoCredential
	}
	return s.store.Get(ctx, s.UserID)
}

// TokenSource adapts the session to oauth2 so outbound calls get the
// Authorization header from oauth2.Transport.
func (s *SessionContext) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *SessionContext
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.session.Token(ts.ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
