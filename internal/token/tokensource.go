package token

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var ErrNotAuthenticated = errors.New("not authenticated")

type managerTokenSource struct {
	ctx     context.Context
	manager *Manager
}

// TokenSource exposes the manager as an oauth2.TokenSource, so that any
// client built with oauth2.NewClient shares the same tokens and refreshes.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m}
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.manager.ValidAccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNotAuthenticated
	}

	p, _ := s.manager.Tokens()

	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: p.RefreshToken,
		Expiry:       p.Expiry(),
	}, nil
}
