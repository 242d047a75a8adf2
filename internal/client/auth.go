package client

import (
	"context"
	"net/http"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/models"
)

// Login authenticates with {username, password}. If the server answers with a
// rejection it retries once with {email, password}, since deployments differ in the
// field they accept. Both tokens are written to the session on success.
func (c *Client) Login(ctx context.Context, user, password string) (*models.Tokens, error) {
	if user == "" || password == "" {
		return nil, errors.New(errors.ErrInvalid, "user and password are required")
	}

	tokens, err := c.login(ctx, models.LoginRequest{Username: user, Password: password})
	if err != nil {
		if !errors.Is(err, errors.ErrHTTP) && !errors.Is(err, errors.ErrAuthRequired) {
			return nil, err
		}
		c.log.Info("login rejected with username field, retrying with email", map[string]interface{}{
			"status": errors.StatusOf(err),
		})
		tokens, err = c.login(ctx, models.LoginRequest{Email: user, Password: password})
		if err != nil {
			return nil, err
		}
	}

	if err := c.session.ReplaceTokens(ctx, *tokens); err != nil {
		return nil, err
	}
	c.log.Info("logged in")
	return tokens, nil
}

func (c *Client) login(ctx context.Context, body models.LoginRequest) (*models.Tokens, error) {
	res, err := c.Request(ctx, LoginPath, Options{
		Method: http.MethodPost,
		Body:   body,
		NoAuth: true,
	})
	if err != nil {
		return nil, err
	}
	var tokens models.Tokens
	if err := res.Decode(&tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errors.New(errors.ErrInternal, "no access_token in login response")
	}
	return &tokens, nil
}

// Logout forgets the stored tokens. The backend keeps no session to close.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.session.Logout(ctx); err != nil {
		return err
	}
	c.log.Info("logged out")
	return nil
}
