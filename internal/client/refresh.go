package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/transport"
	"github.com/kimhsiao/gatesync/internal/uuid"
)

// refresh exchanges the stored refresh token for new tokens over route and writes
// them to the session before returning. It runs at most once per call.
func (c *Client) refresh(ctx context.Context, route transport.Route, requestID string) error {
	url, err := c.session.URL(RefreshPath)
	if err != nil {
		return err
	}
	body, err := json.Marshal(models.RefreshRequest{RefreshToken: c.session.RefreshToken()})
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "encode refresh request", err)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(uuid.RequestIDHeader, requestID)

	logCtx := map[string]interface{}{
		"request_id": requestID,
		"route":      route.String(),
	}
	c.log.Info("access token rejected, refreshing", logCtx)

	resp, err := c.transport.Perform(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    url,
		Header: h,
		Body:   body,
	}, route)
	if err != nil {
		c.metrics.Refresh(ctx, false)
		c.log.ErrorWithCode("token refresh failed", string(errors.ErrRefreshFailed), err, logCtx)
		return errors.RefreshFailed("token refresh", err)
	}
	if !resp.OK {
		c.metrics.Refresh(ctx, false)
		msg := parseServerMessage(resp.Body)
		cause := errors.HTTP(resp.Status, firstNonEmpty(msg.detail(), msg.Message), msg.Code)
		c.log.ErrorWithCode("token refresh rejected", string(errors.ErrRefreshFailed), cause, logCtx,
			map[string]interface{}{"response": describe(resp)})
		return errors.RefreshFailed("token refresh rejected", cause)
	}

	var tokens models.Tokens
	if err := resp.JSON(&tokens); err != nil || tokens.AccessToken == "" {
		c.metrics.Refresh(ctx, false)
		if err == nil {
			err = errors.New(errors.ErrInternal, "no access_token in refresh response")
		}
		return errors.RefreshFailed("token refresh returned an unusable body", err)
	}
	if err := c.session.SetTokens(ctx, tokens); err != nil {
		c.metrics.Refresh(ctx, false)
		return err
	}

	c.metrics.Refresh(ctx, true)
	c.log.Info("access token refreshed", logCtx, map[string]interface{}{
		"rotated": tokens.RefreshToken != "",
	})
	return nil
}
