package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/gate"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Response    string     `json:"response"`
	APIKey      flexString `json:"apiKey"`
	AccessToken flexString `json:"accessToken"`
	RespID      flexString `json:"respId"`
}

// Login authenticates the partner account. The returned credential carries
// the token fields only; issue and expiry times are stamped by the caller.
//
// Bad credentials are reported as ErrRejected, including when the partner
// signals them with an HTTP 401.
func (c *Client) Login(ctx context.Context, username, password string) (domain.Credential, error) {
	body, err := c.post(ctx, call{
		endpoint: EndpointLogin,
		path:     PathLogin,
		priority: gate.PriorityHigh,
		body:     loginRequest{Username: username, Password: password},
	})
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return domain.Credential{}, fmt.Errorf("%w: login: %v", ErrRejected, err)
		}
		return domain.Credential{}, err
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: decode login response: %v", ErrRejected, err)
	}
	if !strings.EqualFold(strings.TrimSpace(lr.Response), "success") {
		msg := strings.TrimSpace(lr.Response)
		if msg == "" {
			msg = "no response status"
		}
		return domain.Credential{}, fmt.Errorf("%w: login: %s", ErrRejected, msg)
	}
	if lr.APIKey == "" && lr.AccessToken == "" {
		return domain.Credential{}, fmt.Errorf("%w: login: response carried no credential", ErrRejected)
	}
	return domain.Credential{
		Token:  string(lr.AccessToken),
		APIKey: string(lr.APIKey),
		RespID: string(lr.RespID),
	}, nil
}
