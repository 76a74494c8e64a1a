package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPTokenValidator checks bearer tokens against the identity
// provider's user-info endpoint.
type HTTPTokenValidator struct {
	userURL string
	cli     *http.Client
}

func NewHTTPTokenValidator(baseURL string, timeout time.Duration) *HTTPTokenValidator {
	return &HTTPTokenValidator{
		userURL: baseURL + "/auth/v1/user",
		cli:     &http.Client{Timeout: timeout},
	}
}

func (v *HTTPTokenValidator) Validate(ctx context.Context, token string) (uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userURL, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build user-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.cli.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("call identity provider: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return uuid.Nil, fmt.Errorf("identity provider rejected token: status %d", resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return uuid.Nil, fmt.Errorf("decode user-info response: %w", err)
	}

	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity provider returned bad user id %q: %w", user.ID, err)
	}

	return userID, nil
}
