package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// User is one directory entry from a user search.
type User struct {
	AccountID   string
	DisplayName string
}

type userSearchResponse struct {
	Results []struct {
		User struct {
			AccountID   string `json:"accountId"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"results"`
}

// SearchUsers finds users whose full name matches the given name.
func (c *Client) SearchUsers(ctx context.Context, name string) ([]User, error) {
	cql := fmt.Sprintf("user.fullname~%q", name)
	path := "/rest/api/search/user?cql=" + url.QueryEscape(cql)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed userSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("confluence: decoding user search response: %w", err)
	}

	users := make([]User, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		users = append(users, User{
			AccountID:   r.User.AccountID,
			DisplayName: r.User.DisplayName,
		})
	}

	return users, nil
}
