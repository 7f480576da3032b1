package lockdown

import (
	"context"
	"fmt"
)

// QueryType asks the endpoint to identify itself and verifies it is lockdown.
func (c *Client) QueryType(ctx context.Context) (string, error) {
	resp, err := c.exchange(ctx, RequestQueryType, request{Label: c.label, Request: RequestQueryType})
	if err != nil {
		return "", err
	}

	typ, err := resp.String("Type")
	if err != nil {
		return "", unexpected(RequestQueryType, err)
	}
	if typ != ServiceType {
		return typ, fmt.Errorf("%w: %s: endpoint type %q", ErrUnexpectedResponse, RequestQueryType, typ)
	}
	return typ, nil
}
