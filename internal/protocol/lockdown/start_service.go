package lockdown

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/plist"
)

// StartServiceRequest asks lockdown to start a named service.
type StartServiceRequest struct {
	Label   string `plist:"Label"`
	Request string `plist:"Request"`
	Service string `plist:"Service"`
}

// ServiceDescriptor is where a started service can be reached.
type ServiceDescriptor struct {
	Service string
	Port    uint16
	TLS     bool
}

// StartService starts name and returns the port it listens on.
func (c *Client) StartService(ctx context.Context, name string) (ServiceDescriptor, error) {
	req := StartServiceRequest{Label: c.label, Request: RequestStartService, Service: name}
	resp, err := c.exchange(ctx, RequestStartService, req)
	if err != nil {
		return ServiceDescriptor{}, err
	}

	port, err := resp.Uint("Port")
	if err != nil {
		return ServiceDescriptor{}, unexpected(RequestStartService, err)
	}
	if port == 0 || port > math.MaxUint16 {
		return ServiceDescriptor{}, fmt.Errorf("%w: %s: port %d out of range", ErrUnexpectedResponse, RequestStartService, port)
	}

	enableSSL, err := resp.Bool("EnableServiceSSL")
	if err != nil && !errors.Is(err, plist.ErrMissingField) {
		return ServiceDescriptor{}, unexpected(RequestStartService, err)
	}

	logger.Debug("lockdown started %s on port %d (tls=%t)", name, port, enableSSL)
	return ServiceDescriptor{Service: name, Port: uint16(port), TLS: enableSSL}, nil
}
