package mounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/plist"
)

// QueryPersonalizationManifest asks the device for the manifest it holds for
// an image signature.
//
// A reply without an ImageSignature data field yields ErrNotFound. Any
// failure, that one included, poisons the client: subsequent calls return
// ErrChannelPoisoned and the caller must Close it and connect again.
func (c *Client) QueryPersonalizationManifest(ctx context.Context, personalizedImageType, imageType string, signature []byte) ([]byte, error) {
	var manifest []byte
	err := c.do(ctx, CommandQueryPersonalizationManifest, func(ctx context.Context) (err error) {
		defer func() {
			if err != nil {
				c.poisoned = true
				c.metrics.RecordChannelPoisoned()
				logger.Warn("[%s] Manifest query failed, channel must be re-established: %v", c.id, err)
			}
		}()

		req := queryManifestRequest{
			Command:               CommandQueryPersonalizationManifest,
			PersonalizedImageType: personalizedImageType,
			ImageType:             imageType,
			ImageSignature:        nonNil(signature),
		}
		resp, err := c.exchange(ctx, req)
		if err != nil {
			return err
		}

		manifest, err = resp.Data("ImageSignature")
		if err != nil {
			if de := deviceError(resp); de != "" {
				return fmt.Errorf("%w: %s", ErrNotFound, de)
			}
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// QueryNonce returns the device's personalization nonce. An empty
// personalizedImageType is omitted from the request.
func (c *Client) QueryNonce(ctx context.Context, personalizedImageType string) ([]byte, error) {
	var nonce []byte
	err := c.do(ctx, CommandQueryNonce, func(ctx context.Context) error {
		resp, err := c.exchange(ctx, personalizationRequest{
			Command:               CommandQueryNonce,
			PersonalizedImageType: personalizedImageType,
		})
		if err != nil {
			return err
		}
		nonce, err = resp.Data("PersonalizationNonce")
		if err != nil {
			return fieldError(CommandQueryNonce, "PersonalizationNonce", "data", resp, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nonce, nil
}

// QueryPersonalizationIdentifiers returns the board and chip identifiers a
// signing server needs to personalize an image for this device.
func (c *Client) QueryPersonalizationIdentifiers(ctx context.Context, personalizedImageType string) (*plist.Dict, error) {
	var ids *plist.Dict
	err := c.do(ctx, CommandQueryPersonalizationIdentifiers, func(ctx context.Context) error {
		resp, err := c.exchange(ctx, personalizationRequest{
			Command:               CommandQueryPersonalizationIdentifiers,
			PersonalizedImageType: personalizedImageType,
		})
		if err != nil {
			return err
		}
		ids, err = resp.Dict("PersonalizationIdentifiers")
		if err != nil {
			return fieldError(CommandQueryPersonalizationIdentifiers, "PersonalizationIdentifiers", "dict", resp, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// QueryDeveloperModeStatus reports whether developer mode is enabled.
func (c *Client) QueryDeveloperModeStatus(ctx context.Context) (bool, error) {
	var enabled bool
	err := c.do(ctx, CommandQueryDeveloperModeStatus, func(ctx context.Context) error {
		resp, err := c.exchange(ctx, commandRequest{Command: CommandQueryDeveloperModeStatus})
		if err != nil {
			return err
		}
		enabled, err = resp.Bool("DeveloperModeStatus")
		if err != nil {
			return fieldError(CommandQueryDeveloperModeStatus, "DeveloperModeStatus", "boolean", resp, err)
		}
		return nil
	})
	return enabled, err
}

// Hangup tells the service the host is done and reads its farewell reply.
func (c *Client) Hangup(ctx context.Context) error {
	return c.do(ctx, CommandHangup, func(ctx context.Context) error {
		_, err := c.exchange(ctx, commandRequest{Command: CommandHangup})
		return err
	})
}

// IsNotFound reports whether err means the device holds no manifest.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
