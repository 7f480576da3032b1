package mounter

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/plist"
)

// CopyDevices lists the images currently mounted on the device.
//
// Entries are returned exactly as sent, in device order. A device with
// nothing mounted yields an empty, non-nil slice.
func (c *Client) CopyDevices(ctx context.Context) ([]plist.Value, error) {
	var entries []plist.Value
	err := c.do(ctx, CommandCopyDevices, func(ctx context.Context) error {
		resp, err := c.exchange(ctx, commandRequest{Command: CommandCopyDevices})
		if err != nil {
			return err
		}

		list, err := resp.Array("EntryList")
		if err != nil {
			return fieldError(CommandCopyDevices, "EntryList", "array", resp, err)
		}

		entries = make([]plist.Value, len(list))
		copy(entries, list)
		c.metrics.SetMountedImages(len(entries))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LookupImage returns the signatures of mounted images of imageType.
//
// A reply without an ImageSignature list means nothing of that type is
// mounted and yields an empty slice.
func (c *Client) LookupImage(ctx context.Context, imageType string) ([][]byte, error) {
	var signatures [][]byte
	err := c.do(ctx, CommandLookupImage, func(ctx context.Context) error {
		resp, err := c.exchange(ctx, lookupImageRequest{Command: CommandLookupImage, ImageType: imageType})
		if err != nil {
			return err
		}

		signatures = [][]byte{}
		if !resp.Has("ImageSignature") {
			return nil
		}
		list, err := resp.Array("ImageSignature")
		if err != nil {
			return fieldError(CommandLookupImage, "ImageSignature", "array", resp, err)
		}
		for i, v := range list {
			sig, err := v.AsData()
			if err != nil {
				return fieldError(CommandLookupImage, fmt.Sprintf("ImageSignature[%d]", i), "data", resp, err)
			}
			signatures = append(signatures, sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signatures, nil
}

// UploadImage transfers image to the device staging area.
//
// The device must acknowledge the offer with ReceiveBytesAck before any
// image byte is written, and report Success once all bytes are received.
func (c *Client) UploadImage(ctx context.Context, imageType string, image, signature []byte) error {
	return c.do(ctx, CommandReceiveBytes, func(ctx context.Context) error {
		req := receiveBytesRequest{
			Command:        CommandReceiveBytes,
			ImageType:      imageType,
			ImageSize:      uint64(len(image)),
			ImageSignature: nonNil(signature),
		}
		resp, err := c.exchange(ctx, req)
		if err != nil {
			return err
		}
		if err := c.expectStatus(CommandReceiveBytes, resp, StatusReceiveBytesAck); err != nil {
			return err
		}

		logger.Debug("[%s] Sending %d image bytes (%s)", c.id, len(image), imageType)
		if err := c.ch.SendRaw(ctx, image); err != nil {
			return err
		}
		c.metrics.RecordBytesUploaded(imageType, int64(len(image)))

		resp, err = c.ch.Read(ctx)
		if err != nil {
			return err
		}
		return c.expectStatus(CommandReceiveBytes, resp, StatusSuccess)
	})
}

// MountImage activates a previously uploaded image.
//
// info is sent as ImageInfoPlist; the zero Value is sent as an empty
// dictionary. trustCache may be empty.
func (c *Client) MountImage(ctx context.Context, imageType string, signature, trustCache []byte, info plist.Value) error {
	if !info.IsValid() {
		info = plist.DictValue(nil)
	}
	return c.do(ctx, CommandMountImage, func(ctx context.Context) error {
		req := mountImageRequest{
			Command:         CommandMountImage,
			ImageType:       imageType,
			ImageSignature:  nonNil(signature),
			ImageTrustCache: nonNil(trustCache),
			ImageInfoPlist:  info,
		}
		resp, err := c.exchange(ctx, req)
		if err != nil {
			return err
		}
		if err := c.expectStatus(CommandMountImage, resp, StatusSuccess); err != nil {
			return err
		}
		logger.Info("[%s] Mounted %s image", c.id, imageType)
		return nil
	})
}

// UnmountImage detaches the image mounted at mountPath.
func (c *Client) UnmountImage(ctx context.Context, mountPath string) error {
	return c.do(ctx, CommandUnmountImage, func(ctx context.Context) error {
		resp, err := c.exchange(ctx, unmountImageRequest{Command: CommandUnmountImage, MountPath: mountPath})
		if err != nil {
			return err
		}
		if err := c.expectStatus(CommandUnmountImage, resp, StatusSuccess); err != nil {
			return err
		}
		logger.Info("[%s] Unmounted %s", c.id, mountPath)
		return nil
	})
}

// MountDeveloper uploads and mounts a developer disk image.
func (c *Client) MountDeveloper(ctx context.Context, image, signature []byte) error {
	if err := c.UploadImage(ctx, ImageTypeDeveloper, image, signature); err != nil {
		return fmt.Errorf("upload developer image: %w", err)
	}
	if err := c.MountImage(ctx, ImageTypeDeveloper, signature, nil, plist.Value{}); err != nil {
		return fmt.Errorf("mount developer image: %w", err)
	}
	return nil
}

// MountPersonalized uploads and mounts a personalized image, using manifest
// as its signature.
func (c *Client) MountPersonalized(ctx context.Context, image, trustCache, manifest []byte, info plist.Value) error {
	if err := c.UploadImage(ctx, ImageTypePersonalized, image, manifest); err != nil {
		return fmt.Errorf("upload personalized image: %w", err)
	}
	if err := c.MountImage(ctx, ImageTypePersonalized, manifest, trustCache, info); err != nil {
		return fmt.Errorf("mount personalized image: %w", err)
	}
	return nil
}
