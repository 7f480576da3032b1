package mounter

import "github.com/marmos91/dittomount/pkg/plist"

// ServiceName is the lockdown service name of the image mounter.
const ServiceName = "com.apple.mobile.mobile_image_mounter"

// Wire command names
const (
	CommandCopyDevices                     = "CopyDevices"
	CommandReceiveBytes                    = "ReceiveBytes"
	CommandMountImage                      = "MountImage"
	CommandUnmountImage                    = "UnmountImage"
	CommandLookupImage                     = "LookupImage"
	CommandQueryPersonalizationManifest    = "QueryPersonalizationManifest"
	CommandQueryNonce                      = "QueryNonce"
	CommandQueryPersonalizationIdentifiers = "QueryPersonalizationIdentifiers"
	CommandQueryDeveloperModeStatus        = "QueryDeveloperModeStatus"
	CommandHangup                          = "Hangup"
)

// Reply status markers
const (
	StatusReceiveBytesAck = "ReceiveBytesAck"
	StatusSuccess         = "Success"
)

// Well-known image types
const (
	ImageTypeDeveloper    = "Developer"
	ImageTypePersonalized = "Personalized"
)

// commandRequest carries commands without arguments.
type commandRequest struct {
	Command string `plist:"Command"`
}

type receiveBytesRequest struct {
	Command        string `plist:"Command"`
	ImageType      string `plist:"ImageType"`
	ImageSize      uint64 `plist:"ImageSize"`
	ImageSignature []byte `plist:"ImageSignature"`
}

type mountImageRequest struct {
	Command         string      `plist:"Command"`
	ImageType       string      `plist:"ImageType"`
	ImageSignature  []byte      `plist:"ImageSignature"`
	ImageTrustCache []byte      `plist:"ImageTrustCache"`
	ImageInfoPlist  plist.Value `plist:"ImageInfoPlist"`
}

type queryManifestRequest struct {
	Command               string `plist:"Command"`
	PersonalizedImageType string `plist:"PersonalizedImageType"`
	ImageType             string `plist:"ImageType"`
	ImageSignature        []byte `plist:"ImageSignature"`
}

type lookupImageRequest struct {
	Command   string `plist:"Command"`
	ImageType string `plist:"ImageType"`
}

type unmountImageRequest struct {
	Command   string `plist:"Command"`
	MountPath string `plist:"MountPath"`
}

// personalizationRequest serves QueryNonce and QueryPersonalizationIdentifiers.
type personalizationRequest struct {
	Command               string `plist:"Command"`
	PersonalizedImageType string `plist:"PersonalizedImageType,omitempty"`
}

// nonNil keeps empty blobs encoded as <data/> rather than dropped.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
