package cloud

// InlineMedia carries bytes in a JSON body; Data is base64 on the wire.
type InlineMedia struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ImagePayload is the request body sent to POST /v1/images.
type ImagePayload struct {
	ShotID      string `json:"shot_id"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// VideoPayload is the request body sent to POST /v1/videos.
type VideoPayload struct {
	ShotID      string      `json:"shot_id"`
	Model       string      `json:"model"`
	Prompt      string      `json:"prompt"`
	AspectRatio string      `json:"aspect_ratio,omitempty"`
	Image       InlineMedia `json:"image"`
}

// MediaResponse is returned by the image and video endpoints. Either Data or
// URI is set.
type MediaResponse struct {
	InlineMedia
	Model string `json:"model,omitempty"`
}

// FramePayload is one sampled still in a breakdown request.
type FramePayload struct {
	TimestampSeconds float64 `json:"timestamp_seconds"`
	InlineMedia
}

// BreakdownPayload is the request body sent to POST /v1/breakdown. The
// response body is the raw breakdown document.
type BreakdownPayload struct {
	Model        string         `json:"model"`
	System       string         `json:"system,omitempty"`
	Prompt       string         `json:"prompt"`
	Frames       []FramePayload `json:"frames,omitempty"`
	ReferenceURL string         `json:"reference_url,omitempty"`
}
