// types.go - API-Typen (Fehler, Inpaint, Show)
// Enthaelt: StatusError, ImageData, InpaintRequest, InpaintResponse, ShowRequest, ShowResponse, TensorInfo
package api

import (
	"encoding/json"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the dfnet server logs for details"
	}
}

// ImageData represents the raw binary data of an image file.
// It is base64 encoded on the wire.
type ImageData []byte

// InpaintRequest is the request passed to [Client.Inpaint].
type InpaintRequest struct {
	// Image is the encoded input image (png, jpeg, webp, gif, bmp).
	Image ImageData `json:"image"`

	// Mask is the encoded hole mask; white marks missing pixels.
	Mask ImageData `json:"mask"`

	// Merge keeps the original pixels outside the holes; true when unset.
	Merge *bool `json:"merge,omitempty"`

	// InvertMask treats black mask pixels as holes.
	InvertMask bool `json:"invert_mask,omitempty"`

	// Size resizes the input to Size x Size for inference; 0 keeps the native resolution.
	Size int `json:"size,omitempty"`

	// Format is the output encoding (png, jpeg, bmp); png when empty.
	Format string `json:"format,omitempty"`

	// Quality is the JPEG quality.
	Quality int `json:"quality,omitempty"`

	// Alpha requests the blend weights of the finest fusion layer.
	Alpha bool `json:"alpha,omitempty"`

	// Raw requests the unblended prediction of the finest fusion layer.
	Raw bool `json:"raw,omitempty"`
}

// InpaintResponse is the response returned from [Client.Inpaint].
type InpaintResponse struct {
	Image  ImageData `json:"image"`
	Alpha  ImageData `json:"alpha,omitempty"`
	Raw    ImageData `json:"raw,omitempty"`
	Format string    `json:"format"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Holes  int       `json:"holes"`

	TotalDuration time.Duration `json:"total_duration,omitempty"`
}

// ShowRequest is the request passed to [Client.Show].
type ShowRequest struct {
	// Verbose adds the tensor listing of the checkpoint.
	Verbose bool `json:"verbose,omitempty"`
}

// TensorInfo describes one checkpoint tensor.
type TensorInfo struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// ShowResponse is the response returned from [Client.Show].
type ShowResponse struct {
	Architecture string          `json:"architecture"`
	Path         string          `json:"path"`
	Parameters   uint64          `json:"parameters"`
	Multiple     int             `json:"multiple"`
	Config       json.RawMessage `json:"config,omitempty"`
	LoadDuration time.Duration   `json:"load_duration,omitempty"`

	// Tensors keeps the checkpoint order.
	Tensors *orderedmap.OrderedMap[string, TensorInfo] `json:"tensors,omitempty"`
}
