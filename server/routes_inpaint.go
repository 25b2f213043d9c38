// routes_inpaint.go - Inferenz- und Modell-Handler
// Enthaelt: InpaintHandler (JSON), InpaintFormHandler (multipart), ShowHandler, handleError

package server

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deepfusion/dfnet/api"
	"github.com/deepfusion/dfnet/imageproc"
	"github.com/deepfusion/dfnet/ml"
	"github.com/deepfusion/dfnet/model"
	"github.com/deepfusion/dfnet/runner"
)

// Fehler-Definitionen
var (
	errBadRequest = errors.New("bad request")
	errTooLarge   = errors.New("image too large")
)

// handleError bildet Fehler auf HTTP-Status ab
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, errTooLarge),
		errors.Is(err, imageproc.ErrUnsupportedFormat),
		errors.Is(err, runner.ErrBadOptions),
		errors.Is(err, runner.ErrMaskSize),
		errors.Is(err, ml.ErrShape):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.JSON(499, gin.H{"error": "request canceled"})
	case errors.Is(err, ErrMaxQueue):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("inpaint failed", "request_id", c.GetString(requestIDKey), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// checkPixels begrenzt width*height auf DFNET_MAX_PIXELS
func (s *Server) checkPixels(what string, width, height int) error {
	if pixels := uint64(width) * uint64(height); s.maxPixels > 0 && pixels > s.maxPixels {
		return fmt.Errorf("%w: %s %dx%d exceeds %d pixels", errTooLarge, what, width, height, s.maxPixels)
	}
	return nil
}

// inpaint dekodiert, prueft, wartet auf einen Platz und fuehrt das Modell aus
func (s *Server) inpaint(ctx context.Context, req *api.InpaintRequest) (*api.InpaintResponse, error) {
	if len(req.Image) == 0 || len(req.Mask) == 0 {
		return nil, fmt.Errorf("%w: image and mask are required", errBadRequest)
	}

	// Groessen aus den Headern pruefen, bevor Pixel alloziert werden
	for _, in := range []struct {
		name string
		data []byte
	}{{"image", req.Image}, {"mask", req.Mask}} {
		w, h, err := imageproc.DecodeSize(in.data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errBadRequest, in.name, err)
		}
		if err := s.checkPixels(in.name, w, h); err != nil {
			return nil, err
		}
	}
	if req.Size > 0 {
		if err := s.checkPixels("size", req.Size, req.Size); err != nil {
			return nil, err
		}
	}

	img, err := imageproc.LoadImageFromBytes(req.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: image: %w", errBadRequest, err)
	}

	mask, err := imageproc.DecodeMask(req.Mask, req.InvertMask)
	if err != nil {
		return nil, fmt.Errorf("%w: mask: %w", errBadRequest, err)
	}
	if mask.Width != img.Width || mask.Height != img.Height {
		mask = mask.Resize(img.Width, img.Height)
	}

	opts := s.runner.Options()
	opts.Merge = req.Merge == nil || *req.Merge
	opts.InvertMask = req.InvertMask
	opts.Size = req.Size
	opts.Format = cmp.Or(req.Format, "png")
	opts.Quality = req.Quality
	r, err := s.runner.WithOptions(opts)
	if err != nil {
		return nil, err
	}

	release, err := s.queue.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := r.Inpaint(ctx, img, mask)
	if err != nil {
		return nil, err
	}

	format := imageproc.FormatFromExtension(opts.Format)
	resp := &api.InpaintResponse{
		Format:        format.String(),
		Width:         img.Width,
		Height:        img.Height,
		Holes:         result.Metrics.Holes,
		TotalDuration: result.Duration,
	}

	var buf bytes.Buffer
	if err := imageproc.Encode(&buf, result.Image, format, opts.Quality); err != nil {
		return nil, err
	}
	resp.Image = bytes.Clone(buf.Bytes())

	if req.Alpha && result.Alpha != nil {
		buf.Reset()
		if err := imageproc.Encode(&buf, result.Alpha, imageproc.FormatPNG, 0); err != nil {
			return nil, err
		}
		resp.Alpha = bytes.Clone(buf.Bytes())
	}
	if req.Raw && result.Raw != nil {
		buf.Reset()
		if err := imageproc.Encode(&buf, result.Raw, imageproc.FormatPNG, 0); err != nil {
			return nil, err
		}
		resp.Raw = bytes.Clone(buf.Bytes())
	}

	return resp, nil
}

// InpaintHandler verarbeitet POST /api/inpaint (JSON mit base64-Bildern)
func (s *Server) InpaintHandler(c *gin.Context) {
	var req api.InpaintRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	resp, err := s.inpaint(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	slog.Info("inpaint", "request_id", c.GetString(requestIDKey), "width", resp.Width, "height", resp.Height, "holes", resp.Holes, "duration", time.Since(start))
	c.JSON(http.StatusOK, resp)
}

func readFormFile(c *gin.Context, name string) ([]byte, error) {
	fh, err := c.FormFile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func formBool(c *gin.Context, name string, def bool) (bool, error) {
	s := c.PostForm(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}
	return b, nil
}

// InpaintFormHandler verarbeitet POST /api/inpaint/form (multipart) und antwortet mit dem kodierten Bild
func (s *Server) InpaintFormHandler(c *gin.Context) {
	var req api.InpaintRequest
	var err error

	if req.Image, err = readFormFile(c, "image"); err != nil {
		handleError(c, err)
		return
	}
	if req.Mask, err = readFormFile(c, "mask"); err != nil {
		handleError(c, err)
		return
	}

	merge, err := formBool(c, "merge", true)
	if err != nil {
		handleError(c, err)
		return
	}
	req.Merge = &merge

	if req.InvertMask, err = formBool(c, "invert_mask", false); err != nil {
		handleError(c, err)
		return
	}

	if size := c.PostForm("size"); size != "" {
		if req.Size, err = strconv.Atoi(size); err != nil {
			handleError(c, fmt.Errorf("%w: size: %w", errBadRequest, err))
			return
		}
	}
	if quality := c.PostForm("quality"); quality != "" {
		if req.Quality, err = strconv.Atoi(quality); err != nil {
			handleError(c, fmt.Errorf("%w: quality: %w", errBadRequest, err))
			return
		}
	}
	req.Format = c.PostForm("format")

	resp, err := s.inpaint(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("X-Total-Duration", resp.TotalDuration.String())
	c.Data(http.StatusOK, imageproc.FormatFromExtension(resp.Format).MimeType(), resp.Image)
}

// ShowHandler gibt Informationen ueber das geladene Modell zurueck
func (s *Server) ShowHandler(c *gin.Context) {
	var req api.ShowRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		req.Verbose, _ = strconv.ParseBool(c.Query("verbose"))
	}

	resp, err := ShowModel(s.runner.Model(), req.Verbose)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ShowModel beschreibt ein Modell; verbose listet die Tensoren des Checkpoints
func ShowModel(m model.Model, verbose bool) (*api.ShowResponse, error) {
	info := m.Info()

	cfg, err := json.Marshal(m.Config())
	if err != nil {
		return nil, err
	}

	resp := &api.ShowResponse{
		Architecture: info.Architecture,
		Path:         info.Path,
		Parameters:   info.Params,
		Multiple:     m.Multiple(),
		Config:       cfg,
		LoadDuration: info.LoadDuration,
	}

	if verbose && info.Path != "" {
		src, err := model.Open(info.Path)
		if err != nil {
			return nil, err
		}
		defer src.Close()

		resp.Tensors = orderedmap.New[string, api.TensorInfo]()
		for _, name := range src.Names() {
			ti, err := src.Info(name)
			if err != nil {
				return nil, err
			}
			resp.Tensors.Set(name, api.TensorInfo{DType: ti.DType, Shape: ti.Shape})
		}
	}

	return resp, nil
}
