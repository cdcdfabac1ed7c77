package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/genai"
)

const videoAspectRatio = "16:9"

// ErrNoVideoURI is returned when an extension is requested for a clip the
// service has not finished processing.
var ErrNoVideoURI = errors.New("input video has no URI")

// Clip is a generated video held by the remote service. Bytes is set when
// the service returns the video inline.
type Clip struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type,omitempty"`
	Bytes    []byte `json:"-"`
}

// GenerateFromImage starts a video from an anchor image and waits for it.
func (c *Client) GenerateFromImage(ctx context.Context, prompt string, image []byte, mime string) (*Clip, error) {
	source := &genai.GenerateVideosSource{
		Prompt: prompt,
		Image:  &genai.Image{ImageBytes: image, MIMEType: mime},
	}
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    videoAspectRatio,
	}
	return c.runVideo(ctx, "seed", source, cfg)
}

// ExtendVideo continues prev with prompt and waits for the longer video.
func (c *Client) ExtendVideo(ctx context.Context, prompt string, prev *Clip) (*Clip, error) {
	if prev == nil || prev.URI == "" {
		return nil, ErrNoVideoURI
	}
	mime := prev.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	source := &genai.GenerateVideosSource{
		Prompt: prompt,
		Video:  &genai.Video{URI: prev.URI, MIMEType: mime},
	}
	cfg := &genai.GenerateVideosConfig{NumberOfVideos: 1}
	return c.runVideo(ctx, "extend", source, cfg)
}

func (c *Client) runVideo(ctx context.Context, kind string, source *genai.GenerateVideosSource, cfg *genai.GenerateVideosConfig) (*Clip, error) {
	op, err := c.client.Models.GenerateVideosFromSource(ctx, c.cfg.VideoModel, source, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s video: %w", kind, err)
	}
	c.logger.Info("video operation started", "kind", kind, "operation", op.Name)

	err = poll(ctx, c.cfg.VideoPollInterval, 0, func(ctx context.Context) (bool, error) {
		if op.Done {
			return true, nil
		}
		c.logger.Debug("waiting for video operation", "operation", op.Name)
		next, err := c.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return false, fmt.Errorf("poll video operation: %w", err)
		}
		op = next
		return op.Done, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s video: %w", kind, err)
	}

	clip, err := clipFromOperation(op)
	if err != nil {
		return nil, fmt.Errorf("%s video: %w", kind, err)
	}
	c.logger.Info("video operation completed", "kind", kind, "operation", op.Name, "uri", clip.URI)
	return clip, nil
}

func clipFromOperation(op *genai.GenerateVideosOperation) (*Clip, error) {
	if len(op.Error) > 0 {
		return nil, fmt.Errorf("operation failed: %v", op.Error["message"])
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return nil, errors.New("no video generated")
	}
	v := op.Response.GeneratedVideos[0].Video
	if v == nil || (v.URI == "" && len(v.VideoBytes) == 0) {
		return nil, errors.New("no video generated")
	}
	return &Clip{URI: v.URI, MIMEType: v.MIMEType, Bytes: v.VideoBytes}, nil
}

// Download writes the clip's video to dest.
func (c *Client) Download(ctx context.Context, clip *Clip, dest string) error {
	data := clip.Bytes
	if len(data) == 0 {
		if clip.URI == "" {
			return ErrNoVideoURI
		}
		var err error
		data, err = c.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(&genai.Video{URI: clip.URI}), nil)
		if err != nil {
			return fmt.Errorf("download video: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("write video: %w", err)
	}
	c.logger.Info("video downloaded", "path", dest, "bytes", len(data))
	return nil
}
