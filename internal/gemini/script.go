package gemini

import (
	"context"
	"fmt"
	"path/filepath"

	"google.golang.org/genai"

	"github.com/scivid/scivid/internal/document"
	"github.com/scivid/scivid/internal/script"
)

// GenerateScript uploads the document, waits for it to become active and
// asks the script model for structured JSON. The raw response text is
// returned for the caller to parse.
func (c *Client) GenerateScript(ctx context.Context, pdfPath, displayName, systemInstruction string, schema map[string]any) (string, error) {
	if displayName == "" {
		displayName = filepath.Base(pdfPath)
	}

	c.logger.Info("uploading document", "name", displayName)
	file, err := c.client.Files.UploadFromPath(ctx, pdfPath, &genai.UploadFileConfig{
		MIMEType:    document.MIMEType,
		DisplayName: displayName,
	})
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}
	defer func() {
		if _, err := c.client.Files.Delete(context.WithoutCancel(ctx), file.Name, nil); err != nil {
			c.logger.Warn("failed to delete uploaded document", "file", file.Name, "error", err)
		}
	}()

	file, err = c.waitForFile(ctx, file)
	if err != nil {
		return "", err
	}

	parts := []*genai.Part{
		genai.NewPartFromURI(file.URI, file.MIMEType),
		genai.NewPartFromText(script.ScriptRequest),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	c.logger.Info("generating script", "model", c.cfg.ScriptModel)
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.ScriptModel, contents, &genai.GenerateContentConfig{
		SystemInstruction:  genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:        genai.Ptr[float32](0.7),
		TopP:               genai.Ptr[float32](0.95),
		TopK:               genai.Ptr[float32](40),
		MaxOutputTokens:    8192,
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: schema,
	})
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generate script: empty response")
	}
	return text, nil
}

func (c *Client) waitForFile(ctx context.Context, file *genai.File) (*genai.File, error) {
	name := file.Name
	attempt := 0
	err := poll(ctx, c.cfg.FilePollInterval, c.cfg.FilePollAttempts+1, func(ctx context.Context) (bool, error) {
		if attempt > 0 {
			f, err := c.client.Files.Get(ctx, name, nil)
			if err != nil {
				return false, fmt.Errorf("get file state: %w", err)
			}
			file = f
		}
		attempt++

		switch file.State {
		case genai.FileStateActive:
			return true, nil
		case genai.FileStateFailed:
			return false, fmt.Errorf("file processing failed: %s", name)
		}
		c.logger.Debug("waiting for file processing", "file", name, "attempt", attempt, "state", file.State)
		return false, nil
	})
	if err == ErrPollExhausted {
		return nil, fmt.Errorf("file processing timeout: %s", name)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("document ready", "uri", file.URI)
	return file, nil
}
