package skills

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ImageGenerator is the slice of the model client the image skill needs.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size string) (path string, caption string, err error)
}

// maxImageEdge bounds the longest edge of delivered images; messaging
// transports reject or mangle oversized payloads.
const maxImageEdge = 1280

// ImageSkill generates an image and delivers it as a media reply.
type ImageSkill struct {
	gen ImageGenerator
}

func NewImageSkill(gen ImageGenerator) *ImageSkill {
	return &ImageSkill{gen: gen}
}

func (s *ImageSkill) ID() string { return "image" }

func (s *ImageSkill) Doc() string {
	return "create_image generates a picture from a prompt and sends it to the chat."
}

func (s *ImageSkill) GroupSafe() bool { return true }

func (s *ImageSkill) Tools() []ToolSpec {
	return []ToolSpec{{
		Name:        "create_image",
		Description: "Generate an image from a text prompt and send it",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt": map[string]interface{}{
					"type":        "string",
					"description": "What the image should show",
				},
				"size": map[string]interface{}{
					"type":        "string",
					"description": "Optional size hint like 1024x1024",
				},
			},
			"required": []string{"prompt"},
		},
	}}
}

func (s *ImageSkill) Execute(ctx context.Context, ac *AgentContext, _ string, args map[string]interface{}) *Result {
	if s.gen == nil {
		return ErrorResult(errJSON("image generation is not configured"))
	}
	prompt := argString(args, "prompt")
	if prompt == "" {
		return ErrorResult(errJSON("prompt is required"))
	}
	if ac == nil || ac.SendImage == nil {
		return ErrorResult(errJSON("this chat cannot receive images"))
	}

	path, caption, err := s.gen.GenerateImage(ctx, prompt, argString(args, "size"))
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("image generation failed: %v", err))).WithError(err)
	}
	path = downscale(path)
	if caption == "" {
		caption = prompt
	}
	if err := ac.SendImage(path, caption); err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("image send failed: %v", err))).WithError(err)
	}
	return SilentResult(fmt.Sprintf("image sent: %s", filepath.Base(path)))
}

// downscale shrinks an image whose longest edge exceeds the transport
// bound, writing back in place. Failures fall through to the original file.
func downscale(path string) string {
	img, err := imaging.Open(path)
	if err != nil {
		slog.Warn("image: cannot open for downscale", "path", path, "error", err)
		return path
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxImageEdge && h <= maxImageEdge {
		return path
	}
	var resized image.Image
	if w >= h {
		resized = imaging.Resize(img, maxImageEdge, 0, imaging.Lanczos)
	} else {
		resized = imaging.Resize(img, 0, maxImageEdge, imaging.Lanczos)
	}
	out := path
	if !strings.HasSuffix(out, ".png") && !strings.HasSuffix(out, ".jpg") && !strings.HasSuffix(out, ".jpeg") {
		out += ".png"
	}
	if err := imaging.Save(resized, out); err != nil {
		slog.Warn("image: downscale save failed", "path", out, "error", err)
		return path
	}
	return out
}
