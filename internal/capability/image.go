package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/artifact"
)

// ImageRequest asks the image capability for one illustration.
type ImageRequest struct {
	Word        string
	Homophone   string
	Story       string
	Style       artifact.ImageStyle
	Instruction string
}

type ImageResult struct {
	URL    string
	Prompt string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

const DefaultImageSize = "1328*1328"

// ImageSize maps an aspect ratio onto a supported output size.
func ImageSize(aspectRatio string) string {
	switch strings.TrimSpace(aspectRatio) {
	case "16:9":
		return "1664*928"
	case "4:3":
		return "1472*1140"
	case "3:4":
		return "1140*1472"
	case "9:16":
		return "928*1664"
	default:
		return DefaultImageSize
	}
}

// BuildImagePrompt renders the scene description plus style tags.
func BuildImagePrompt(req ImageRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Illustration for the English word %q.", req.Word)
	if req.Story != "" {
		fmt.Fprintf(&b, " Scene: %s", req.Story)
	}
	if req.Homophone != "" {
		fmt.Fprintf(&b, " Memory hook: %s.", req.Homophone)
	}
	if req.Instruction != "" {
		fmt.Fprintf(&b, " Adjustment: %s.", req.Instruction)
	}
	b.WriteString(" No text or letters in the image.")

	var tags []string
	if req.Style.Style != "" {
		tags = append(tags, req.Style.Style)
	}
	if req.Style.Mood != "" {
		tags = append(tags, req.Style.Mood)
	}
	for _, t := range req.Style.ExtraTags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > 0 {
		b.WriteString("\n\nStyle tags: ")
		b.WriteString(strings.Join(tags, ", "))
	}
	return b.String()
}
