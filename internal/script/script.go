// Package script holds the document model passed between pipeline stages:
// the generated script, its scenes, and the records each later stage
// attaches to them.
package script

import "strings"

// MotionIntensity describes how much movement a scene calls for.
type MotionIntensity string

const (
	MotionLow    MotionIntensity = "Low"
	MotionMedium MotionIntensity = "Medium"
	MotionHigh   MotionIntensity = "High"
)

// Valid reports whether m is one of the known intensities.
func (m MotionIntensity) Valid() bool {
	switch m {
	case MotionLow, MotionMedium, MotionHigh:
		return true
	}
	return false
}

// Scene is one narrated shot of the video.
type Scene struct {
	ID                int             `json:"id" jsonschema_description:"Scene sequence number"`
	Voiceover         string          `json:"voiceover" jsonschema_description:"English voiceover script, conversational and punchy"`
	VisualDescription string          `json:"visual_description" jsonschema_description:"Detailed English visual prompt for video generation"`
	KeyConcepts       []string        `json:"key_scientific_concepts" jsonschema_description:"Key scientific entities that must appear in the visual"`
	MotionIntensity   MotionIntensity `json:"motion_intensity" jsonschema:"enum=Low,enum=Medium,enum=High" jsonschema_description:"The intensity of motion in this scene"`
}

// Script is the output of the script stage.
type Script struct {
	Title           string  `json:"title"`
	ScientificField string  `json:"scientific_field"`
	Style           Style   `json:"style"`
	Scenes          []Scene `json:"scenes"`
}

// ImageScene is a scene after the image stage. Both image fields are nil
// when the scene has no anchor image.
type ImageScene struct {
	Scene
	ImagePath   *string `json:"image_path"`
	ImageBase64 *string `json:"image_base64"`
}

// HasAnchor reports whether the scene carries an anchor image.
func (s ImageScene) HasAnchor() bool {
	return s.ImageBase64 != nil && *s.ImageBase64 != ""
}

// ScriptWithImages is the output of the image stage.
type ScriptWithImages struct {
	Title           string       `json:"title"`
	ScientificField string       `json:"scientific_field"`
	Style           Style        `json:"style"`
	Scenes          []ImageScene `json:"scenes"`
}

// VideoScene is a scene after the video stage. Every scene of a video
// group shares the group's video path.
type VideoScene struct {
	ImageScene
	VideoPath string `json:"video_path"`
	VideoURI  string `json:"video_uri"`
}

// VideoGroup records which scenes were rendered into one video file.
type VideoGroup struct {
	VideoIndex   int    `json:"videoIndex"` // 1-based
	StartSceneID int    `json:"startSceneId"`
	EndSceneID   int    `json:"endSceneId"`
	SceneIDs     []int  `json:"sceneIds"`
	VideoPath    string `json:"videoPath,omitempty"`
}

// FinalOutput is the output of the video stage.
type FinalOutput struct {
	Title           string       `json:"title"`
	ScientificField string       `json:"scientific_field"`
	Style           Style        `json:"style"`
	Scenes          []VideoScene `json:"scenes"`
	VideoGroups     []VideoGroup `json:"videoGroups,omitempty"`
	VideoPaths      []string     `json:"videoPaths,omitempty"`
}

// ConcatResult is the output of the concat stage.
type ConcatResult struct {
	OutputPath string `json:"outputPath"`
	Duration   string `json:"duration"`
	FileSize   string `json:"fileSize"`
	ClipCount  int    `json:"clipCount"`
}

// WithImages converts a script into the image stage's shape with no
// anchors attached.
func (s *Script) WithImages() *ScriptWithImages {
	out := &ScriptWithImages{
		Title:           s.Title,
		ScientificField: s.ScientificField,
		Style:           s.Style,
		Scenes:          make([]ImageScene, len(s.Scenes)),
	}
	for i, sc := range s.Scenes {
		out.Scenes[i] = ImageScene{Scene: sc}
	}
	return out
}

// NeedsAnchor reports whether the scene at index should get an anchor
// image: the first scene always does, later ones only when their motion
// is low.
func NeedsAnchor(index int, sc Scene) bool {
	return index == 0 || sc.MotionIntensity == MotionLow
}

// DataURL encodes a base64 payload as a data URL.
func DataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

// SplitDataURL returns the MIME type and base64 payload of a data URL.
// Plain base64 input is returned with an image/png MIME type.
func SplitDataURL(s string) (mime, b64 string) {
	if !strings.HasPrefix(s, "data:") {
		return "image/png", s
	}
	head, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "image/png", ""
	}
	mime = strings.TrimSuffix(head, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	return mime, payload
}
