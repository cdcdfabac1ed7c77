package script

import (
	"fmt"
	"strings"
)

// Style is the visual style applied to every scene of a video.
type Style string

const (
	StyleCinematic  Style = "cinematic"
	StyleAcademic   Style = "academic"
	StyleAnime      Style = "anime"
	StyleMinimalist Style = "minimalist"

	DefaultStyle = StyleCinematic
)

// NegativePrompt lists what image generation should avoid.
const NegativePrompt = "text, watermark, logo, cartoon, distorted anatomy, blurry, low quality, ugly, deformed, extra limbs"

// Styles lists the available styles in display order.
var Styles = []Style{StyleCinematic, StyleAcademic, StyleAnime, StyleMinimalist}

type styleInfo struct {
	displayName string
	imagePrompt string
	guide       string
}

var styleTable = map[Style]styleInfo{
	StyleCinematic: {
		displayName: "Cinematic: epic, dramatic lighting",
		imagePrompt: "cinematic film style, dramatic lighting, high contrast, movie-like composition, volumetric rays, hyper-realistic",
		guide: `**Cinematic Style**: Epic, movie-like visuals with dramatic camera movements.
- Camera: Sweeping dolly shots, dramatic zooms, slow-motion reveals
- Lighting: High contrast, volumetric rays, dramatic shadows
- Textures: Hyper-realistic materials, glossy surfaces, metallic reflections
- Color: Deep blacks, rich highlights, color grading like Hollywood films`,
	},
	StyleAcademic: {
		displayName: "Academic: rigorous, data visualization",
		imagePrompt: "scientific illustration, technical diagram style, clean and precise, Nature/Science journal quality, electron microscopy aesthetic",
		guide: `**Academic/Hardcore Research Style**: Professional scientific visualization with rigorous accuracy.
- Camera: Steady, methodical movements, focus on data and diagrams, smooth transitions between figures
- Lighting: Clean, clinical, laboratory-style lighting, even illumination for clarity
- Textures: Technical diagrams, molecular structures rendered accurately, electron microscopy aesthetics
- Color: Scientific publication color schemes (Nature/Science/Cell style), precise data visualization palettes
- Elements: Include proper scientific labels, scale bars, statistical annotations, pathway diagrams
- Typography: Clean sans-serif fonts, proper scientific notation, Greek symbols where appropriate
- Tone: Authoritative, precise, peer-review quality visuals that could appear in a journal figure`,
	},
	StyleAnime: {
		displayName: "Animation: Pixar and Spider-Verse look",
		imagePrompt: "Pixar/Disney animation style, stylized 3D render, vibrant colors, expressive lighting, Spider-Verse aesthetic",
		guide: `**American Animation Style**: Western cartoon aesthetic inspired by Pixar, Disney, and modern streaming animations (Arcane, Spider-Verse).
- Camera: Dynamic 3D camera movements, dramatic depth of field, cinematic angles like Into the Spider-Verse
- Lighting: Stylized volumetric lighting, expressive shadows, rim lights for character pop
- Textures: Painterly brushstroke overlays, subtle cel-shading, mixed-media effects
- Color: Bold saturated palettes, complementary color contrasts, expressive color grading
- Characters: Expressive faces, exaggerated proportions, fluid squash-and-stretch motion
- Effects: Particle effects, motion blur, comic-book style impact frames`,
	},
	StyleMinimalist: {
		displayName: "Minimalist: math-first visualization",
		imagePrompt: "3Blue1Brown style, dark background with deep blue, clean geometric shapes, mathematical visualization, vector graphics",
		guide: `**Minimalist Style (3Blue1Brown-inspired)**: Clean, math-first visuals that build intuition step-by-step.
- Camera: Smooth, purposeful movements that guide attention; elegant transitions between concepts
- Visuals: Simple geometric shapes, vectors, graphs, and diagrams; NO clutter or decoration
- Animation: Fluid, continuous morphing; objects transform and connect logically; motion reveals relationships
- Color: Dark background (deep blue/black) with vibrant accent colors (blue, yellow, pink, green) for different elements
- Typography: Clean mathematical notation, equations that animate and transform
- Approach: Visual metaphors that make abstract concepts tangible; each frame serves a pedagogical purpose
- Pacing: Let animations breathe, show one idea at a time, build complexity gradually`,
	},
}

// ParseStyle resolves a style label. An empty label yields DefaultStyle.
func ParseStyle(s string) (Style, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultStyle, nil
	}
	st := Style(s)
	if _, ok := styleTable[st]; !ok {
		return "", fmt.Errorf("unknown style %q (available: %s)", s, strings.Join(styleNames(), ", "))
	}
	return st, nil
}

func (s Style) Valid() bool {
	_, ok := styleTable[s]
	return ok
}

func (s Style) DisplayName() string {
	return styleTable[s].displayName
}

// ImagePrompt is the style fragment prepended to image prompts.
func (s Style) ImagePrompt() string {
	return styleTable[s].imagePrompt
}

// Guide is the style guide embedded in the script system instruction.
func (s Style) Guide() string {
	return styleTable[s].guide
}

func styleNames() []string {
	names := make([]string, len(Styles))
	for i, s := range Styles {
		names[i] = string(s)
	}
	return names
}
