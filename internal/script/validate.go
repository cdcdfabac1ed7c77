package script

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a script.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid script: " + strings.Join(e.Problems, "; ")
}

// Validate checks that a script has everything downstream stages need.
func Validate(s *Script) error {
	if s == nil {
		return &ValidationError{Problems: []string{"script is empty"}}
	}

	var problems []string
	if strings.TrimSpace(s.Title) == "" {
		problems = append(problems, "missing title")
	}
	if strings.TrimSpace(s.ScientificField) == "" {
		problems = append(problems, "missing scientific_field")
	}
	if len(s.Scenes) == 0 {
		problems = append(problems, "no scenes")
	}

	seen := make(map[int]bool, len(s.Scenes))
	for i, sc := range s.Scenes {
		if sc.ID <= 0 {
			problems = append(problems, fmt.Sprintf("scene %d: missing id", i))
		} else if seen[sc.ID] {
			problems = append(problems, fmt.Sprintf("scene %d: duplicate id %d", i, sc.ID))
		}
		seen[sc.ID] = true
		if strings.TrimSpace(sc.Voiceover) == "" {
			problems = append(problems, fmt.Sprintf("scene %d: missing voiceover", i))
		}
		if strings.TrimSpace(sc.VisualDescription) == "" {
			problems = append(problems, fmt.Sprintf("scene %d: missing visual_description", i))
		}
		if !sc.MotionIntensity.Valid() {
			problems = append(problems, fmt.Sprintf("scene %d: invalid motion_intensity %q", i, sc.MotionIntensity))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
