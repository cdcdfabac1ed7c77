// Package pipeline runs the stages against a session directory: each stage
// loads the previous stage's JSON, does its work and saves its own output.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/scivid/scivid/internal/session"
	"github.com/scivid/scivid/internal/stages"
)

// Stage names a pipeline step.
type Stage string

const (
	StageScript Stage = stages.StepScript
	StageImages Stage = stages.StepImages
	StageVideos Stage = stages.StepVideos
	StageConcat Stage = stages.StepConcat
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageScript, StageImages, StageVideos, StageConcat}

// ParseStage resolves a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

func (s Stage) Valid() bool {
	switch s {
	case StageScript, StageImages, StageVideos, StageConcat:
		return true
	}
	return false
}

// Next returns the stage after s; false after concat.
func (s Stage) Next() (Stage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

// InputFile is the session file the stage reads.
func (s Stage) InputFile() string {
	switch s {
	case StageScript:
		return session.SourceFile
	case StageImages:
		return session.ScriptFile
	case StageVideos:
		return session.ScriptWithImagesFile
	case StageConcat:
		return session.FinalOutputFile
	}
	return ""
}

// OutputFile is the session file the stage writes.
func (s Stage) OutputFile() string {
	switch s {
	case StageScript:
		return session.ScriptFile
	case StageImages:
		return session.ScriptWithImagesFile
	case StageVideos:
		return session.FinalOutputFile
	case StageConcat:
		return session.ConcatResultFile
	}
	return ""
}

// Remote reports whether the stage calls the generative API.
func (s Stage) Remote() bool {
	return s != StageConcat
}

// ResumePoint returns the first stage whose output is missing. done is true
// when the session has already been concatenated.
func ResumePoint(sess *session.Session) (next Stage, done bool) {
	completed := sess.CompletedStage()
	if completed == "" {
		return StageScript, false
	}
	next, ok := Stage(completed).Next()
	return next, !ok
}
