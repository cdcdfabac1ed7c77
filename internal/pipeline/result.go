package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

// Result aggregates everything a session has produced so far.
type Result struct {
	SessionID   string               `json:"sessionId"`
	SessionPath string               `json:"sessionPath"`
	Stage       string               `json:"stage"`
	Script      *script.Script       `json:"script,omitempty"`
	FinalOutput *script.FinalOutput  `json:"finalOutput,omitempty"`
	Concat      *script.ConcatResult `json:"concatResult,omitempty"`
	FinalVideo  string               `json:"finalVideo,omitempty"`
}

// LoadResult reads the stage outputs present in the session.
func LoadResult(sess *session.Session) (*Result, error) {
	res := &Result{
		SessionID:   sess.ID,
		SessionPath: sess.PublicPath(),
		Stage:       sess.CompletedStage(),
	}

	var (
		sc     script.Script
		final  script.FinalOutput
		concat script.ConcatResult
	)
	if ok, err := loadOptional(sess, session.ScriptFile, &sc); err != nil {
		return nil, err
	} else if ok {
		res.Script = &sc
	}
	if ok, err := loadOptional(sess, session.FinalOutputFile, &final); err != nil {
		return nil, err
	} else if ok {
		res.FinalOutput = &final
	}
	if ok, err := loadOptional(sess, session.ConcatResultFile, &concat); err != nil {
		return nil, err
	} else if ok {
		res.Concat = &concat
		if rel, err := filepath.Rel(sess.Dir, concat.OutputPath); err == nil && !strings.HasPrefix(rel, "..") {
			res.FinalVideo = sess.PublicPath() + "/" + filepath.ToSlash(rel)
		}
	}
	return res, nil
}

func loadOptional(sess *session.Session, name string, v any) (bool, error) {
	err := sess.LoadJSON(name, v)
	if errors.Is(err, session.ErrMissingInput) {
		return false, nil
	}
	return err == nil, err
}

// Import copies an externally produced input file into the session as the
// input of st, so a single stage can run on it.
func Import(sess *session.Session, st Stage, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %s", session.ErrMissingInput, srcPath)
	}
	defer src.Close()

	dst, err := os.Create(sess.Path(st.InputFile()))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("import %s: %w", srcPath, err)
	}
	return dst.Close()
}
