package session

import "github.com/scivid/scivid/internal/script"

const base64Placeholder = "[BASE64_DATA]"

// WritePreview saves a copy of swi with image payloads replaced by a
// placeholder, small enough to read in an editor.
func (s *Session) WritePreview(swi *script.ScriptWithImages) error {
	preview := *swi
	preview.Scenes = make([]script.ImageScene, len(swi.Scenes))
	for i, sc := range swi.Scenes {
		if sc.ImageBase64 != nil {
			placeholder := base64Placeholder
			sc.ImageBase64 = &placeholder
		}
		preview.Scenes[i] = sc
	}
	return s.SaveJSON(PreviewFile, &preview)
}
