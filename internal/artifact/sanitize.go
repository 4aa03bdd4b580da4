package artifact

import (
	"path"
	"strings"
)

// SanitizeFilename reduces a submitted filename to its basename so uploaded
// names can never escape the job directory. Backslashes are treated as
// separators too, so Windows-style paths sanitize the same way. Names that
// reduce to nothing usable ("", ".", "..", "/") become "file".
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "file"
	}
	return base
}
