// Package webui embeds the app shell served to browsers.
package webui

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed static
var static embed.FS

// Assets returns the shell assets. A non-empty dir overrides the embedded
// copy.
func Assets(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
