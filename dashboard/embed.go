// Package dashboard embeds the browser spectator page served by the API.
// The page reads the live battle feed from /api/battle/live.
package dashboard

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var distFS embed.FS

// Index returns the spectator page.
func Index() ([]byte, error) {
	return fs.ReadFile(distFS, "dist/index.html")
}
