package middleware

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f3efe6"/><circle cx="75" cy="85" r="22" fill="#b9a98f"/><circle cx="125" cy="85" r="22" fill="#b9a98f"/><path d="M40 150c0-22 16-36 35-36s35 14 35 36zM90 150c0-22 16-36 35-36s35 14 35 36z" fill="#cdbfa6"/><text x="100" y="185" text-anchor="middle" font-family="Arial" font-size="14" fill="#7a6e5a">FAMILY</text></svg>`

// GroupImageServer serves group cover images from dir and falls back to a
// placeholder when a group has none on disk.
func GroupImageServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Clean("/" + r.URL.Path)
		path := filepath.Join(dir, name)

		if info, err := os.Stat(path); err == nil && !info.IsDir() && strings.HasPrefix(path, filepath.Clean(dir)) {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
