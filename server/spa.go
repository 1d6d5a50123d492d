package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// spaHandler serves the built UI, falling back to index.html for client side routes.
type spaHandler struct {
	dir        string
	fileServer http.Handler
}

func newSPAHandler(dir string) http.Handler {
	return &spaHandler{
		dir:        dir,
		fileServer: http.FileServer(http.Dir(dir)),
	}
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	info, err := os.Stat(name)
	if err == nil && !info.IsDir() {
		h.fileServer.ServeHTTP(w, r)
		return
	}
	if err != nil && !os.IsNotExist(err) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
}
