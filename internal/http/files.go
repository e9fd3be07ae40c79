package http

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/framegrab/internal/frames"
)

const (
	defaultThumbCacheSize = 512
	thumbCacheTTL         = time.Hour
)

type cachedFile struct {
	data    []byte
	modTime time.Time
}

// fileServer serves frames and thumbnails from the image directory. Only
// names that look like frames or thumbnails are served; thumbnails are kept
// in an LRU since gallery views request them in bulk.
type fileServer struct {
	dir    string
	thumbs *expirable.LRU[string, cachedFile]
}

func newFileServer(dir string, cacheSize int) *fileServer {
	if cacheSize <= 0 {
		cacheSize = defaultThumbCacheSize
	}
	return &fileServer{
		dir:    dir,
		thumbs: expirable.NewLRU[string, cachedFile](cacheSize, nil, thumbCacheTTL),
	}
}

func (fs *fileServer) handle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !frames.IsServable(name) {
		http.NotFound(w, r)
		return
	}

	if strings.HasPrefix(name, "thumb_") {
		fs.serveThumb(w, r, name)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	http.ServeFile(w, r, filepath.Join(fs.dir, name))
}

func (fs *fileServer) serveThumb(w http.ResponseWriter, r *http.Request, name string) {
	entry, ok := fs.thumbs.Get(name)
	if !ok {
		path := filepath.Join(fs.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		st, err := os.Stat(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		entry = cachedFile{data: data, modTime: st.ModTime()}
		fs.thumbs.Add(name, entry)
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	http.ServeContent(w, r, name, entry.modTime, bytes.NewReader(entry.data))
}
