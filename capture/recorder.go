package capture

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/dasdaq/xdmactl/generichttp"
	"github.com/dasdaq/xdmactl/server"
)

// Recorder saves frames as numbered FITS files in yyyy-mm-dd subfolders of
// Root, e.g. Root/2024-05-01/frame_000012.fits
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled is not used by the recorder, consumers check it before calling Save
	Enabled bool
}

// NewRecorder returns a recorder writing under root
func NewRecorder(root, prefix string, enabled bool) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Enabled: enabled}
}

func (r *Recorder) folder(t time.Time) string {
	return filepath.Join(r.Root, t.Format("2006-01-02"))
}

// next scans dir and returns the number following the highest one in use
func (r *Recorder) next(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := -1
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits"))
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	return count + 1, nil
}

// Save writes f to the next file of the day's folder and returns its path
func (r *Recorder) Save(f Frame, metadata ...fitsio.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := f.Time
	if t.IsZero() {
		t = time.Now()
	}
	dir := r.folder(t)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", err
	}
	n, err := r.next(dir)
	if err != nil {
		return "", err
	}
	fn := filepath.Join(dir, fmt.Sprintf("%s%06d.fits", r.Prefix, n))
	fid, err := os.OpenFile(fn, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	if err := f.WriteFITS(fid, metadata...); err != nil {
		return fn, err
	}
	return fn, fid.Close()
}

// Settings is the JSON form of a recorder's settings
type Settings struct {
	Root    string `json:"root"`
	Prefix  string `json:"prefix"`
	Enabled bool   `json:"enabled"`
}

// Settings returns a snapshot of the recorder's settings
func (r *Recorder) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Settings{Root: r.Root, Prefix: r.Prefix, Enabled: r.Enabled}
}

// Inject adds GET and POST /autowrite to other, which report and replace
// the recorder's settings, and GET /autowrite/enabled
func (r *Recorder) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite"}] = r.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite"}] = r.HTTPSet
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = func(w http.ResponseWriter, req *http.Request) {
		hp := server.HumanPayload{T: types.Bool, Bool: r.Settings().Enabled}
		hp.EncodeAndRespond(w, req)
	}
}

// HTTPGet replies with the recorder's Settings
func (r *Recorder) HTTPGet(w http.ResponseWriter, req *http.Request) {
	server.ReplyJSON(w, r.Settings())
}

// HTTPSet replaces the recorder's settings with the Settings in the request
// body.  The root folder is created immediately so a bad root is reported
// now rather than at the next Save.
func (r *Recorder) HTTPSet(w http.ResponseWriter, req *http.Request) {
	var s Settings
	err := json.NewDecoder(req.Body).Decode(&s)
	defer req.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(s.Root, 0o777); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.Root, r.Prefix, r.Enabled = s.Root, s.Prefix, s.Enabled
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
