// Package generichttp defines interfaces for generic devices
// and an extensible type that wraps them in an HTTP interface
package generichttp

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi"

	"github.com/dasdaq/xdmactl/server"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps methods and paths to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns the sorted list of "METHOD /path" strings in the table
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for mp := range rt {
		out = append(out, mp.Method+" "+mp.Path)
	}
	sort.Strings(out)
	return out
}

// Bind binds the route table to a chi router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		server.ReplyJSON(w, rt.Endpoints())
	})
}

// HTTPer is an interface which allows types to yield their route tables
type HTTPer interface {
	RT() RouteTable
}

// RT returns rt, a bare RouteTable is an HTTPer
func (rt RouteTable) RT() RouteTable {
	return rt
}

// SubMuxSanitize converts a URL endpoint such as "xdma0/dma" into the
// "/xdma0/dma" form chi expects when mounting a sub-router
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.Trim(str, "/")
	return "/" + str
}

// ParseAddress parses a register address in any base Go understands,
// "16", "0x10", "0o20", "0b10000"
func ParseAddress(s string) (int64, error) {
	a, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	return a, nil
}

// QueryUint parses the named query parameter as an unsigned integer, or
// returns def if it is absent
func QueryUint(r *http.Request, name string, def uint64) (uint64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s=%q: %w", name, s, err)
	}
	return v, nil
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// GetJSON calls a getter and returns its result encoded as JSON
func GetJSON[T any](fcn func() (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		server.ReplyJSON(w, v)
	}
}

// Do calls an action with no inputs or outputs
func Do(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// DecodeBody decodes the JSON request body into v, replying 400 and returning
// false on failure
func DecodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
