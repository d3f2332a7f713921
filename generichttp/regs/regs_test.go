package regs_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasdaq/xdmactl/generichttp/regs"
	"github.com/dasdaq/xdmactl/xdma"
)

func newServer(t *testing.T) (*httptest.Server, *xdma.Device) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xdma0_user")
	require.NoError(t, os.WriteFile(path, make([]byte, 0x1000), 0o644))
	d, err := xdma.NewDevice(nil, path, path, 0, 0x1000)
	require.NoError(t, err)
	r := chi.NewRouter()
	regs.NewHTTPRegisters(d).RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, d
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestRegisterRoutes(t *testing.T) {
	srv, d := newServer(t)
	code, _ := do(t, http.MethodPost, srv.URL+"/register/0x10", `{"u32": 2863311530}`)
	require.Equal(t, http.StatusOK, code)
	v, err := d.ReadRegister(0x10, xdma.Width32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAAAAAAAA), v)

	code, _ = do(t, http.MethodPost, srv.URL+"/field/0x10", `{"start": 4, "length": 4, "value": 15, "strict": true}`)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, http.MethodGet, srv.URL+"/register/16", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"u32": 2863311610}`, body)

	code, body = do(t, http.MethodGet, srv.URL+"/field/0x10?start=4&length=4", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"u32": 15}`, body)

	code, body = do(t, http.MethodGet, srv.URL+"/register/0x10?width=8", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"u32": 250}`, body)

	code, body = do(t, http.MethodGet, srv.URL+"/bit/0x10/3", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"bool": true}`, body)
}

func TestRegisterRouteErrors(t *testing.T) {
	srv, _ := newServer(t)
	code, _ := do(t, http.MethodGet, srv.URL+"/register/0x1000", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/register/0x2", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodGet, srv.URL+"/register/zz", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, srv.URL+"/register/0x4?width=8", `{"u32": 256}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, srv.URL+"/field/0x4", `{"start": 30, "length": 4, "value": 1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, http.MethodPost, srv.URL+"/field/0x4", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEndpoints(t *testing.T) {
	srv, _ := newServer(t)
	code, body := do(t, http.MethodGet, srv.URL+"/endpoints", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "GET /register/{addr}")
	assert.Contains(t, body, "POST /field/{addr}")
}
