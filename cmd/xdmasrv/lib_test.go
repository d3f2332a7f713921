package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasdaq/xdmactl/xdma"
)

// testCard lays out the device files of one card in a temp dir
func testCard(t *testing.T) (Config, *xdma.Card) {
	t.Helper()
	dir := t.TempDir()
	c := DefaultConfig()
	c.DevDir = dir
	c.UserCapacity = 0x20_0000
	c.DMACapacity = 0x1_0000
	c.Capture.Rows, c.Capture.Cols = 2, 3
	sizes := map[string]int{
		"xdma0_user":    0x15_0000,
		"xdma0_bypass":  0x1000,
		"xdma0_control": xdma.ControlCapacity,
		"xdma0_c2h_0":   int(c.DMACapacity),
		"xdma0_h2c_0":   int(c.DMACapacity),
	}
	for name, n := range sizes {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, n), 0o644))
	}
	roots, err := CardRoots(c)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "xdma0")}, roots)
	card, err := OpenCard(c, roots[0])
	require.NoError(t, err)
	return c, card
}

func serve(t *testing.T, c Config, card *xdma.Card) *httptest.Server {
	t.Helper()
	mux, err := BuildMux(c, []*xdma.Card{card})
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestDefaultConfigIsUsable(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, SetupLogging(c))
	_, err := xdma.ParseNaming(c.Naming)
	assert.NoError(t, err)
	_, err = xdma.ParseAccessMode(c.Access)
	assert.NoError(t, err)
	c.LogFormat = "xml"
	assert.Error(t, SetupLogging(c))
	c.LogFormat, c.LogLevel = "json", "loud"
	assert.Error(t, SetupLogging(c))
}

func TestCardRoutes(t *testing.T) {
	c, card := testCard(t)
	c.Metrics = false
	srv := serve(t, c, card)

	resp, body := call(t, http.MethodGet, srv.URL+"/cards", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["xdma0"]`, string(body))

	resp, _ = call(t, http.MethodPost, srv.URL+"/xdma0/user/register/0x10", `{"u32": 48879}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v, err := card.User.ReadRegister(0x10, xdma.Width32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xBEEF), v)

	resp, body = call(t, http.MethodGet, srv.URL+"/xdma0/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"str": "AXI4 Memory Mapped"}`, string(body))

	// the engine lives at EngineBase in the user BAR
	resp, _ = call(t, http.MethodPost, srv.URL+"/xdma0/dma/rx/direct", `{"addr": 4096, "length": 256}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	length, err := card.User.ReadRegister(c.EngineBase+0x58, xdma.Width32)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), length)

	resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/dma/info", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLockedCardRefusesRequests(t *testing.T) {
	c, card := testCard(t)
	c.Metrics = false
	srv := serve(t, c, card)

	resp, _ := call(t, http.MethodPost, srv.URL+"/xdma0/dma/lock", `{"bool": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/user/register/0x10", "")
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp, body := call(t, http.MethodGet, srv.URL+"/xdma0/dma/lock", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"bool": true}`, string(body))

	resp, _ = call(t, http.MethodPost, srv.URL+"/xdma0/dma/lock", `{"bool": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/user/register/0x10", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCaptureServesFITS(t *testing.T) {
	c, card := testCard(t)
	c.Metrics = false
	samples := []int16{1, -2, 3, -4, 5, -6}
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	f, err := os.OpenFile(card.C2H[0].ReadPath, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(buf, 0x100)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	srv := serve(t, c, card)

	resp, body := call(t, http.MethodGet, srv.URL+"/xdma0/capture?addr=0x100", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/fits", resp.Header.Get("Content-Type"))

	fits, err := fitsio.Open(bytes.NewReader(body))
	require.NoError(t, err)
	defer fits.Close()
	im := fits.HDU(0).(fitsio.Image)
	assert.Equal(t, []int{3, 2}, im.Header().Axes())
	back := make([]int16, len(samples))
	require.NoError(t, im.Read(&back))
	assert.Equal(t, samples, back)

	assert.Empty(t, resp.Header.Get("X-Capture-File"))

	dir := t.TempDir()
	resp, _ = call(t, http.MethodPost, srv.URL+"/xdma0/capture/autowrite", `{"root": "`+dir+`", "prefix": "f_", "enabled": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/capture?addr=0x100", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := resp.Header.Get("X-Capture-File")
	assert.Equal(t, dir, filepath.Dir(filepath.Dir(saved)))
	assert.Equal(t, "f_000000.fits", filepath.Base(saved))
	assert.FileExists(t, saved)

	resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/capture?channel=7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/capture?channel=18446744073709551615", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	for _, q := range []string{"rows=zero", "rows=0", "rows=18446744073709551615", "rows=65536&cols=65536"} {
		resp, _ = call(t, http.MethodGet, srv.URL+"/xdma0/capture?"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestMetrics(t *testing.T) {
	c, card := testCard(t)
	c.Metrics = true
	srv := serve(t, c, card)

	resp, _ := call(t, http.MethodGet, srv.URL+"/xdma0/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := call(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `xdma_axidma_idle{card="xdma0",channel="S2MM"}`)
	assert.Contains(t, text, `xdma_axidma_halted{card="xdma0",channel="MM2S"} 0`)
	assert.Contains(t, text, `xdma_http_requests_total{code="200",method="get"} 1`)
}
