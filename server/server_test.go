package server_test

import (
	"go/types"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasdaq/xdmactl/server"
)

func TestHumanPayload(t *testing.T) {
	cases := []struct {
		hp   server.HumanPayload
		body string
	}{
		{server.HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{server.HumanPayload{T: types.Int, Int: -3}, `{"int":-3}`},
		{server.HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
		{server.HumanPayload{T: types.String, String: "S2MM"}, `{"str":"S2MM"}`},
		{server.HumanPayload{T: types.Uint32, Uint32: 0xAAAAAAFA}, `{"u32":2863311610}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, c.hp.EncodeAndRespond(w, r))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, c.body, w.Body.String())
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	}
}
