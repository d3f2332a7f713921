// Package regs provides an HTTP interface to a register space
package regs

import (
	"errors"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/dasdaq/xdmactl/axidma"
	"github.com/dasdaq/xdmactl/capture"
	"github.com/dasdaq/xdmactl/generichttp"
	"github.com/dasdaq/xdmactl/server"
	"github.com/dasdaq/xdmactl/xdma"
)

// badRequest errors are the caller's fault and are answered with 400
var badRequest = []error{
	xdma.ErrAddressOutOfRange,
	xdma.ErrAlignment,
	xdma.ErrInvalidWidth,
	xdma.ErrFieldRange,
	xdma.ErrValueOverflow,
	xdma.ErrPathNotConfigured,
	axidma.ErrBufferTooLarge,
	axidma.ErrRingOrder,
	axidma.ErrRingRange,
	axidma.ErrEmptyRing,
	axidma.ErrUnknownChannel,
	capture.ErrEmptyFrame,
	capture.ErrFrameTooLarge,
}

// Error replies to the request with err, as 400 if the request was at
// fault and 500 otherwise
func Error(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	for _, e := range badRequest {
		if errors.Is(err, e) {
			code = http.StatusBadRequest
			break
		}
	}
	http.Error(w, err.Error(), code)
}

// HTTPRegisters wraps a register space in an HTTP route table
type HTTPRegisters struct {
	// Regs is the underlying register space
	Regs xdma.RegisterIO

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPRegisters returns a new HTTP wrapper around a register space.
// Addresses in the URL may be given in any base, e.g. /register/0x10
func NewHTTPRegisters(regs xdma.RegisterIO) HTTPRegisters {
	h := HTTPRegisters{Regs: regs}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/register/{addr}"}:       ReadRegister(regs),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/register/{addr}"}:      WriteRegister(regs),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/field/{addr}"}:          ReadBitField(regs),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/field/{addr}"}:         WriteBitField(regs),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/bit/{addr}/{position}"}: CheckBit(regs),
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPRegisters) RT() generichttp.RouteTable {
	return h.RouteTable
}

func address(w http.ResponseWriter, r *http.Request) (int64, bool) {
	addr, err := generichttp.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return addr, true
}

func width(w http.ResponseWriter, r *http.Request) (xdma.Width, bool) {
	v, err := generichttp.QueryUint(r, "width", 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return xdma.Width(v), true
}

func respondU32(w http.ResponseWriter, r *http.Request, v uint32) {
	hp := server.HumanPayload{T: types.Uint32, Uint32: v}
	hp.EncodeAndRespond(w, r)
}

// ReadRegister returns a handler that reads the register at {addr},
// ?width=8 or 32 (default), replying {"u32": value}
func ReadRegister(regs xdma.RegisterIO) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := address(w, r)
		if !ok {
			return
		}
		wd, ok := width(w, r)
		if !ok {
			return
		}
		v, err := regs.ReadRegister(addr, wd)
		if err != nil {
			Error(w, err)
			return
		}
		respondU32(w, r, v)
	}
}

// WriteRegister returns a handler that writes {"u32": value} to the
// register at {addr}, ?width=8 or 32 (default)
func WriteRegister(regs xdma.RegisterIO) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := address(w, r)
		if !ok {
			return
		}
		wd, ok := width(w, r)
		if !ok {
			return
		}
		var in server.Uint32T
		if !generichttp.DecodeBody(w, r, &in) {
			return
		}
		if err := regs.WriteRegister(addr, in.U32, wd); err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Field is the JSON body of a bit field write
type Field struct {
	Start  uint   `json:"start"`
	Length uint   `json:"length"`
	Value  uint32 `json:"value"`
	Strict bool   `json:"strict"`
}

// ReadBitField returns a handler that reads ?start=&length= of the register
// at {addr}, replying {"u32": value}
func ReadBitField(regs xdma.RegisterIO) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := address(w, r)
		if !ok {
			return
		}
		start, err := generichttp.QueryUint(r, "start", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		length, err := generichttp.QueryUint(r, "length", 32)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v, err := regs.ReadBitField(addr, uint(start), uint(length))
		if err != nil {
			Error(w, err)
			return
		}
		respondU32(w, r, v)
	}
}

// WriteBitField returns a handler that performs the read-modify-write
// described by a Field body on the register at {addr}
func WriteBitField(regs xdma.RegisterIO) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := address(w, r)
		if !ok {
			return
		}
		var f Field
		if !generichttp.DecodeBody(w, r, &f) {
			return
		}
		if err := regs.WriteBitField(addr, f.Start, f.Length, f.Value, f.Strict); err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// CheckBit returns a handler that replies {"bool": set} for bit {position}
// of the register at {addr}
func CheckBit(regs xdma.RegisterIO) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := address(w, r)
		if !ok {
			return
		}
		pos, err := strconv.ParseUint(chi.URLParam(r, "position"), 0, 8)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		set, err := regs.CheckBit(addr, uint(pos))
		if err != nil {
			Error(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: set}
		hp.EncodeAndRespond(w, r)
	}
}
