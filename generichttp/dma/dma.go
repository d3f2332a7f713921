// Package dma provides an HTTP interface to an AXI DMA engine
package dma

import (
	"fmt"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/dasdaq/xdmactl/axidma"
	"github.com/dasdaq/xdmactl/generichttp"
	"github.com/dasdaq/xdmactl/generichttp/regs"
	"github.com/dasdaq/xdmactl/server"
)

// Memory is the region descriptor rings are stored in, *xdma.Device satisfies it
type Memory interface {
	axidma.RegionReader
	axidma.RegionWriter
}

// HTTPEngine wraps an AXI DMA engine in an HTTP route table
type HTTPEngine struct {
	// Engine is the underlying DMA engine
	Engine *axidma.Engine

	// Memory is where descriptor rings live, it may be nil in which case
	// the /descriptors route is not served
	Memory Memory

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPEngine returns a new HTTP wrapper around an engine.  mem may be nil.
func NewHTTPEngine(e *axidma.Engine, mem Memory) HTTPEngine {
	h := HTTPEngine{Engine: e, Memory: mem}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/info"}:                GetInfo(e),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/reset"}:              generichttp.Do(e.Reset),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/scatter-gather"}:      generichttp.GetBool(e.ScatterGather),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/{channel}/status"}:    GetStatus(e),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{channel}/reset"}:    Reset(e),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{channel}/sg-start"}: StartScatterGather(e),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/{channel}/direct"}:   DirectTransfer(e),
	}
	if mem != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/descriptors"}] = GetDescriptors(mem)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/descriptors"}] = PutRing(mem)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPEngine) RT() generichttp.RouteTable {
	return h.RouteTable
}

func channel(e *axidma.Engine, w http.ResponseWriter, r *http.Request) (axidma.Channel, bool) {
	c, err := e.Channel(chi.URLParam(r, "channel"))
	if err != nil {
		regs.Error(w, err)
		return c, false
	}
	return c, true
}

// GetInfo returns a handler replying with the engine's Info as JSON
func GetInfo(e *axidma.Engine) http.HandlerFunc {
	return generichttp.GetJSON(e.Info)
}

// GetStatus returns a handler replying with the decoded status of {channel}
func GetStatus(e *axidma.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := channel(e, w, r)
		if !ok {
			return
		}
		generichttp.GetJSON(c.Status).ServeHTTP(w, r)
	}
}

// Reset returns a handler that resets {channel}
func Reset(e *axidma.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := channel(e, w, r)
		if !ok {
			return
		}
		generichttp.Do(c.Reset).ServeHTTP(w, r)
	}
}

// Span is the JSON body of a scatter-gather start
type Span struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Cyclic bool   `json:"cyclic"`
}

// StartScatterGather returns a handler that starts {channel} on the ring
// described by a Span body, replying {"bool": live}
func StartScatterGather(e *axidma.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := channel(e, w, r)
		if !ok {
			return
		}
		var s Span
		if !generichttp.DecodeBody(w, r, &s) {
			return
		}
		live, err := c.StartScatterGather(s.Start, s.End, s.Cyclic)
		if err != nil {
			regs.Error(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: live}
		hp.EncodeAndRespond(w, r)
	}
}

// Transfer is the JSON body of a direct transfer
type Transfer struct {
	Addr   uint64 `json:"addr"`
	Length uint32 `json:"length"`
}

// DirectTransfer returns a handler that starts a direct transfer on
// {channel}.  It does not wait for completion; poll the status.
func DirectTransfer(e *axidma.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := channel(e, w, r)
		if !ok {
			return
		}
		var t Transfer
		if !generichttp.DecodeBody(w, r, &t) {
			return
		}
		if err := c.DirectTransfer(t.Addr, t.Length); err != nil {
			regs.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// RingState is the JSON reply of GetDescriptors
type RingState struct {
	Descriptors []axidma.Descriptor `json:"descriptors"`
	Cyclic      bool                `json:"cyclic"`
	Progress    axidma.Progress     `json:"progress"`
}

// GetDescriptors returns a handler that reads ?n= descriptors back from
// ?offset= in mem, whose engine address is ?base=
func GetDescriptors(mem axidma.RegionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		off, err := generichttp.QueryUint(r, "offset", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		base, err := generichttp.QueryUint(r, "base", off)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, err := generichttp.QueryUint(r, "n", 1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if n > axidma.MaxRingLength {
			regs.Error(w, fmt.Errorf("%d descriptors: %w", n, axidma.ErrRingRange))
			return
		}
		ring, err := axidma.LoadRing(mem, int64(off), base, int(n))
		if err != nil {
			regs.Error(w, err)
			return
		}
		server.ReplyJSON(w, RingState{Descriptors: ring.Descriptors, Cyclic: ring.Cyclic, Progress: ring.Progress()})
	}
}

// RingSpec is the JSON body of PutRing
type RingSpec struct {
	// Offset is where the ring is written in descriptor memory
	Offset int64 `json:"offset"`

	// Base is the engine address of the first descriptor
	Base uint64 `json:"base"`

	// BufferBase is the engine address of the first buffer
	BufferBase uint64 `json:"bufferBase"`

	Lengths []uint32 `json:"lengths"`
	Cyclic  bool     `json:"cyclic"`
}

// PutRing returns a handler that builds the ring described by a RingSpec
// body and stores it in mem, replying with the Span to start it with
func PutRing(mem axidma.RegionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec RingSpec
		if !generichttp.DecodeBody(w, r, &spec) {
			return
		}
		ring, err := axidma.NewRing(spec.Base, spec.Lengths, spec.BufferBase, spec.Cyclic)
		if err != nil {
			regs.Error(w, err)
			return
		}
		if err := ring.Store(mem, spec.Offset); err != nil {
			regs.Error(w, err)
			return
		}
		server.ReplyJSON(w, Span{Start: ring.Start(), End: ring.End(), Cyclic: ring.Cyclic})
	}
}
