// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/sirupsen/logrus"
)

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// Uint32T is a struct with a single U32 field, used for register values
type Uint32T struct {
	U32 uint32 `json:"u32"`
}

// HumanPayload is a struct containing the basic types
// and a field T which indicates which type is populated.
// It is used to reply with {"<type>": value} JSON
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	Float  float64
	String string
	Uint32 uint32
}

// EncodeAndRespond writes the populated field of the payload to w as JSON
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) error {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.String:
		v = StrT{Str: hp.String}
	case types.Uint32:
		v = Uint32T{U32: hp.Uint32}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return nil
	}
	return ReplyJSON(w, v)
}

// ReplyJSON encodes v as the JSON body of a 200 response.  An encoding
// failure is logged and returned; the status has already been sent.
func ReplyJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logrus.WithError(err).Error("error encoding response to json")
	}
	return err
}
