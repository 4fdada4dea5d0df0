// Package encoding negotiates the gateway's response wire format. JSON is
// the default; clients polling usage snapshots at word rate can request
// msgpack to cut payload size.
package encoding

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// WantsMsgpack reports whether the request prefers a msgpack response.
func WantsMsgpack(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/msgpack") ||
		strings.Contains(accept, "application/x-msgpack")
}

// Respond writes data in the negotiated format with the given status code.
func Respond(w http.ResponseWriter, r *http.Request, data any, status int) {
	if WantsMsgpack(r) {
		w.Header().Set("Content-Type", ContentTypeMsgpack)
		w.WriteHeader(status)
		msgpack.NewEncoder(w).Encode(data)
		return
	}
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
