package httpapi

import (
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
)

// maxRequestBody caps the request body for both protobuf and JSON payloads.
// A validation request is a single short field.
const maxRequestBody = 4096

// isProtobuf reports whether the request carries a protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == "application/x-protobuf" || ct == "application/protobuf"
}

// readProto reads the request body and unmarshals it into msg.  Bodies over
// maxRequestBody are rejected rather than truncated.
func readProto(w http.ResponseWriter, r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
