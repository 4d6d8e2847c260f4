package server

import (
	"net/http"
)

func (c *Server) CrossOrigin(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Origin") != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, User-Agent, X-Requested-With, Cache-Control, Origin, Upload-Draft-Interop-Version, Upload-Incomplete, Upload-Complete, Upload-Offset")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PATCH, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Expose-Headers", "Location, Upload-Draft-Interop-Version, Upload-Incomplete, Upload-Complete, Upload-Offset")
}
