package server

import (
	"errors"
	"net/http"
)

type httpError struct {
	error
	statusCode int
}

func (err httpError) StatusCode() int {
	return err.statusCode
}

func (err httpError) Body() []byte {
	return []byte(err.Error())
}

func (err httpError) Unwrap() error {
	return err.error
}

func (c *Server) writeResult(w http.ResponseWriter, statusCode int, result JsonResult) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(c.util.JsonEncodePretty(result)))
}

func (c *Server) writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	var herr httpError
	if errors.As(err, &herr) {
		statusCode = herr.StatusCode()
	}
	c.writeResult(w, statusCode, JsonResult{Status: "fail", Message: err.Error()})
}
