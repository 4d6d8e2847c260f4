package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	log "github.com/sjqzhang/seelog"
)

type HttpHandler struct {
	server *Server
	next   http.Handler
}

// statusWriter remembers the final status for the access log. Unwrap keeps
// http.ResponseController working for full duplex and flushing.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if code >= http.StatusOK && w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (h *HttpHandler) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	sw := &statusWriter{ResponseWriter: res}
	defer func(t time.Time) {
		status := "-"
		if sw.status != 0 {
			status = strconv.Itoa(sw.status)
		}
		logStr := fmt.Sprintf("[Access] %s | %s | %s | %s | %s |%s",
			time.Now().Format("2006/01/02 - 15:04:05"),
			time.Since(t).String(),
			h.server.util.GetClientIp(req),
			req.Method,
			status,
			req.RequestURI,
		)
		logacc.Info(logStr)
	}(time.Now())
	defer func() {
		if err := recover(); err != nil {
			if sw.status == 0 {
				sw.WriteHeader(http.StatusInternalServerError)
			}
			buff := debug.Stack()
			log.Error(err)
			log.Error(string(buff))
		}
	}()
	if Config().EnableCrossOrigin {
		h.server.CrossOrigin(sw, req)
		if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
			sw.WriteHeader(http.StatusNoContent)
			return
		}
	}
	h.next.ServeHTTP(sw, req)
}
