package server

import (
	"net/http"
	_ "net/http/pprof" // 注册 pprof 接口
)

func (c *Server) initRouter() {
	c.mux.HandleFunc("/upload", c.Upload)
	c.mux.HandleFunc("/get_file_info", c.GetFileInfo)
	c.mux.HandleFunc("/list_uploads", c.ListUploads)
	c.mux.HandleFunc("/status", c.Status)
	c.mux.HandleFunc("/reload", c.adminOnly(http.HandlerFunc(c.Reload)))
	c.mux.Handle("/debug/pprof/", c.adminOnly(http.DefaultServeMux))
}
