package server

import (
	"errors"
	"net/http"

	log "github.com/sjqzhang/seelog"
)

func (c *Server) Reload(w http.ResponseWriter, r *http.Request) {
	var (
		err     error
		cfg     GlobalConfig
		cfgjson string
	)
	r.ParseForm()
	cfgjson = r.FormValue("cfg")
	switch r.FormValue("action") {
	case "get":
		c.writeResult(w, http.StatusOK, JsonResult{Status: "ok", Data: Config()})
	case "set":
		if cfgjson == "" {
			c.writeError(w, httpError{errors.New("(error)parameter cfg(json) require"), http.StatusBadRequest})
			return
		}
		if err = json.Unmarshal([]byte(cfgjson), &cfg); err != nil {
			log.Error(err)
			c.writeError(w, httpError{err, http.StatusBadRequest})
			return
		}
		if !c.util.WriteFile(c.configFile(), c.util.JsonEncodePretty(cfg)) {
			c.writeError(w, errors.New("(error)write config file fail"))
			return
		}
		c.writeResult(w, http.StatusOK, JsonResult{Status: "ok"})
	case "reload":
		if err = c.reloadConfig(); err != nil {
			log.Error(err)
			c.writeError(w, err)
			return
		}
		c.writeResult(w, http.StatusOK, JsonResult{Status: "ok", Data: Config()})
	default:
		c.writeError(w, httpError{errors.New("(error)action support set(json) get reload"), http.StatusBadRequest})
	}
}
