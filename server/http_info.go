package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sjqzhang/seelog"
	"github.com/syndtr/goleveldb/leveldb"
)

func (c *Server) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	var (
		key      string
		fileInfo *FileInfo
		err      error
	)
	if key = r.FormValue("md5"); key == "" {
		key = r.FormValue("id")
	}
	if key == "" {
		c.writeError(w, httpError{errors.New("(error)parameter md5 or id require"), http.StatusBadRequest})
		return
	}
	if fileInfo, err = c.GetFileInfoFromLevelDB(key); err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			c.writeError(w, httpError{err, http.StatusNotFound})
			return
		}
		log.Error(err)
		c.writeError(w, err)
		return
	}
	c.writeResult(w, http.StatusOK, JsonResult{Status: "ok", Data: fileInfo})
}

// ListUploads reports the uploads the engine currently tracks.
func (c *Server) ListUploads(w http.ResponseWriter, r *http.Request) {
	c.writeResult(w, http.StatusOK, JsonResult{Status: "ok", Data: c.engine.Registry().Snapshot()})
}

func (c *Server) Status(w http.ResponseWriter, r *http.Request) {
	var (
		sts      map[string]interface{}
		err      error
		appDir   string
		diskInfo *disk.UsageStat
		memInfo  *mem.VirtualMemoryStat
	)
	memStat := new(runtime.MemStats)
	runtime.ReadMemStats(memStat)
	sts = make(map[string]interface{})
	for k, v := range c.statMap.Get() {
		sts["Fs."+k] = v
	}
	sts["Fs.Uploads"] = c.engine.Registry().Stats()
	sts["Fs.UploadExpire"] = c.engine.Expiry().String()
	sts["Fs.S3Mirror"] = c.mirror.Load() != nil
	sts["Sys.NumGoroutine"] = runtime.NumGoroutine()
	sts["Sys.NumCpu"] = runtime.NumCPU()
	sts["Sys.Alloc"] = memStat.Alloc
	sts["Sys.TotalAlloc"] = memStat.TotalAlloc
	sts["Sys.HeapAlloc"] = memStat.HeapAlloc
	sts["Sys.Frees"] = memStat.Frees
	sts["Sys.HeapObjects"] = memStat.HeapObjects
	sts["Sys.NumGC"] = memStat.NumGC
	sts["Sys.GCCPUFraction"] = memStat.GCCPUFraction
	sts["Sys.GCSys"] = memStat.GCSys
	appDir, err = filepath.Abs(".")
	if err != nil {
		log.Error(err)
	}
	diskInfo, err = disk.Usage(appDir)
	if err != nil {
		log.Error(err)
	}
	sts["Sys.DiskInfo"] = diskInfo
	memInfo, err = mem.VirtualMemory()
	if err != nil {
		log.Error(err)
	}
	sts["Sys.MemInfo"] = memInfo
	c.writeResult(w, http.StatusOK, JsonResult{Status: "ok", Data: sts})
}
