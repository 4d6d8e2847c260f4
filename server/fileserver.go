package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/radovskyb/watcher"
	log "github.com/sjqzhang/seelog"
	"github.com/syndtr/goleveldb/leveldb"
)

type FileInfo struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Md5       string `json:"md5"`
	Size      int64  `json:"size"`
	TimeStamp int64  `json:"timeStamp"`
	S3Key     string `json:"s3Key,omitempty"`
}

type JsonResult struct {
	Message string      `json:"message"`
	Status  string      `json:"status"`
	Data    interface{} `json:"data"`
}

func (c *Server) GetFileInfoFromLevelDB(key string) (*FileInfo, error) {
	var (
		err      error
		data     []byte
		fileInfo FileInfo
	)
	if data, err = c.ldb.Get([]byte(key), nil); err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, &fileInfo); err != nil {
		return nil, err
	}
	return &fileInfo, nil
}

// SaveFileInfoToLevelDB indexes fileInfo by md5 and by id in one batch.
func (c *Server) SaveFileInfoToLevelDB(fileInfo *FileInfo, db *leveldb.DB) error {
	var (
		err  error
		data []byte
	)
	if fileInfo == nil || db == nil {
		return errors.New("fileInfo is null or db is null")
	}
	if data, err = json.Marshal(fileInfo); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(fileInfo.Md5), data)
	batch.Put([]byte(fileInfo.Id), data)
	return db.Write(batch, nil)
}

// IsAdmin reports whether r may use the management endpoints.
func (c *Server) IsAdmin(r *http.Request) bool {
	var (
		ip   string
		cidr *net.IPNet
		err  error
	)
	isPublicIP := func(IP net.IP) bool {
		if IP == nil || IP.IsLoopback() || IP.IsLinkLocalMulticast() || IP.IsLinkLocalUnicast() {
			return false
		}
		return !IP.IsPrivate()
	}
	ip = c.util.GetClientIp(r)
	if ip == "127.0.0.1" {
		return true
	}
	if c.util.Contains("0.0.0.0", Config().AdminIps) {
		return !isPublicIP(net.ParseIP(ip))
	}
	if c.util.Contains(ip, Config().AdminIps) {
		return true
	}
	for _, v := range Config().AdminIps {
		if strings.Contains(v, "/") {
			if _, cidr, err = net.ParseCIDR(v); err != nil {
				log.Error(err)
				return false
			}
			if cidr.Contains(net.ParseIP(ip)) {
				return true
			}
		}
	}
	return false
}

// adminOnly rejects callers outside admin_ips with 403.
func (c *Server) adminOnly(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsAdmin(r) {
			ip := c.util.GetClientIp(r)
			log.Warn(fmt.Sprintf("admin call %s from %s refused", r.URL.Path, ip))
			c.writeError(w, httpError{fmt.Errorf(CONST_MESSAGE_ADMIN_IP, ip), http.StatusForbidden})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (c *Server) configFile() string {
	if FileName != "" {
		return FileName
	}
	return CONST_CONF_FILE_NAME
}

// reloadConfig re-reads the config file and applies it. A broken file leaves the
// running configuration untouched.
func (c *Server) reloadConfig() error {
	cfg, err := loadConfig(c.configFile())
	if err != nil {
		return err
	}
	storeConfig(cfg)
	c.initComponent(true)
	log.Info("config reload success")
	return nil
}

// WatchConfigChange polls the config file and reloads it when it is written.
func (c *Server) WatchConfigChange(interval time.Duration) (*watcher.Watcher, error) {
	var (
		w     *watcher.Watcher
		err   error
		fpath string
	)
	if fpath, err = filepath.Abs(c.configFile()); err != nil {
		return nil, err
	}
	w = watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create)
	if err = w.Add(fpath); err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case event := <-w.Event:
				log.Info(fmt.Sprintf("WatchConfigChange op:%s path:%s", event.Op.String(), event.Path))
				if err := c.reloadConfig(); err != nil {
					log.Error(err)
				}
			case err := <-w.Error:
				log.Error(err)
			case <-w.Closed:
				return
			}
		}
	}()
	go func() {
		if err := w.Start(interval); err != nil {
			log.Error(err)
		}
	}()
	w.Wait()
	return w, nil
}
