package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/radovskyb/watcher"
	"github.com/sjqzhang/go-resumable/resumable"
	"github.com/sjqzhang/goutil"
	log "github.com/sjqzhang/seelog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type Server struct {
	ldb     *leveldb.DB
	util    *goutil.Common
	statMap *goutil.CommonMap
	engine  *resumable.Engine
	mirror  atomic.Pointer[S3Mirror]
	mux     *http.ServeMux
	watcher *watcher.Watcher
}

func InitServer() {
	appDir, e1 := filepath.Abs(filepath.Dir(os.Args[0]))
	curDir, e2 := filepath.Abs(".")
	if e1 == nil && e2 == nil && appDir != curDir && !strings.Contains(appDir, "go-build") &&
		!strings.Contains(appDir, "GoLand") {
		msg := fmt.Sprintf("please change directory to '%s' start server\n", appDir)
		msg = msg + fmt.Sprintf("请切换到 '%s' 目录启动 server ", appDir)
		log.Warn(msg)
		fmt.Println(msg)
		os.Exit(1)
	}
	DOCKER_DIR = os.Getenv("GO_RESUMABLE_DIR")
	if DOCKER_DIR != "" {
		if !strings.HasSuffix(DOCKER_DIR, "/") {
			DOCKER_DIR = DOCKER_DIR + "/"
		}
	}
	STORE_DIR = DOCKER_DIR + STORE_DIR_NAME
	CONF_DIR = DOCKER_DIR + CONF_DIR_NAME
	DATA_DIR = DOCKER_DIR + DATA_DIR_NAME
	LOG_DIR = DOCKER_DIR + LOG_DIR_NAME
	CONST_LEVELDB_FILE_NAME = DATA_DIR + "/resumable.db"
	CONST_CONF_FILE_NAME = CONF_DIR + "/cfg.json"
	FOLDERS = []string{DATA_DIR, STORE_DIR, CONF_DIR, LOG_DIR}
	logAccessConfigStr = strings.Replace(logAccessConfigStr, "{DOCKER_DIR}", DOCKER_DIR, -1)
	logConfigStr = strings.Replace(logConfigStr, "{DOCKER_DIR}", DOCKER_DIR, -1)
	for _, folder := range FOLDERS {
		os.MkdirAll(folder, 0775)
	}
	util := &goutil.Common{}
	if !util.FileExists(CONST_CONF_FILE_NAME) {
		util.WriteFile(CONST_CONF_FILE_NAME, strings.TrimSpace(cfgJson))
	}
	if logger, err := log.LoggerFromConfigAsBytes([]byte(logConfigStr)); err != nil {
		panic(err)
	} else {
		log.ReplaceLogger(logger)
	}
	if _logacc, err := log.LoggerFromConfigAsBytes([]byte(logAccessConfigStr)); err == nil {
		logacc = _logacc
		log.Info("succes init log access")
	} else {
		log.Error(err.Error())
	}
	ParseConfig(CONST_CONF_FILE_NAME)
	opts := &opt.Options{
		CompactionTableSize: 1024 * 1024 * 20,
		WriteBuffer:         1024 * 1024 * 20,
	}
	ldb, err := leveldb.OpenFile(CONST_LEVELDB_FILE_NAME, opts)
	if err != nil {
		fmt.Println(fmt.Sprintf("open db file %s fail,maybe has opening", CONST_LEVELDB_FILE_NAME))
		log.Error(err)
		panic(err)
	}
	server = NewServer(ldb)
	server.initComponent(false)
}

// NewServer builds the application around an opened metadata database. The
// configuration must already be published.
func NewServer(ldb *leveldb.DB) *Server {
	c := &Server{
		ldb:     ldb,
		util:    &goutil.Common{},
		statMap: goutil.NewCommonMap(0),
		mux:     http.NewServeMux(),
	}
	c.statMap.Put(CONST_STAT_FILE_COUNT_KEY, int64(0))
	c.statMap.Put(CONST_STAT_FILE_TOTAL_SIZE_KEY, int64(0))
	c.statMap.Put(CONST_STAT_S3_MIRROR_KEY, int64(0))
	cfg := Config()
	c.engine = resumable.NewEngine(resumable.Options{
		Origin:          cfg.Origin,
		PathPrefix:      cfg.ResumptionPath,
		Expiry:          time.Duration(cfg.UploadExpire) * time.Second,
		InteropVersions: cfg.InteropVersions,
	}, resumable.HandlerPipeline(c.mux))
	c.initRouter()
	return c
}

// initComponent applies the parts of the configuration that may change at runtime.
func (c *Server) initComponent(isReload bool) {
	cfg := Config()
	c.engine.SetExpiry(time.Duration(cfg.UploadExpire) * time.Second)
	if !cfg.S3.Enable {
		c.mirror.Store(nil)
		return
	}
	if m := c.mirror.Load(); m != nil && m.cfg == cfg.S3 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mirror, err := NewS3Mirror(ctx, cfg.S3)
	if err != nil {
		log.Error(err)
		if !isReload {
			fmt.Println(err)
		}
		return
	}
	c.mirror.Store(mirror)
	log.Infof("s3 mirror enabled bucket:%s", cfg.S3.Bucket)
}

// Handler is the root handler: resumable uploads first, then the application routes.
func (c *Server) Handler() http.Handler {
	var h http.Handler = &HttpHandler{server: c, next: resumable.NewHandler(c.engine, c.mux)}
	if Config().EnableH2c {
		h = h2c.NewHandler(h, &http2.Server{})
	}
	return h
}

func (c *Server) Start() {
	if Config().EnableFsNotify {
		if w, err := c.WatchConfigChange(time.Second); err != nil {
			log.Error(err)
		} else {
			c.watcher = w
		}
	}
	go func() { // force free memory
		for {
			time.Sleep(time.Minute * 1)
			debug.FreeOSMemory()
		}
	}()
	fmt.Println("Listen on " + Config().Addr)
	srv := &http.Server{
		Addr:              Config().Addr,
		Handler:           c.Handler(),
		ReadTimeout:       time.Duration(Config().ReadTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(Config().ReadHeaderTimeout) * time.Second,
		WriteTimeout:      time.Duration(Config().WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(Config().IdleTimeout) * time.Second,
	}
	err := srv.ListenAndServe()
	log.Error(err)
	fmt.Println(err)
}

// Close stops the config watcher and closes the metadata database.
func (c *Server) Close() error {
	if c.watcher != nil {
		c.watcher.Close()
	}
	return c.ldb.Close()
}

func Start() {
	server.Start()
}
