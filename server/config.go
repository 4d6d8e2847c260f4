package server

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sjqzhang/seelog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary
var server *Server = nil
var logacc log.LoggerInterface = log.Disabled
var FOLDERS = []string{DATA_DIR, STORE_DIR, CONF_DIR, LOG_DIR}

var (
	VERSION     string
	BUILD_TIME  string
	GO_VERSION  string
	GIT_VERSION string
)

var (
	FileName                string
	ptr                     unsafe.Pointer
	DOCKER_DIR              = ""
	STORE_DIR               = STORE_DIR_NAME
	CONF_DIR                = CONF_DIR_NAME
	LOG_DIR                 = LOG_DIR_NAME
	DATA_DIR                = DATA_DIR_NAME
	CONST_LEVELDB_FILE_NAME = DATA_DIR + "/resumable.db"
	CONST_CONF_FILE_NAME    = CONF_DIR + "/cfg.json"
	logConfigStr            = `
<seelog type="asynctimer" asyncinterval="1000" minlevel="trace" maxlevel="error">
	<outputs formatid="common">
		<buffered formatid="common" size="1048576" flushperiod="1000">
			<rollingfile type="size" filename="{DOCKER_DIR}log/resumable.log" maxsize="104857600" maxrolls="10"/>
		</buffered>
	</outputs>
	 <formats>
		 <format id="common" format="%Date %Time [%LEV] [%File:%Line] [%Func] %Msg%n" />
	 </formats>
</seelog>
`
	logAccessConfigStr = `
<seelog type="asynctimer" asyncinterval="1000" minlevel="trace" maxlevel="error">
	<outputs formatid="common">
		<buffered formatid="common" size="1048576" flushperiod="1000">
			<rollingfile type="size" filename="{DOCKER_DIR}log/access.log" maxsize="104857600" maxrolls="10"/>
		</buffered>
	</outputs>
	 <formats>
		 <format id="common" format="%Date %Time [%LEV] [%File:%Line] [%Func] %Msg%n" />
	 </formats>
</seelog>
`
)

const (
	STORE_DIR_NAME                 = "files"
	LOG_DIR_NAME                   = "log"
	DATA_DIR_NAME                  = "data"
	CONF_DIR_NAME                  = "conf"
	CONST_STAT_FILE_COUNT_KEY      = "fileCount"
	CONST_STAT_FILE_TOTAL_SIZE_KEY = "totalSize"
	CONST_STAT_S3_MIRROR_KEY       = "s3Mirrored"
	CONST_DEFAULT_UPLOAD_EXPIRE    = 3600
	CONST_MESSAGE_ADMIN_IP         = "Can only be called by 127.0.0.1 or admin_ips(cfg.json),current ip:%s"
	cfgJson                        = `{
	"监听地址": "端口",
	"addr": ":8080",
	"对外地址": "用于生成续传地址(Location),如 https://upload.example.com,留空则使用请求的地址",
	"origin": "",
	"续传路径": "续传地址的固定前缀",
	"resumption_path": "/resumable_upload/",
	"支持的协议版本": "Upload-Draft-Interop-Version",
	"interop_versions": ["3", "4"],
	"续传过期时间": "单位秒,空闲的上传超过此时间将被丢弃",
	"upload_expire": 3600,
	"是否开启h2c": "明文HTTP/2",
	"enable_h2c": true,
	"是否开启跨站访问": "默认开启",
	"enable_cross_origin": true,
	"上传大小限制": "单位字节,0为不限制",
	"max_upload_size": 0,
	"是否监听配置文件": "修改cfg.json后自动重新加载",
	"enable_fsnotify": true,
	"管理ip列表": "用于管理接口(reload,pprof)的白名单,支持CIDR,0.0.0.0表示所有内网地址",
	"admin_ips": ["127.0.0.1"],
	"read_timeout": 0,
	"write_timeout": 0,
	"idle_timeout": 300,
	"read_header_timeout": 30,
	"S3镜像": "上传完成后同步到S3,凭证使用AWS默认链",
	"s3": {
		"enable": false,
		"bucket": "",
		"region": "us-east-1",
		"endpoint": "",
		"prefix": "uploads/",
		"use_path_style": false
	}
}
	`
)

type S3Config struct {
	Enable       bool   `json:"enable"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	Prefix       string `json:"prefix"`
	UsePathStyle bool   `json:"use_path_style"`
}

type GlobalConfig struct {
	Addr              string   `json:"addr"`
	Origin            string   `json:"origin"`
	ResumptionPath    string   `json:"resumption_path"`
	InteropVersions   []string `json:"interop_versions"`
	UploadExpire      int64    `json:"upload_expire"`
	EnableH2c         bool     `json:"enable_h2c"`
	EnableCrossOrigin bool     `json:"enable_cross_origin"`
	MaxUploadSize     int64    `json:"max_upload_size"`
	EnableFsNotify    bool     `json:"enable_fsnotify"`
	AdminIps          []string `json:"admin_ips"`
	ReadTimeout       int      `json:"read_timeout"`
	WriteTimeout      int      `json:"write_timeout"`
	IdleTimeout       int      `json:"idle_timeout"`
	ReadHeaderTimeout int      `json:"read_header_timeout"`
	S3                S3Config `json:"s3"`
}

func Config() *GlobalConfig {
	return (*GlobalConfig)(atomic.LoadPointer(&ptr))
}

func storeConfig(c *GlobalConfig) {
	if c.UploadExpire <= 0 {
		c.UploadExpire = CONST_DEFAULT_UPLOAD_EXPIRE
	}
	atomic.StorePointer(&ptr, unsafe.Pointer(c))
}

// loadConfig reads and decodes a config file without publishing it.
func loadConfig(filePath string) (*GlobalConfig, error) {
	var (
		data []byte
		err  error
		c    GlobalConfig
	)
	if filePath == "" {
		data = []byte(strings.TrimSpace(cfgJson))
	} else if data, err = os.ReadFile(filePath); err != nil {
		return nil, fmt.Errorf("read config %s: %w", filePath, err)
	}
	if err = json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config %s: %w", filePath, err)
	}
	return &c, nil
}

func ParseConfig(filePath string) {
	c, err := loadConfig(filePath)
	if err != nil {
		panic(fmt.Sprintln("file path:", filePath, "error:", err))
	}
	if filePath != "" {
		FileName = filePath
	}
	storeConfig(c)
	log.Info(c)
	log.Info("config parse success")
}
