package main

import (
	"github.com/sjqzhang/go-resumable/cmd/server"
	"github.com/sjqzhang/go-resumable/cmd/upload"
	"github.com/sjqzhang/go-resumable/cmd/version"
	rs "github.com/sjqzhang/go-resumable/server"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs" // 根据容器配额设置 maxprocs
)

var (
	VERSION     string
	BUILD_TIME  string
	GO_VERSION  string
	GIT_VERSION string
)

func main() {
	rs.VERSION = VERSION
	rs.BUILD_TIME = BUILD_TIME
	rs.GO_VERSION = GO_VERSION
	rs.GIT_VERSION = GIT_VERSION
	root := cobra.Command{Use: "go-resumable"}
	root.AddCommand(
		version.Cmd,
		upload.Cmd,
		server.Cmd,
	)
	root.Execute()
}
