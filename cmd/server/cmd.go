package server

import (
	"os"

	"github.com/sjqzhang/go-resumable/server"
	"github.com/spf13/cobra"
)

// Cmd runs the upload server
var Cmd = &cobra.Command{
	Use:   "server",
	Short: "Run resumable upload server",
	Long:  `Run resumable upload server`,
	Run: func(cmd *cobra.Command, args []string) {
		main()
	},
}

var dir string

func init() {
	Cmd.Flags().StringVar(&dir, "dir", "", "working directory for conf, data, files and log (overrides GO_RESUMABLE_DIR)")
}

func main() {
	if dir != "" {
		os.Setenv("GO_RESUMABLE_DIR", dir)
	}
	server.InitServer()
	server.Start()
}
