package upload

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sjqzhang/go-resumable/client"
	"github.com/sjqzhang/go-resumable/resumable"
	"github.com/spf13/cobra"
)

// Cmd uploads one file, resuming an earlier attempt when possible
var Cmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a file with resumable uploads",
	Long:  `Upload a file with resumable uploads. The resumption URL is kept in the state db so an interrupted upload continues where it stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var (
	url            string
	file           string
	state          string
	chunkSize      int64
	interopVersion string
	retries        int
)

func init() {
	Cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8080/upload", "upload url")
	Cmd.Flags().StringVar(&file, "file", "", "file to upload")
	Cmd.Flags().StringVar(&state, "state", "upload.db", "state db keeping resumption urls")
	Cmd.Flags().Int64Var(&chunkSize, "chunk-size", client.DefaultChunkSize, "bytes per request, 0 sends the file in one request")
	Cmd.Flags().StringVar(&interopVersion, "interop-version", resumable.InteropVersion4, "Upload-Draft-Interop-Version to speak")
	Cmd.Flags().IntVar(&retries, "retries", 3, "times to resume after a failed request")
	Cmd.MarkFlagRequired("file")
}

func run() error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	store, err := client.NewLeveldbStore(state)
	if err != nil {
		return fmt.Errorf("open state %s: %w", state, err)
	}
	defer store.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	c := client.NewClient(client.Config{
		ChunkSize:      chunkSize,
		InteropVersion: interopVersion,
		Retries:        retries,
		Store:          store,
		Progress:       os.Stderr,
	})
	result, err := c.Upload(ctx, url, f)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)
	fmt.Println(string(result.Body))
	if result.Status >= 400 {
		return fmt.Errorf("server answered %d", result.Status)
	}
	return nil
}
