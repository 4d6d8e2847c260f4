package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sjqzhang/seelog"
)

// Upload stores a request body. It serves plain uploads as well as the single
// logical request assembled from a resumable upload.
func (c *Server) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		c.writeError(w, httpError{fmt.Errorf("method %s not allowed", r.Method), http.StatusMethodNotAllowed})
		return
	}
	var body io.Reader = r.Body
	if max := Config().MaxUploadSize; max > 0 {
		body = http.MaxBytesReader(w, r.Body, max)
	}
	fileInfo, err := c.saveUpload(r.URL.Query().Get("name"), body)
	if err != nil {
		log.Error(err)
		c.writeError(w, err)
		return
	}
	if fileInfo.S3Key == "" {
		if mirror := c.mirror.Load(); mirror != nil {
			c.mirrorFile(r.Context(), mirror, fileInfo)
		}
	}
	c.writeResult(w, http.StatusOK, JsonResult{Status: "ok", Data: fileInfo})
}

func (c *Server) saveUpload(name string, body io.Reader) (*FileInfo, error) {
	var (
		err  error
		file *os.File
		size int64
	)
	id := c.util.GetUUID()
	dir := STORE_DIR + "/" + c.util.GetToDay()
	if err = os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	fpath := dir + "/" + id
	if file, err = os.Create(fpath); err != nil {
		return nil, err
	}
	if size, err = io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(fpath)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, httpError{fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge}
		}
		return nil, httpError{fmt.Errorf("read body: %w", err), http.StatusBadRequest}
	}
	md5sum := c.util.GetFileSum(file, "md5")
	file.Close()
	if fileInfo, err := c.GetFileInfoFromLevelDB(md5sum); err == nil && c.util.FileExists(fileInfo.Path) {
		os.Remove(fpath)
		log.Infof("upload %s duplicates %s", id, fileInfo.Id)
		return fileInfo, nil
	}
	if name == "" {
		name = id
	}
	fileInfo := &FileInfo{
		Id:        id,
		Name:      filepath.Base(name),
		Path:      fpath,
		Md5:       md5sum,
		Size:      size,
		TimeStamp: time.Now().Unix(),
	}
	if err = c.SaveFileInfoToLevelDB(fileInfo, c.ldb); err != nil {
		os.Remove(fpath)
		return nil, err
	}
	c.statMap.AddCountInt64(CONST_STAT_FILE_COUNT_KEY, 1)
	c.statMap.AddCountInt64(CONST_STAT_FILE_TOTAL_SIZE_KEY, size)
	return fileInfo, nil
}

// mirrorFile copies fileInfo to S3. A failed copy is logged and the local file
// stays authoritative.
func (c *Server) mirrorFile(ctx context.Context, mirror *S3Mirror, fileInfo *FileInfo) {
	key, err := mirror.Put(ctx, fileInfo)
	if err != nil {
		log.Error(err)
		return
	}
	fileInfo.S3Key = key
	if err = c.SaveFileInfoToLevelDB(fileInfo, c.ldb); err != nil {
		log.Error(err)
		return
	}
	c.statMap.AddCountInt64(CONST_STAT_S3_MIRROR_KEY, 1)
}
