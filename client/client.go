package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/astaxie/beego/httplib"
	"github.com/schollz/progressbar/v3"
	"github.com/sjqzhang/go-resumable/resumable"
	"github.com/sjqzhang/goutil"
	log "github.com/sjqzhang/seelog"
)

const DefaultChunkSize = 4 << 20

var (
	ErrUploadNotFound = errors.New("upload not found on server")
	ErrOffsetMismatch = errors.New("server reported a different offset")
)

type Config struct {
	// ChunkSize is the number of bytes sent per request. Zero sends the whole
	// file in the creating request.
	ChunkSize      int64
	InteropVersion string
	// Retries is how many times a failed request is resumed from the server offset.
	Retries int
	// Store keeps resumption URLs across runs. Optional.
	Store Store
	// Progress receives a progress bar. Optional.
	Progress   io.Writer
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	cfg  Config
	util goutil.Common
}

// Result is the final response the server produced for the uploaded file.
type Result struct {
	Location string
	Status   int
	Header   http.Header
	Body     []byte
}

func NewClient(cfg Config) *Client {
	if cfg.InteropVersion == "" {
		cfg.InteropVersion = resumable.InteropVersion4
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) fields(h http.Header, complete bool) {
	h.Set(resumable.HeaderInteropVersion, c.cfg.InteropVersion)
	resumable.SetCompletion(h, c.cfg.InteropVersion, complete)
}

func (c *Client) request(method, url string, header http.Header) *httplib.BeegoHTTPRequest {
	req := httplib.NewBeegoRequest(url, method)
	req.SetTimeout(15*time.Second, c.cfg.Timeout)
	if c.cfg.HTTPClient.Transport != nil {
		req.SetTransport(c.cfg.HTTPClient.Transport)
	}
	for k, v := range header {
		if len(v) > 0 {
			req.Header(k, v[0])
		}
	}
	return req
}

func (c *Client) chunk(offset, size int64) int64 {
	n := size - offset
	if c.cfg.ChunkSize > 0 && n > c.cfg.ChunkSize {
		n = c.cfg.ChunkSize
	}
	return n
}

// Offset asks the server how many bytes of the upload at location it holds.
func (c *Client) Offset(location string) (int64, error) {
	header := http.Header{}
	header.Set(resumable.HeaderInteropVersion, c.cfg.InteropVersion)
	resp, err := c.request(http.MethodHead, location, header).Response()
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return resumable.ParseOffset(resp.Header.Get(resumable.HeaderUploadOffset))
	case http.StatusNotFound:
		return 0, ErrUploadNotFound
	}
	return 0, fmt.Errorf("offset retrieval: unexpected status %d", resp.StatusCode)
}

// Cancel deletes the upload at location.
func (c *Client) Cancel(location string) error {
	header := http.Header{}
	header.Set(resumable.HeaderInteropVersion, c.cfg.InteropVersion)
	resp, err := c.request(http.MethodDelete, location, header).Response()
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUploadNotFound
	}
	return fmt.Errorf("cancel: unexpected status %d", resp.StatusCode)
}

// create sends the first chunk to target. A nil result means the server
// acknowledged the chunk and more data is expected at location.
func (c *Client) create(ctx context.Context, target string, f *os.File, size int64, fingerprint string) (result *Result, location string, offset int64, err error) {
	n := c.chunk(0, size)
	complete := n == size
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, io.NewSectionReader(f, 0, n))
	if err != nil {
		return nil, "", 0, err
	}
	req.ContentLength = n
	c.fields(req.Header, complete)
	remember := func(loc string) {
		if u, err := req.URL.Parse(loc); err == nil {
			loc = u.String()
		}
		if loc == location {
			return
		}
		location = loc
		if c.cfg.Store != nil {
			c.cfg.Store.Set(fingerprint, loc)
		}
	}
	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, header textproto.MIMEHeader) error {
			if code == resumable.StatusUploadResumptionSupported {
				if loc := header.Get(resumable.HeaderLocation); loc != "" {
					remember(loc)
				}
			}
			return nil
		},
	}
	resp, err := c.cfg.HTTPClient.Do(req.WithContext(httptrace.WithClientTrace(ctx, trace)))
	if err != nil {
		return nil, location, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, location, 0, err
	}
	if resp.StatusCode == http.StatusCreated && resp.Header.Get(resumable.HeaderUploadOffset) != "" {
		remember(resp.Header.Get(resumable.HeaderLocation))
		offset, err = resumable.ParseOffset(resp.Header.Get(resumable.HeaderUploadOffset))
		return nil, location, offset, err
	}
	return &Result{Location: location, Status: resp.StatusCode, Header: resp.Header, Body: body}, location, size, nil
}

// appendChunk sends the chunk starting at offset to location.
func (c *Client) appendChunk(location string, f *os.File, offset, size int64) (*Result, int64, error) {
	n := c.chunk(offset, size)
	data := make([]byte, n)
	if _, err := f.ReadAt(data, offset); err != nil && !(errors.Is(err, io.EOF) && n == 0) {
		return nil, offset, err
	}
	header := http.Header{}
	c.fields(header, offset+n == size)
	header.Set(resumable.HeaderUploadOffset, strconv.FormatInt(offset, 10))
	req := c.request(http.MethodPatch, location, header)
	req.Body(data)
	resp, err := req.Response()
	if err != nil {
		return nil, offset, err
	}
	body, err := req.Bytes()
	if err != nil {
		return nil, offset, err
	}
	switch resp.StatusCode {
	case http.StatusCreated:
		if resp.Header.Get(resumable.HeaderUploadOffset) != "" {
			next, err := resumable.ParseOffset(resp.Header.Get(resumable.HeaderUploadOffset))
			return nil, next, err
		}
	case http.StatusConflict:
		return nil, offset, ErrOffsetMismatch
	case http.StatusNotFound:
		return nil, offset, ErrUploadNotFound
	}
	return &Result{Location: location, Status: resp.StatusCode, Header: resp.Header, Body: body}, offset + n, nil
}

// Upload sends f to target, resuming a previous attempt when the store knows one.
func (c *Client) Upload(ctx context.Context, target string, f *os.File) (*Result, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	fingerprint := c.util.GetFileSum(f, "md5")

	var (
		location string
		offset   int64
		result   *Result
		retries  int
		bar      *progressbar.ProgressBar
	)
	if c.cfg.Progress != nil {
		bar = progressbar.NewOptions64(size,
			progressbar.OptionSetDescription(filepath.Base(f.Name())),
			progressbar.OptionSetWriter(c.cfg.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
		)
		defer bar.Finish()
	}
	if c.cfg.Store != nil {
		if loc, ok := c.cfg.Store.Get(fingerprint); ok {
			if offset, err = c.Offset(loc); err == nil {
				location = loc
				log.Infof("resume %s from %s at offset %d", f.Name(), loc, offset)
			} else {
				log.Warnf("discard stale upload %s: %v", loc, err)
				c.cfg.Store.Delete(fingerprint)
				offset = 0
			}
		}
	}
	for result == nil {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if location == "" {
			result, location, offset, err = c.create(ctx, target, f, size, fingerprint)
		} else {
			result, offset, err = c.appendChunk(location, f, offset, size)
		}
		if err == nil {
			if bar != nil {
				bar.Set64(offset)
			}
			continue
		}
		if errors.Is(err, ErrUploadNotFound) {
			log.Warnf("upload %s is gone, starting over", location)
			if c.cfg.Store != nil {
				c.cfg.Store.Delete(fingerprint)
			}
			location, offset = "", 0
		}
		if retries >= c.cfg.Retries {
			return nil, err
		}
		retries++
		if location == "" {
			continue
		}
		if offset, err = c.Offset(location); err != nil {
			return nil, err
		}
		log.Infof("retry %d of %s at offset %d", retries, location, offset)
	}
	if c.cfg.Store != nil {
		c.cfg.Store.Delete(fingerprint)
	}
	return result, nil
}
