package job

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

// sniffLen is how much of a text file feeds charset detection
const sniffLen = 4096

// FileJob serves a file from the local filesystem
type FileJob struct {
	base
	path string
}

// NewFileJob creates a file job for path
func NewFileJob(env *Env, req *RequestInfo, path string) *FileJob {
	return &FileJob{base: newBase(env, req, "file"), path: path}
}

// Path returns the served file path
func (j *FileJob) Path() string {
	return j.path
}

func (j *FileJob) Start(d Delegate) {
	j.delegate = d
	go func() {
		f, resp, err := openFile(j.path)
		j.env.IO.PostTask(func() {
			if j.killed {
				if f != nil {
					f.Close()
				}
				return
			}
			if err != nil {
				j.fail(err)
				return
			}
			j.respond(resp, f)
		})
	}()
}

func openFile(p string) (*os.File, *Response, error) {
	if p == "" {
		return nil, nil, neterr.Newf(neterr.FileNotFound, "empty file path")
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, neterr.Newf(neterr.FileNotFound, "%s is a directory", p)
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, nil, err
	}

	mimeType, charset, err := detectFileType(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	resp := simpleResponse(mimeType, charset, info.Size())
	resp.Header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	return f, resp, nil
}

// detectFileType picks a mime type by extension, falling back to content
// sniffing, and detects the charset of text content. f is rewound.
func detectFileType(f *os.File) (string, string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", "", err
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", "", err
	}

	mimeType := ""
	if byExt := mime.TypeByExtension(filepath.Ext(f.Name())); byExt != "" {
		mimeType, _, _ = mime.ParseMediaType(byExt)
	}
	if mimeType == "" {
		mimeType, _, _ = mime.ParseMediaType(mimetype.Detect(head).String())
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	charset := ""
	if isTextual(mimeType) && len(head) > 0 {
		if res, err := chardet.NewTextDetector().DetectBest(head); err == nil {
			charset = res.Charset
		}
	}
	return mimeType, charset, nil
}

func isTextual(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/javascript", "application/xml", "image/svg+xml":
		return true
	}
	return false
}

// fileHandler serves file:// URLs
type fileHandler struct {
	env *Env
}

// NewFileHandler returns the built-in file scheme handler
func NewFileHandler(env *Env) ProtocolHandler {
	return &fileHandler{env: env}
}

func (h *fileHandler) MaybeCreateJob(req *RequestInfo) Job {
	return NewFileJob(h.env, req, filepath.FromSlash(req.URL.Path))
}

// IsSafeRedirectTarget rejects redirects into the local filesystem
func (h *fileHandler) IsSafeRedirectTarget(*url.URL) bool {
	return false
}

// directoryHandler serves <scheme>://<host>/<path> from root/<host>/<path>
type directoryHandler struct {
	env  *Env
	root string
}

// NewDirectoryHandler mounts root under a custom scheme
func NewDirectoryHandler(env *Env, root string) ProtocolHandler {
	return &directoryHandler{env: env, root: root}
}

func (h *directoryHandler) MaybeCreateJob(req *RequestInfo) Job {
	rel := path.Clean("/" + req.URL.Host + "/" + req.URL.Path)
	if strings.HasSuffix(rel, "/") || rel == "/"+req.URL.Host {
		rel = path.Join(rel, "index.html")
	}
	return NewFileJob(h.env, req, filepath.Join(h.root, filepath.FromSlash(rel)))
}
