package job

import (
	"bytes"
	"encoding/base64"
	"mime"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

// DataJob serves the payload of a data: URL
type DataJob struct {
	base
}

// NewDataJob creates a data URL job
func NewDataJob(env *Env, req *RequestInfo) *DataJob {
	return &DataJob{base: newBase(env, req, "data")}
}

func (j *DataJob) Start(d Delegate) {
	j.delegate = d
	j.post(func() {
		mimeType, charset, payload, err := ParseDataURL(j.req.URL)
		if err != nil {
			j.fail(err)
			return
		}
		j.respond(simpleResponse(mimeType, charset, int64(len(payload))), bytes.NewReader(payload))
	})
}

// ParseDataURL decodes data:[<mediatype>][;base64],<data>
func ParseDataURL(u *url.URL) (mimeType, charset string, payload []byte, err error) {
	if u == nil || u.Scheme != "data" {
		return "", "", nil, neterr.Newf(neterr.InvalidURL, "not a data URL")
	}

	raw := u.Opaque
	if raw == "" {
		raw = strings.TrimPrefix(u.String(), "data:")
	}
	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return "", "", nil, neterr.Newf(neterr.InvalidURL, "data URL missing comma")
	}
	meta, data := raw[:comma], raw[comma+1:]

	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		meta = meta[:len(meta)-len(";base64")]
	}

	mimeType = "text/plain"
	charset = "US-ASCII"
	if meta != "" {
		mt, params, perr := mime.ParseMediaType(meta)
		if perr == nil {
			mimeType = mt
			charset = params["charset"]
		} else if strings.HasPrefix(meta, ";") {
			if _, params, perr := mime.ParseMediaType("text/plain" + meta); perr == nil {
				charset = params["charset"]
			}
		}
	}

	unescaped, uerr := url.PathUnescape(data)
	if uerr != nil {
		return "", "", nil, neterr.Newf(neterr.InvalidURL, "data URL: %v", uerr)
	}

	if !isBase64 {
		return mimeType, charset, []byte(unescaped), nil
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, unescaped)
	payload, derr := base64.StdEncoding.DecodeString(cleaned)
	if derr != nil {
		payload, derr = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if derr != nil {
			return "", "", nil, neterr.Newf(neterr.InvalidURL, "data URL: %v", derr)
		}
	}
	return mimeType, charset, payload, nil
}

type dataHandler struct {
	env *Env
}

// NewDataHandler returns the built-in data scheme handler
func NewDataHandler(env *Env) ProtocolHandler {
	return &dataHandler{env: env}
}

func (h *dataHandler) MaybeCreateJob(req *RequestInfo) Job {
	return NewDataJob(h.env, req)
}

func (h *dataHandler) IsSafeRedirectTarget(*url.URL) bool {
	return false
}

// AboutJob serves about:blank
type AboutJob struct {
	base
}

func (j *AboutJob) Start(d Delegate) {
	j.delegate = d
	j.post(func() {
		page := j.req.URL.Opaque
		if page == "" {
			page = strings.TrimPrefix(j.req.URL.Path, "/")
		}
		if page != "blank" {
			j.fail(neterr.Newf(neterr.InvalidURL, "unknown about page %q", page))
			return
		}
		j.respond(simpleResponse("text/html", "UTF-8", 0), nil)
	})
}

type aboutHandler struct {
	env *Env
}

// NewAboutHandler returns the built-in about scheme handler
func NewAboutHandler(env *Env) ProtocolHandler {
	return &aboutHandler{env: env}
}

func (h *aboutHandler) MaybeCreateJob(req *RequestInfo) Job {
	return &AboutJob{base: newBase(h.env, req, "about")}
}
