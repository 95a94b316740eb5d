package job

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

var errUpstreamStatus = errors.New("upstream server error")

// Fetcher performs upstream fetches for HTTPJob through resty, with one
// circuit breaker per upstream host. It never retries.
type Fetcher struct {
	client   *resty.Client
	breakers *resilience.Group
}

// NewFetcher creates a fetcher over transport
func NewFetcher(transport http.RoundTripper, userAgent string, breakers *resilience.Group) *Fetcher {
	client := resty.New().
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", userAgent)
	if transport != nil {
		client.SetTransport(transport)
	}
	if breakers == nil {
		breakers = resilience.NewGroup(resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Fetcher{client: client, breakers: breakers}
}

// Breakers exposes the per-host breaker group
func (f *Fetcher) Breakers() *resilience.Group {
	return f.breakers
}

// FetchSpec describes an upstream fetch
type FetchSpec struct {
	URL      string
	Method   string
	Referrer string
	Header   http.Header
	Body     io.Reader
}

// Fetch issues the request and returns the raw response with an unread body
func (f *Fetcher) Fetch(ctx context.Context, spec FetchSpec) (*http.Response, error) {
	target, err := url.Parse(spec.URL)
	if err != nil || target.Host == "" {
		return nil, neterr.Newf(neterr.InvalidURL, "invalid upstream url %q", spec.URL)
	}

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	var raw *http.Response
	err = f.breakers.Get(target.Host).Execute(func() error {
		r := f.client.R().
			SetContext(ctx).
			SetDoNotParseResponse(true)
		for k, vs := range spec.Header {
			for _, v := range vs {
				r.SetHeader(k, v)
			}
		}
		if spec.Referrer != "" {
			r.SetHeader("Referer", spec.Referrer)
		}
		if spec.Body != nil {
			r.SetBody(spec.Body)
		}

		resp, err := r.Execute(method, target.String())
		if err != nil {
			return err
		}
		raw = resp.RawResponse
		if resp.StatusCode() >= http.StatusInternalServerError {
			return errUpstreamStatus
		}
		return nil
	})

	switch {
	case errors.Is(err, errUpstreamStatus):
		return raw, nil
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return nil, neterr.Newf(neterr.ConnectionRefused, "upstream %s unavailable: %v", target.Host, err)
	case err != nil:
		return nil, err
	}
	return raw, nil
}

// HTTPJob answers a request with the response of another URL
type HTTPJob struct {
	base
	spec FetchSpec
}

// NewHTTPJob creates an upstream fetch job. Empty method and referrer are
// taken from the original request.
func NewHTTPJob(env *Env, req *RequestInfo, spec FetchSpec) *HTTPJob {
	if spec.Method == "" {
		spec.Method = req.Method
	}
	if spec.Referrer == "" {
		spec.Referrer = req.Referrer
	}
	return &HTTPJob{base: newBase(env, req, "http"), spec: spec}
}

func (j *HTTPJob) Start(d Delegate) {
	j.delegate = d
	if j.env.Fetcher == nil {
		j.post(func() { j.fail(neterr.Newf(neterr.NotImplemented, "upstream fetch unavailable")) })
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	go func() {
		resp, err := j.env.Fetcher.Fetch(ctx, j.spec)
		j.env.IO.PostTask(func() {
			if j.killed {
				if resp != nil {
					resp.Body.Close()
				}
				return
			}
			if err != nil {
				j.env.Logger.Debug("Upstream fetch failed",
					zap.String("request_id", j.req.ID),
					zap.String("upstream", j.spec.URL),
					zap.Error(err),
				)
				j.fail(err)
				return
			}
			body, err := decodeBody(resp)
			if err != nil {
				resp.Body.Close()
				j.fail(err)
				return
			}
			j.respond(responseFrom(resp), body)
		})
	}()
}
