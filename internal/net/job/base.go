package job

import (
	"context"
	"io"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

// base implements body reads and kill handling shared by concrete jobs.
// All fields are confined to the IO sequence.
type base struct {
	env      *Env
	req      *RequestInfo
	kind     string
	delegate Delegate

	body     io.Reader
	cancel   context.CancelFunc
	killed   bool
	reading  bool
	finished bool
}

func newBase(env *Env, req *RequestInfo, kind string) base {
	return base{env: env, req: req, kind: kind}
}

func (b *base) Kind() string {
	return b.kind
}

// post runs fn on the IO sequence unless the job has been killed by then
func (b *base) post(fn func()) {
	b.env.IO.PostTask(func() {
		if b.killed {
			return
		}
		fn()
	})
}

// respond publishes headers and makes body readable
func (b *base) respond(resp *Response, body io.Reader) {
	if body == nil {
		body = eofReader{}
	}
	b.body = body
	b.delegate.HeadersComplete(resp)
}

func (b *base) fail(err error) {
	b.delegate.StartError(neterr.FromError(err))
}

func (b *base) Read(p []byte) (int, error) {
	if b.killed {
		return 0, neterr.New(neterr.Aborted)
	}
	if b.body == nil || b.finished {
		return 0, nil
	}
	if b.reading {
		return 0, neterr.Newf(neterr.Failed, "read already in progress")
	}

	if _, inMemory := b.body.(interface{ Len() int }); inMemory {
		n, err := readSome(b.body, p)
		return b.settle(n, err)
	}

	b.reading = true
	body := b.body
	go func() {
		n, err := readSome(body, p)
		b.env.IO.PostTask(func() {
			b.reading = false
			if b.killed {
				return
			}
			n, err := b.settle(n, err)
			b.delegate.ReadCompleted(n, err)
		})
	}()
	return 0, neterr.ErrIOPending
}

// settle maps reader results to the job read contract
func (b *base) settle(n int, err error) (int, error) {
	switch {
	case err == nil:
		return n, nil
	case err == io.EOF:
		if n == 0 {
			b.finished = true
			b.closeBody()
		}
		return n, nil
	default:
		b.finished = true
		b.closeBody()
		return 0, neterr.FromError(err)
	}
}

func (b *base) Kill() {
	if b.killed {
		return
	}
	b.killed = true
	if b.cancel != nil {
		b.cancel()
	}
	b.closeBody()
}

func (b *base) closeBody() {
	if c, ok := b.body.(io.Closer); ok {
		c.Close()
	}
}

// readSome retries readers that return (0, nil)
func readSome(r io.Reader, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for i := 0; i < 100; i++ {
		n, err := r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
func (eofReader) Len() int                 { return 0 }
