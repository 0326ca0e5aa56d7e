package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/colega/zeropool"
	"github.com/docker/go-units"
	"github.com/go-resty/resty/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"hermod/internal/pkg/global"
)

var ErrShortBody = errors.New("response body is shorter than requested range")
var ErrClosed = errors.New("transport client is closed")

// Range is a byte range of a remote file.
type Range struct {
	Offset int64
	Length int64
}

func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

type Request struct {
	URL   string
	Range Range
	// SpeedLimitTag selects download limiters registered with SetLimiters.
	SpeedLimitTag uint32
	// OnData receives body bytes as they arrive. The slice is reused after OnData returns.
	OnData func(b []byte)
	// OnDone is called exactly once, never from the goroutine calling Fetch.
	OnDone func(res Response)
}

type Response struct {
	Err        error
	PrimaryIP  string
	Duration   time.Duration
	Status     int
	DidConnect bool
	DidTimeout bool
}

// OK reports if the server returned the requested range.
func (r Response) OK() bool {
	return r.Err == nil && r.Status == http.StatusPartialContent
}

type pending struct {
	ctx context.Context
	r   Request
}

// Client runs at most maxParallel requests at once, the rest wait in FIFO order.
type Client struct {
	log      zerolog.Logger
	http     *resty.Client
	pool     *ants.Pool
	limiters *xsync.MapOf[uint32, []*rate.Limiter]
	wake     chan struct{}
	stopped  chan struct{}
	queue    []pending
	m        sync.Mutex
	closed   bool
}

var readBuffers = zeropool.New(func() []byte {
	return make([]byte, units.KiB*32)
})

func New(maxParallel int, timeout time.Duration) *Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxParallel,
		MaxIdleConnsPerHost: maxParallel,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  true,
	}

	hc := &http.Client{Transport: tr}

	h := resty.NewWithClient(hc).SetHeader("User-Agent", global.UserAgent)
	if timeout > 0 {
		h.SetTimeout(timeout)
	}

	c := &Client{
		log:      log.With().Str("component", "transport").Logger(),
		http:     h,
		pool:     lo.Must(ants.NewPool(maxParallel)),
		limiters: xsync.NewMapOf[uint32, []*rate.Limiter](),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}

	go c.dispatch()

	return c
}

// SetLimiters registers download limiters for a speed limit tag.
func (c *Client) SetLimiters(tag uint32, l ...*rate.Limiter) {
	c.limiters.Store(tag, l)
}

func (c *Client) RemoveLimiters(tag uint32) {
	c.limiters.Delete(tag)
}

// Fetch queues r and returns immediately. Cancel ctx to abort it.
func (c *Client) Fetch(ctx context.Context, r Request) {
	c.m.Lock()
	if c.closed {
		c.m.Unlock()
		go r.OnDone(Response{Err: ErrClosed})
		return
	}

	c.queue = append(c.queue, pending{ctx: ctx, r: r})
	c.m.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close stops the client, requests still in queue are finished with ErrClosed.
func (c *Client) Close() {
	c.m.Lock()
	if c.closed {
		c.m.Unlock()
		return
	}
	c.closed = true
	c.m.Unlock()

	c.pool.Release()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	<-c.stopped
}

func (c *Client) next() (pending, bool, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	if len(c.queue) == 0 {
		return pending{}, false, c.closed
	}

	p := c.queue[0]
	c.queue[0] = pending{}
	c.queue = c.queue[1:]

	return p, true, c.closed
}

// dispatch moves queued requests to the pool, waiting while all workers are busy.
func (c *Client) dispatch() {
	defer close(c.stopped)

	for range c.wake {
		for {
			p, ok, closed := c.next()
			if !ok {
				if closed {
					return
				}
				break
			}

			if closed {
				p.r.OnDone(Response{Err: ErrClosed})
				continue
			}

			err := c.pool.Submit(func() {
				p.r.OnDone(c.do(p.ctx, p.r))
			})

			if err != nil {
				if errors.Is(err, ants.ErrPoolClosed) {
					err = ErrClosed
				}
				p.r.OnDone(Response{Err: err})
			}
		}
	}
}

func (c *Client) do(ctx context.Context, r Request) Response {
	start := time.Now()

	c.log.Trace().Str("url", r.URL).Str("range", r.Range.Header()).Msg("fetch")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Range", r.Range.Header()).
		SetDoNotParseResponse(true).
		EnableTrace().
		Get(r.URL)

	var res Response

	if resp != nil && resp.RawResponse != nil {
		defer resp.RawBody().Close()

		res.DidConnect = true
		res.Status = resp.StatusCode()

		if addr := resp.Request.TraceInfo().RemoteAddr; addr != nil {
			if tcp, ok := addr.(*net.TCPAddr); ok {
				res.PrimaryIP = tcp.IP.String()
			} else {
				res.PrimaryIP = addr.String()
			}
		}
	}

	if err != nil {
		res.Err = err
		res.DidTimeout = isTimeout(err)
		res.Duration = time.Since(start)
		return res
	}

	if res.Status != http.StatusPartialContent {
		res.Duration = time.Since(start)
		return res
	}

	res.Err = c.readBody(ctx, resp.RawBody(), r)
	if res.Err != nil {
		res.DidTimeout = isTimeout(res.Err)
	}

	res.Duration = time.Since(start)

	return res
}

func (c *Client) readBody(ctx context.Context, body io.Reader, r Request) error {
	limiters, _ := c.limiters.Load(r.SpeedLimitTag)

	buf := readBuffers.Get()
	defer readBuffers.Put(buf)

	remaining := r.Range.Length

	for remaining > 0 {
		n, err := body.Read(buf[:min(int64(len(buf)), remaining)])
		if n > 0 {
			for _, l := range limiters {
				if e := waitN(ctx, l, n); e != nil {
					return e
				}
			}

			r.OnData(buf[:n])
			remaining -= int64(n)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return err
		}
	}

	if remaining > 0 {
		return ErrShortBody
	}

	return nil
}

func waitN(ctx context.Context, l *rate.Limiter, n int) error {
	if l.Limit() == rate.Inf {
		return nil
	}

	burst := max(l.Burst(), 1)
	for n > 0 {
		take := min(n, burst)
		if err := l.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}

	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
