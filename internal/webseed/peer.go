package webseed

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kelindar/bitmap"
	"github.com/negrel/assert"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"hermod/internal/bandwidth"
	"hermod/internal/block"
	"hermod/internal/transport"
)

const DefaultIdleInterval = time.Second * 2

type Config struct {
	Session  Session
	Requests Requests
	Cache    Cache
	Fetcher  Fetcher
	// OnEvent is called with session lock held.
	OnEvent func(p *Peer, e Event)
	// Now defaults to time.Now
	Now func() time.Time
	URL string
	// IdleInterval is the period of idle driver, negative value disables the ticker.
	IdleInterval time.Duration
	TorrentID    uint32
	// PieceCount is used to build the bitfield of a peer having everything.
	PieceCount uint32
	// Have overrides the pieces this webseed serves, nil means all of them.
	Have bitmap.Bitmap
}

// Peer is an HTTP server treated as a peer which has every piece of the torrent.
//
// Methods without lock in their doc must be called with session lock held.
type Peer struct {
	log       zerolog.Logger
	ctx       context.Context
	session   Session
	requests  Requests
	cache     Cache
	fetcher   Fetcher
	onEvent   func(p *Peer, e Event)
	cancel    context.CancelFunc
	bandwidth *bandwidth.Bandwidth
	tasks     map[*task]struct{}
	limiter   limiter
	url       string
	have      bitmap.Bitmap
	torrentID uint32
	closed    bool
}

// New creates a webseed peer of a torrent, its bandwidth is accounted under the torrent's.
// Must be called with session lock held.
func New(cfg Config) *Peer {
	ctx, cancel := context.WithCancel(context.Background())

	var parent *bandwidth.Bandwidth
	if t := cfg.Session.FindTorrent(cfg.TorrentID); t != nil {
		parent = t.Bandwidth()
	}

	p := &Peer{
		log:       log.With().Uint32("torrent", cfg.TorrentID).Str("webseed", cfg.URL).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		session:   cfg.Session,
		requests:  cfg.Requests,
		cache:     cfg.Cache,
		fetcher:   cfg.Fetcher,
		onEvent:   cfg.OnEvent,
		url:       cfg.URL,
		torrentID: cfg.TorrentID,
		bandwidth: bandwidth.New(parent),
		tasks:     make(map[*task]struct{}),
		limiter:   limiter{now: lo.Ternary(cfg.Now == nil, time.Now, cfg.Now)},
	}

	if cfg.Have != nil {
		p.have = append(bitmap.Bitmap(nil), cfg.Have...)
	} else {
		for i := uint32(0); i < cfg.PieceCount; i++ {
			p.have.Set(i)
		}
	}

	interval := cfg.IdleInterval
	if interval == 0 {
		interval = DefaultIdleInterval
	}

	if interval > 0 {
		go p.idleLoop(interval)
	}

	return p
}

func (p *Peer) URL() string {
	return p.url
}

// DisplayName returns host:port of the webseed.
func (p *Peer) DisplayName() string {
	u, err := url.Parse(p.url)
	if err != nil || u.Host == "" {
		return p.url
	}

	if u.Port() != "" {
		return u.Host
	}

	return net.JoinHostPort(u.Hostname(), lo.Ternary(u.Scheme == "https", "443", "80"))
}

func (p *Peer) HasPiece(index uint32) bool {
	return p.have.Contains(index)
}

func (p *Peer) PieceSpeed() int64 {
	return p.bandwidth.PieceSpeed(bandwidth.Down)
}

// ActiveRequests returns number of blocks not yet delivered.
func (p *Peer) ActiveRequests() int {
	var n int
	for t := range p.tasks {
		n += int(t.span.Len())
	}

	return n
}

type View struct {
	URL           string `json:"url"`
	Speed         int64  `json:"speed"`
	IsDownloading bool   `json:"is_downloading"`
}

func (p *Peer) View() View {
	return View{
		URL:           p.url,
		IsDownloading: len(p.tasks) != 0,
		Speed:         p.PieceSpeed(),
	}
}

func (p *Peer) torrent() Torrent {
	if p.closed {
		return nil
	}

	return p.session.FindTorrent(p.torrentID)
}

func wanted(t Torrent) bool {
	return t != nil && t.IsRunning() && !t.IsDone()
}

// CanRequest returns how many spans and blocks may be requested now.
func (p *Peer) CanRequest() (spans int, blocks int) {
	if !wanted(p.torrent()) {
		return 0, 0
	}

	return p.limiter.capacity()
}

// RequestBlocks starts downloading spans.
func (p *Peer) RequestBlocks(spans []block.Span) {
	tor := p.torrent()
	if !wanted(tor) {
		return
	}

	info := tor.BlockInfo()

	for _, span := range spans {
		if span.Empty() {
			continue
		}

		t := newTask(p.ctx, info, span)
		p.tasks[t] = struct{}{}

		p.requests.SentRequests(tor, p, span)
		p.requestNextChunk(tor, t)
	}
}

// OnIdle asks piece selection authority for more work. It takes session lock.
func (p *Peer) OnIdle() {
	p.session.Lock()
	defer p.session.Unlock()

	p.onIdle()
}

func (p *Peer) onIdle() {
	slots, blocks := p.CanRequest()
	if slots == 0 || blocks == 0 {
		return
	}

	spans := p.requests.NextRequests(p.torrent(), p, blocks)
	if len(spans) > slots {
		spans = spans[:slots]
	}

	p.RequestBlocks(spans)
}

// Close abandons all running tasks without waiting for them.
func (p *Peer) Close() {
	if p.closed {
		return
	}

	p.closed = true

	for t := range p.tasks {
		t.kill()
	}

	clear(p.tasks)
	p.cancel()
}

func (p *Peer) idleLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.OnIdle()
		}
	}
}

func (p *Peer) publish(e Event) {
	if p.log.Trace().Enabled() {
		p.log.Trace().Uint32("block", e.Block).Uint32("length", e.Length).Msgf("publish %s", color.BlueString(e.Type.String()))
	}

	if p.onEvent != nil {
		p.onEvent(p, e)
	}
}

func (p *Peer) publishRejected(tor Torrent, span block.Span) {
	info := tor.BlockInfo()
	for b := span.Begin; b < span.End; b++ {
		p.publish(blockEvent(EventRejected, info, b))
	}
}

func (p *Peer) removeTask(t *task) {
	delete(p.tasks, t)
	t.free()
}

// requestNextChunk requests bytes after what task already holds, up to the end of current file.
func (p *Peer) requestNextChunk(tor Torrent, t *task) {
	if !p.limiter.tryAdmit() {
		p.log.Debug().Stringer("span", t.span).Msg("request not admitted, give back blocks")
		p.publishRejected(tor, block.Span{Begin: t.loc.Block, End: t.span.End})
		p.removeTask(t)
		return
	}

	offset := t.loc.Byte + int64(t.buf.Len())
	fileIndex, fileOffset := tor.FileAt(offset)
	length := min(tor.FileSize(fileIndex)-fileOffset, t.endByte-offset)

	assert.True(length > 0)

	p.fetcher.Fetch(t.ctx, transport.Request{
		URL:           fileURL(p.url, tor.FileSubpath(fileIndex)),
		Range:         transport.Range{Offset: fileOffset, Length: length},
		SpeedLimitTag: tor.ID(),
		OnData: func(b []byte) {
			p.onData(t, b)
		},
		OnDone: func(res transport.Response) {
			p.onFetchDone(t, res)
		},
	})
}

func (p *Peer) onData(t *task, b []byte) {
	if len(b) == 0 {
		return
	}

	p.session.Lock()
	defer p.session.Unlock()

	if !t.live.Load() {
		return
	}

	_, _ = t.buf.Write(b)

	p.bandwidth.NotifyConsumed(bandwidth.Down, len(b), true, p.limiter.now())
	p.publish(Event{Type: EventPieceData, Length: uint32(len(b))})
	p.limiter.gotData()
}

func (p *Peer) onFetchDone(t *task, res transport.Response) {
	p.session.Lock()
	defer p.session.Unlock()

	if !t.live.Load() {
		t.free()
		return
	}

	success := res.OK()
	p.limiter.release(success)

	tor := p.torrent()
	if tor == nil {
		p.removeTask(t)
		return
	}

	if !success {
		p.log.Debug().Err(res.Err).Int("status", res.Status).Str("ip", res.PrimaryIP).
			Bool("connected", res.DidConnect).Bool("timeout", res.DidTimeout).
			Dur("duration", res.Duration).Msg("request failed")
		p.publishRejected(tor, block.Span{Begin: t.loc.Block, End: t.span.End})
		p.removeTask(t)
		return
	}

	p.useFetchedBlocks(tor, t)

	if t.loc.Byte < t.endByte {
		// reached the end of a file, continue with next one
		p.requestNextChunk(tor, t)
		return
	}

	assert.True(t.buf.Len() == 0)

	p.removeTask(t)
	p.onIdle()
}

// useFetchedBlocks moves every complete block out of task buffer into cache.
func (p *Peer) useFetchedBlocks(tor Torrent, t *task) {
	info := tor.BlockInfo()
	torrentID := tor.ID()

	var consumed int
	for t.loc.Byte < t.endByte {
		size := int(info.BlockSize(t.loc.Block))
		if t.buf.Len()-consumed < size {
			break
		}

		b := t.loc.Block
		if !tor.HasBlock(b) {
			data := make([]byte, size)
			copy(data, t.buf.B[consumed:consumed+size])
			p.cache.WriteBlock(torrentID, b, data, func() {
				p.onBlockWritten(torrentID, b)
			})
		}

		consumed += size
		t.loc = info.ByteLoc(t.loc.Byte + int64(size))

		assert.True(t.loc.Byte <= t.endByte)
		assert.True(t.loc.Byte == t.endByte || t.loc.BlockOffset == 0)
	}

	t.buf.B = append(t.buf.B[:0], t.buf.B[consumed:]...)
}

func (p *Peer) onBlockWritten(torrentID uint32, b uint32) {
	p.session.Lock()
	defer p.session.Unlock()

	if p.closed {
		return
	}

	tor := p.session.FindTorrent(torrentID)
	if tor == nil {
		return
	}

	p.publish(blockEvent(EventBlock, tor.BlockInfo(), b))
}

// fileURL follows BEP 19, a base url ending with '/' is a directory holding torrent files.
func fileURL(base string, subpath []string) string {
	if !strings.HasSuffix(base, "/") || len(subpath) == 0 {
		return base
	}

	escaped := lo.Map(subpath, func(s string, _ int) string {
		return strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	})

	return base + strings.Join(escaped, "/")
}
