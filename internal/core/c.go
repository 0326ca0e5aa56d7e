package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/juju/ratelimit"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"hermod/internal/bandwidth"
	"hermod/internal/config"
	"hermod/internal/meta"
	"hermod/internal/pkg/global/tasks"
	"hermod/internal/storage"
	"hermod/internal/transport"
	"hermod/internal/webseed"
)

var ErrTorrentNotFound = errors.New("torrent not found")
var ErrTorrentExists = errors.New("torrent already exists")

// Client is the session. Its lock guards every download and webseed.
type Client struct {
	ctx         context.Context
	cancel      context.CancelFunc
	http        *transport.Client
	cache       *storage.Cache
	bandwidth   *bandwidth.Bandwidth
	verifySem   *semaphore.Weighted
	checkBucket *ratelimit.Bucket
	downloadMap map[meta.Hash]*Download
	byID        map[uint32]*Download
	sessionPath string
	downloads   []*Download
	Config      config.Config
	m           sync.Mutex
	nextID      uint32
}

func New(cfg config.Config, sessionPath string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		Config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
		sessionPath: sessionPath,
		http:        transport.New(cfg.App.MaxHTTPParallel, cfg.App.HTTPTimeout.Std()),
		bandwidth:   bandwidth.New(nil),
		verifySem:   semaphore.NewWeighted(int64(runtime.NumCPU())),
		downloadMap: make(map[meta.Hash]*Download),
		byID:        make(map[uint32]*Download),
	}

	if cfg.App.CheckRate > 0 {
		c.checkBucket = ratelimit.NewBucketWithRate(float64(cfg.App.CheckRate), int64(cfg.App.CheckRate))
	}

	c.cache = storage.NewCache(c.onWriteError)

	return c
}

func (c *Client) Lock() {
	c.m.Lock()
}

func (c *Client) Unlock() {
	c.m.Unlock()
}

// FindTorrent must be called with lock held.
func (c *Client) FindTorrent(id uint32) webseed.Torrent {
	d, ok := c.byID[id]
	if !ok {
		return nil
	}

	return d
}

type AddOption struct {
	// WebSeeds are used together with url-list of torrent.
	WebSeeds []string
	resume   *resume
}

func (c *Client) AddTorrent(m *metainfo.MetaInfo, info meta.Info, downloadPath string, opt AddOption) error {
	log.Info().Msgf("try add torrent %s", info.Hash)

	raw, err := bencode.Marshal(m)
	if err != nil {
		return err
	}

	c.m.Lock()

	if _, ok := c.downloadMap[info.Hash]; ok {
		c.m.Unlock()
		return fmt.Errorf("%w: %s", ErrTorrentExists, info.Hash)
	}

	c.nextID++
	d := c.NewDownload(c.nextID, raw, info, downloadPath, lo.Uniq(lo.Compact(append(append([]string{}, info.WebSeeds...), opt.WebSeeds...))))

	c.downloads = append(c.downloads, d)
	c.downloadMap[info.Hash] = d
	c.byID[d.id] = d

	c.cache.Register(d.id, d.layout)
	c.http.SetLimiters(d.id, d.bandwidth.Limiters()...)

	if opt.resume != nil {
		d.restore(opt.resume)
	}

	c.m.Unlock()

	tasks.Submit(d.Init)

	return nil
}

func (c *Client) RemoveTorrent(h meta.Hash, deleteData bool) error {
	c.m.Lock()

	d, ok := c.downloadMap[h]
	if !ok {
		c.m.Unlock()
		return ErrTorrentNotFound
	}

	d.closeWebSeeds()
	d.cancel()

	delete(c.downloadMap, h)
	delete(c.byID, d.id)
	c.downloads = lo.Without(c.downloads, d)

	c.cache.Unregister(d.id)
	c.http.RemoveLimiters(d.id)

	c.m.Unlock()

	c.removeResume(h)

	d.log.Info().Bool("delete_data", deleteData).Msg("download removed")

	if deleteData {
		return d.removeData()
	}

	d.layout.Close()

	return nil
}

func (c *Client) StartTorrent(h meta.Hash) error {
	c.m.Lock()
	defer c.m.Unlock()

	d, ok := c.downloadMap[h]
	if !ok {
		return ErrTorrentNotFound
	}

	d.start()
	return nil
}

func (c *Client) StopTorrent(h meta.Hash) error {
	c.m.Lock()
	defer c.m.Unlock()

	d, ok := c.downloadMap[h]
	if !ok {
		return ErrTorrentNotFound
	}

	d.stop()
	return nil
}

func (c *Client) GetTorrent(h meta.Hash) (DownloadInfo, error) {
	c.m.Lock()
	defer c.m.Unlock()

	d, ok := c.downloadMap[h]
	if !ok {
		return DownloadInfo{}, ErrTorrentNotFound
	}

	return d.status(), nil
}

func (c *Client) Torrents() []DownloadInfo {
	c.m.Lock()
	defer c.m.Unlock()

	return lo.Map(c.downloads, func(d *Download, _ int) DownloadInfo {
		return d.status()
	})
}

func (c *Client) onWriteError(torrentID uint32, err error) {
	c.m.Lock()
	defer c.m.Unlock()

	if d, ok := c.byID[torrentID]; ok {
		d.setError(err)
	}
}
