package core

import (
	"github.com/dustin/go-humanize"

	"hermod/internal/webseed"
)

// Init check existing files, then start downloading.
func (d *Download) Init() {
	d.log.Debug().Msg("initializing download")

	err := d.initCheck()

	d.c.m.Lock()
	defer d.c.m.Unlock()

	if d.ctx.Err() != nil {
		return
	}

	if err != nil {
		d.setError(err)
		return
	}

	d.log.Debug().Msgf("done size %s", humanize.IBytes(uint64(d.completed())))

	if d.stopAfterCheck {
		d.state = Stopped
		return
	}

	d.state = Downloading
	d.start()
}

// start must be called with client lock held.
func (d *Download) start() {
	switch d.state {
	case Checking:
		d.stopAfterCheck = false
		return
	case Downloading, Seeding:
		if len(d.peers) != 0 {
			return
		}
	}

	d.err = nil

	if d.IsDone() {
		d.state = Seeding
		return
	}

	d.state = Downloading
	d.startWebSeeds()
}

// stop must be called with client lock held.
func (d *Download) stop() {
	if d.state == Checking {
		d.stopAfterCheck = true
		return
	}

	d.state = Stopped
	d.closeWebSeeds()
}

func (d *Download) startWebSeeds() {
	for _, u := range d.webSeeds {
		d.peers = append(d.peers, webseed.New(webseed.Config{
			Session:      d.c,
			Requests:     d.c,
			Cache:        d.c.cache,
			Fetcher:      d.c.http,
			OnEvent:      d.onEvent,
			URL:          u,
			IdleInterval: d.c.Config.WebSeed.IdleInterval.Std(),
			TorrentID:    d.id,
			PieceCount:   d.info.NumPieces,
		}))
	}

	if len(d.peers) == 0 {
		d.log.Warn().Msg("no webseed, download will not progress")
	}
}

func (d *Download) closeWebSeeds() {
	for _, p := range d.peers {
		p.Close()
	}

	d.peers = nil
	d.active.Clear()
}
