package core

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/atomic"

	"hermod/internal/bandwidth"
	"hermod/internal/block"
	"hermod/internal/meta"
	"hermod/internal/pkg/bm"
	"hermod/internal/storage"
	"hermod/internal/webseed"
)

type State uint8

const Stopped State = 0
const Downloading State = 1
const Seeding State = 2
const Checking State = 3
const Error State = 4

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Downloading:
		return "downloading"
	case Seeding:
		return "seeding"
	case Checking:
		return "checking"
	case Error:
		return "error"
	}

	return fmt.Sprintf("State(%d)", s)
}

// Download manage a download task.
// Fields without their own synchronization are guarded by the client lock.
type Download struct {
	log       zerolog.Logger
	ctx       context.Context
	err       error
	cancel    context.CancelFunc
	c         *Client
	layout    *storage.Layout
	bandwidth *bandwidth.Bandwidth
	// blocks written to disk
	have *bm.Bitmap
	// blocks requested from a webseed and not delivered yet
	active *bm.Bitmap
	// verified pieces
	pieces    *bm.Bitmap
	verifying map[uint32]struct{}
	basePath  string
	torrent   []byte
	webSeeds  []string
	peers     []*webseed.Peer
	info      meta.Info
	blocks    block.Info

	AddAt       int64
	CompletedAt atomic.Int64
	downloaded  atomic.Int64
	corrupted   atomic.Int64

	id    uint32
	state State
	// stop after initial check finished
	stopAfterCheck bool
}

func (c *Client) NewDownload(id uint32, torrent []byte, info meta.Info, basePath string, webSeeds []string) *Download {
	ctx, cancel := context.WithCancel(c.ctx)

	bw := bandwidth.New(c.bandwidth)
	bw.SetDownloadLimit(int64(c.Config.App.DownloadLimit))

	d := &Download{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		c:         c,
		log:       log.With().Stringer("info_hash", info.Hash).Logger(),
		info:      info,
		blocks:    info.BlockInfo(),
		torrent:   torrent,
		basePath:  basePath,
		webSeeds:  webSeeds,
		layout:    storage.NewLayout(basePath, info),
		bandwidth: bw,
		have:      bm.New(),
		active:    bm.New(),
		pieces:    bm.New(),
		verifying: make(map[uint32]struct{}),
		state:     Checking,
		AddAt:     time.Now().Unix(),
	}

	d.log.Info().Int("webseeds", len(webSeeds)).Msg("download created")

	return d
}

func (d *Download) ID() uint32 {
	return d.id
}

func (d *Download) BlockInfo() block.Info {
	return d.blocks
}

func (d *Download) IsRunning() bool {
	return d.state == Downloading || d.state == Seeding
}

func (d *Download) IsDone() bool {
	return d.pieces.Count() == d.info.NumPieces
}

func (d *Download) HasBlock(b uint32) bool {
	return d.have.Get(b)
}

func (d *Download) FileAt(offset int64) (int, int64) {
	return d.info.FileAt(offset)
}

func (d *Download) FileSize(index int) int64 {
	return d.info.Files[index].Length
}

func (d *Download) FileSubpath(index int) []string {
	return d.info.Files[index].Subpath
}

func (d *Download) Bandwidth() *bandwidth.Bandwidth {
	return d.bandwidth
}

// if download encounter an error must stop downloading
func (d *Download) setError(err error) {
	d.log.Err(err).Msg("download error")
	d.err = err
	d.state = Error
	d.closeWebSeeds()
}

func (d *Download) completed() int64 {
	n := int64(d.pieces.Count()) * d.info.PieceLength
	if d.pieces.Get(d.info.NumPieces - 1) {
		n = n - d.info.PieceLength + d.info.LastPieceSize
	}

	return n
}

type DownloadInfo struct {
	Hash        string         `json:"info_hash"`
	Name        string         `json:"name"`
	State       string         `json:"state"`
	BasePath    string         `json:"base_path"`
	Error       string         `json:"error,omitempty"`
	WebSeeds    []webseed.View `json:"webseeds"`
	Progress    float64        `json:"progress"`
	TotalLength int64          `json:"total_length"`
	Completed   int64          `json:"completed"`
	Downloaded  int64          `json:"downloaded"`
	Corrupted   int64          `json:"corrupted"`
	Speed       int64          `json:"speed"`
	AddAt       int64          `json:"add_at"`
	CompletedAt int64          `json:"completed_at"`
}

func (d *Download) status() DownloadInfo {
	completed := d.completed()

	s := DownloadInfo{
		Hash:        d.info.Hash.Hex(),
		Name:        d.info.Name,
		State:       d.state.String(),
		BasePath:    d.basePath,
		TotalLength: d.info.TotalLength,
		Completed:   completed,
		Progress:    float64(completed*1000/d.info.TotalLength) / 1000,
		Downloaded:  d.downloaded.Load(),
		Corrupted:   d.corrupted.Load(),
		Speed:       d.bandwidth.PieceSpeed(bandwidth.Down),
		AddAt:       d.AddAt,
		CompletedAt: d.CompletedAt.Load(),
		WebSeeds:    make([]webseed.View, 0, len(d.peers)),
	}

	if d.err != nil {
		s.Error = d.err.Error()
	}

	for _, p := range d.peers {
		s.WebSeeds = append(s.WebSeeds, p.View())
	}

	return s
}

// Display must be called with client lock held.
func (d *Download) Display() string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	speed := d.bandwidth.PieceSpeed(bandwidth.Down)
	left := d.info.TotalLength - d.completed()

	var eta time.Duration
	if speed != 0 {
		eta = time.Second * time.Duration(left/speed)
	}

	_, _ = fmt.Fprintf(buf, "%11s | %s | %6.1f%% | %8s | %8s | %10s/s ↓ | %5s | %d",
		d.state,
		d.info.Hash,
		float64(d.completed()*1000/d.info.TotalLength)/10,
		humanize.IBytes(uint64(d.info.TotalLength)),
		humanize.IBytes(uint64(left)),
		humanize.IBytes(uint64(speed)),
		eta.String(),
		len(d.peers),
	)

	if d.err != nil {
		_, _ = fmt.Fprintf(buf, " | %v", d.err)
	}

	for _, p := range d.peers {
		_, _ = fmt.Fprintf(buf, "\n ↓ %8s/s | %4d blocks | %s", humanize.IBytes(uint64(p.PieceSpeed())), p.ActiveRequests(), p.DisplayName())
	}

	return buf.String()
}
