package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/swaggest/jsonrpc"
	"github.com/swaggest/usecase"
	"github.com/trim21/errgo"

	"hermod/internal/core"
	"hermod/internal/meta"
)

type rpc struct {
	h *jsonrpc.Handler
	v *validator.Validate
	c *core.Client
}

// add registers a json rpc method, input is checked with `validate` struct tags first.
func add[I any, O any](r rpc, name string, title string, fn func(ctx context.Context, req I, res *O) error) {
	u := usecase.NewInteractor[I, O](func(ctx context.Context, req I, res *O) error {
		if err := r.v.Struct(req); err != nil {
			return CodeError(codeInvalidParams, err)
		}

		return fn(ctx, req, res)
	})

	u.SetName(name)
	u.SetTitle(title)
	u.SetTags("torrent")
	r.h.Add(u)
}

type AddTorrentReq struct {
	TorrentFile string   `json:"torrent_file" validate:"required,base64" description:"base64 encoded torrent file content"`
	DownloadDir string   `json:"download_dir" description:"download dir, default to application download dir"`
	WebSeeds    []string `json:"webseeds,omitempty" validate:"dive,url" description:"extra webseed urls, used together with url-list of torrent"`
	IsBaseDir   bool     `json:"is_base_dir" description:"if true, will not append torrent name to download_dir"`
}

type AddTorrentRes struct {
	InfoHash string `json:"info_hash" description:"torrent file hash"`
}

func addTorrent(r rpc) {
	add(r, "torrent.add", "add torrent",
		func(ctx context.Context, req *AddTorrentReq, res *AddTorrentRes) error {
			raw, err := base64.StdEncoding.DecodeString(req.TorrentFile)
			if err != nil {
				return CodeError(codeInvalidBase64, errgo.Wrap(err, "torrent is not valid base64 data"))
			}

			m, err := metainfo.Load(bytes.NewBuffer(raw))
			if err != nil {
				return CodeError(codeInvalidTorrent, errgo.Wrap(err, "failed to parse torrent file"))
			}

			info, err := meta.FromTorrent(*m)
			if err != nil {
				if errors.Is(err, meta.ErrNotV1Torrent) {
					return CodeError(codeV2Only, errors.New("bt v2 only torrent not supported yet"))
				}
				return CodeError(codeInvalidTorrent, errgo.Wrap(err, "failed to parse torrent info"))
			}

			if info.PieceLength > 256*units.MiB {
				return CodeError(codePieceTooLarge,
					fmt.Errorf("piece length %s too big, only allow <= 256 MiB",
						humanize.IBytes(uint64(info.PieceLength))))
			}

			var downloadDir = req.DownloadDir

			if downloadDir == "" {
				downloadDir = filepath.Join(r.c.Config.App.DownloadDir, info.Name)
			} else if !req.IsBaseDir {
				downloadDir = filepath.Join(req.DownloadDir, info.Name)
			}

			err = r.c.AddTorrent(m, info, downloadDir, core.AddOption{WebSeeds: req.WebSeeds})
			if err != nil {
				if errors.Is(err, core.ErrTorrentExists) {
					return CodeError(codeTorrentExists, err)
				}
				return errgo.Wrap(err, "failed to add torrent to download")
			}

			*res = AddTorrentRes{InfoHash: info.Hash.Hex()}
			return nil
		},
	)
}

type ListTorrentsReq struct{}

type ListTorrentsRes struct {
	Torrents []core.DownloadInfo `json:"torrents"`
}

func listTorrents(r rpc) {
	add(r, "torrent.list", "list torrents",
		func(ctx context.Context, _ *ListTorrentsReq, res *ListTorrentsRes) error {
			*res = ListTorrentsRes{Torrents: r.c.Torrents()}
			return nil
		},
	)
}

type TorrentReq struct {
	InfoHash string `json:"info_hash" validate:"required" description:"hex encoded info hash"`
}

func (req TorrentReq) hash() (meta.Hash, error) {
	ih, err := meta.ParseHash(req.InfoHash)
	if err != nil {
		return ih, CodeError(codeInvalidHash, err)
	}

	return ih, nil
}

func notFound(err error) error {
	if errors.Is(err, core.ErrTorrentNotFound) {
		return CodeError(codeTorrentNotFound, err)
	}

	return err
}

func getTorrent(r rpc) {
	add(r, "torrent.get", "get torrent status",
		func(ctx context.Context, req *TorrentReq, res *core.DownloadInfo) error {
			ih, err := req.hash()
			if err != nil {
				return err
			}

			d, err := r.c.GetTorrent(ih)
			if err != nil {
				return notFound(err)
			}

			*res = d
			return nil
		},
	)
}

type OkRes struct {
	Ok bool `json:"ok"`
}

func startTorrent(r rpc) {
	add(r, "torrent.start", "start downloading torrent",
		func(ctx context.Context, req *TorrentReq, res *OkRes) error {
			ih, err := req.hash()
			if err != nil {
				return err
			}

			if err := r.c.StartTorrent(ih); err != nil {
				return notFound(err)
			}

			res.Ok = true
			return nil
		},
	)
}

func stopTorrent(r rpc) {
	add(r, "torrent.stop", "stop downloading torrent",
		func(ctx context.Context, req *TorrentReq, res *OkRes) error {
			ih, err := req.hash()
			if err != nil {
				return err
			}

			if err := r.c.StopTorrent(ih); err != nil {
				return notFound(err)
			}

			res.Ok = true
			return nil
		},
	)
}

type RemoveTorrentReq struct {
	InfoHash   string `json:"info_hash" validate:"required" description:"hex encoded info hash"`
	DeleteData bool   `json:"delete_data" description:"also delete downloaded files"`
}

func removeTorrent(r rpc) {
	add(r, "torrent.remove", "remove torrent",
		func(ctx context.Context, req *RemoveTorrentReq, res *OkRes) error {
			ih, err := TorrentReq{InfoHash: req.InfoHash}.hash()
			if err != nil {
				return err
			}

			if err := r.c.RemoveTorrent(ih, req.DeleteData); err != nil {
				return notFound(err)
			}

			res.Ok = true
			return nil
		},
	)
}
