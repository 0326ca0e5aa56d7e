package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/rs/zerolog/log"
	"github.com/trim21/errgo"

	"hermod/internal/meta"
)

func (c *Client) Start() error {
	if err := c.loadSession(); err != nil {
		return err
	}

	if log.Debug().Enabled() {
		go func() {
			for {
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(time.Second * 5):
				}

				fmt.Printf("\n\ngoroutine count %v\n", runtime.NumGoroutine())
				fmt.Print(c.Display())
			}
		}()
	}

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Minute * 10):
			}

			log.Info().Msg("save session")
			if r := c.saveSession(); r != nil {
				log.Error().Err(r.AsError()).Msg("panic while saving session")
			}
		}
	}()

	return nil
}

// Display renders every download as a text table.
func (c *Client) Display() string {
	c.m.Lock()
	defer c.m.Unlock()

	var sb strings.Builder

	_, _ = fmt.Fprintf(&sb, " %10s | %20s%-20s | percent |    total |     left |      speed     |   ETA | webseeds\n", "state", "", "info hash")
	for _, d := range c.downloads {
		sb.WriteString(d.Display())
		sb.WriteByte('\n')
	}

	return sb.String()
}

func (c *Client) resumeDir() string {
	return filepath.Join(c.sessionPath, "resume")
}

func (c *Client) resumePath(h meta.Hash) string {
	name := fmt.Sprintf("%x.resume", h)
	return filepath.Join(c.resumeDir(), name[0:2], name)
}

func (c *Client) loadSession() error {
	files, err := filepath.Glob(filepath.Join(c.resumeDir(), "*", "*.resume"))
	if err != nil {
		return errgo.Wrap(err, "failed to list resume files")
	}

	for _, file := range files {
		if err := c.loadResume(file); err != nil {
			log.Err(err).Str("file", file).Msg("failed to load resume file")
		}
	}

	return nil
}

func (c *Client) loadResume(file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	r, err := parseResume(raw)
	if err != nil {
		return errgo.Wrap(err, "failed to decode resume")
	}

	m, err := metainfo.Load(bytes.NewReader(r.Torrent))
	if err != nil {
		return errgo.Wrap(err, "failed to parse torrent in resume")
	}

	info, err := meta.FromTorrent(*m)
	if err != nil {
		return err
	}

	return c.AddTorrent(m, info, r.BasePath, AddOption{WebSeeds: r.WebSeeds, resume: r})
}
