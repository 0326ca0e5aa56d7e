package core

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"hermod/internal/meta"
)

func (c *Client) Shutdown() {
	log.Info().Msg("core shutting down...")

	c.m.Lock()
	for _, d := range c.downloads {
		d.closeWebSeeds()
	}
	c.m.Unlock()

	if r := c.saveSession(); r != nil {
		log.Error().Err(r.AsError()).Msg("panic while saving session")
	}

	c.cancel()
	c.cache.Close()
	c.http.Close()
}

type resumeFile struct {
	path string
	data []byte
}

func (c *Client) saveSession() *panics.Recovered {
	var files []resumeFile

	c.m.Lock()
	for _, d := range c.downloads {
		b, err := d.MarshalBinary()
		if err != nil {
			d.log.Err(err).Msg("failed to save download")
			continue
		}

		files = append(files, resumeFile{path: c.resumePath(d.info.Hash), data: b})
	}
	c.m.Unlock()

	var w = conc.NewWaitGroup()

	for _, f := range files {
		w.Go(func() {
			err := os.MkdirAll(filepath.Dir(f.path), os.ModePerm)
			if err != nil {
				log.Err(err).Msg("failed to save download")
				return
			}

			err = os.WriteFile(f.path, f.data, os.ModePerm)
			if err != nil {
				log.Err(err).Msg("failed to save download")
			}
		})
	}

	return w.WaitAndRecover()
}

func (c *Client) removeResume(h meta.Hash) {
	if err := os.Remove(c.resumePath(h)); err != nil && !os.IsNotExist(err) {
		log.Err(err).Stringer("info_hash", h).Msg("failed to remove resume file")
	}
}
