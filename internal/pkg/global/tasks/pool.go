package tasks

import (
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var pool = lo.Must(ants.NewPool(20, ants.WithPreAlloc(true), ants.WithPanicHandler(func(v any) {
	log.Error().Any("panic", v).Msg("panic in background task")
})))

// Submit runs fn on shared background pool, blocking while the pool is full.
func Submit(fn func()) {
	if err := pool.Submit(fn); err != nil {
		log.Err(err).Msg("failed to submit background task")
	}
}
