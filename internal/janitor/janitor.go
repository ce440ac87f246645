// Package janitor agenda limpezas periódicas (caches, janelas, buckets)
// atreladas ao ciclo de vida de um contexto.
package janitor

import "time"

// Clock permite controlar o tempo nos testes.
type Clock func() time.Time

// DoneContext é o mínimo necessário para aceitar context.Context.
type DoneContext interface {
	Done() <-chan struct{}
}

// Start roda fn a cada `every` até ctx encerrar. every <= 0 desliga.
func Start(ctx DoneContext, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
