package domain

import (
	"context"
	"time"
)

// GlobalScope é o escopo único usado quando o limite não é por chamador.
const GlobalScope = "global"

const (
	DefaultRateLimit  = 25
	DefaultRateWindow = time.Hour
)

// RateWindow é o estado de uma janela fixa para um escopo.
//
// Count conta as admissões e nunca passa de Limit. Rejected conta as
// tentativas recusadas na mesma janela: toda chamada é contada uma vez,
// em um dos dois contadores.
type RateWindow struct {
	Scope    string
	Start    time.Time
	Count    int
	Rejected int
	Limit    int
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter é zero quando permitido.
	RetryAfter time.Duration
}

// Governor decide admissão por escopo. Admit deve ser atômico por escopo.
type Governor interface {
	Admit(ctx context.Context, scope string) Decision
}
