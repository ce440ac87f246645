package domain

import (
	"context"
	"encoding/json"
)

// Generator faz uma única chamada ao serviço de geração de texto.
// Não há retry: a falha volta direto para quem chamou.
type Generator interface {
	Generate(ctx context.Context, topic string, tier Tier, apiKey string) (json.RawMessage, error)
}
