package infra

import "story-gateway/internal/janitor"

// Clock permite controlar o tempo nos testes.
type Clock = janitor.Clock

// DoneContext é o mínimo necessário para aceitar context.Context nos janitors.
type DoneContext = janitor.DoneContext
