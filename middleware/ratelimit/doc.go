// Package ratelimit fornece guardas HTTP (net/http) para o servidor inteiro:
// token bucket por cliente (rajadas) e limite de concorrência.
//
// Não confundir com o governor de janela fixa da rota /story (story/infra):
// aqui o objetivo é proteger o processo, não a cota do upstream.
//
// Fluxo:
//
//  1. Extrai a chave do cliente (header/XFF/RemoteAddr)
//  2. Consulta o limiter da chave (golang.org/x/time/rate)
//  3. Se bloqueado, chama OnReject (padrão: 429 texto) com Retry-After
//     igual ao tempo até o próximo token
//  4. Se permitido, chama o próximo handler
//
// Variáveis de ambiente do binário (cmd/gateway) controlam o comportamento,
// como BURST_RPS, BURST_SIZE, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
