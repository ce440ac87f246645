// Package domain define os tipos e contratos do gateway de histórias:
// fingerprint de requisição, faixas de tamanho (Tier), entradas de cache,
// janelas de rate limit e a taxonomia de erros.
//
// Não depende de net/http nem de implementações concretas (cache em memória,
// Redis, Gemini...). Essas ficam em story/infra.
package domain
