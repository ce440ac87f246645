// Package infra contém implementações concretas para os contratos do pacote domain.
//
// Exemplos:
//   - CacheStore: mapa em shards (xxhash) com TTL e expiração preguiçosa
//   - WindowGovernor: janela fixa por escopo
//   - GeminiClient: cliente HTTP do generateContent
//   - Memory/Redis/SQLite StatsStore: estatísticas de admissão
//   - OtelMetrics: instrumentos OpenTelemetry
package infra
