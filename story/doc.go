// Package story é o adapter HTTP do gateway de histórias.
//
// Visão geral (camadas):
//
//   - domain: tipos, contratos e erros (sem net/http)
//   - application: orquestrador (governor -> cache -> upstream)
//   - infra: cache em shards, janela fixa, cliente Gemini, estatísticas, métricas
//   - story (este pacote): rotas, tradução de erros para status/JSON, request id e log
//
// Rotas:
//
//	GET /health   status do processo
//	GET /story    ?word=<tópico>&apiKey=<opcional>&wordCount=200|500|1000
//	GET /metrics  exposição Prometheus (quando habilitada)
//
// Qualquer outra rota responde 404 {"error":"Endpoint not found"}.
package story
