// Package application contém o orquestrador de requisições de história:
// valida, consulta o governor, consulta o cache e, em miss, chama o upstream.
//
// Depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Generate(ctx, req) devolve um GenerationResult ou um erro da
// taxonomia de domain (validação, rate limit, upstream).
package application
