package domain

import (
	"encoding/json"
	"strings"
)

// Tier é a faixa de tamanho pedida pelo cliente (parâmetro wordCount).
type Tier int

const (
	Short Tier = iota
	Medium
	Long
)

// ParseTier converte o wordCount recebido ("200", "500", "1000") em Tier.
// Valores vazios ou desconhecidos caem em Short.
func ParseTier(s string) Tier {
	switch strings.TrimSpace(s) {
	case "500":
		return Medium
	case "1000":
		return Long
	default:
		return Short
	}
}

// WordCount devolve a forma textual usada na resposta e no fingerprint.
func (t Tier) WordCount() string {
	switch t {
	case Medium:
		return "500"
	case Long:
		return "1000"
	default:
		return "200"
	}
}

// MaxOutputTokens é o orçamento de saída enviado ao upstream.
func (t Tier) MaxOutputTokens() int {
	switch t {
	case Medium:
		return 750
	case Long:
		return 1500
	default:
		return 350
	}
}

func (t Tier) String() string {
	switch t {
	case Medium:
		return "medium"
	case Long:
		return "long"
	default:
		return "short"
	}
}

// Fingerprint endereça uma resposta no cache.
// Duas requisições com o mesmo fingerprint pedem exatamente a mesma saída.
type Fingerprint string

// NormalizeTopic deixa o tópico em minúsculas e sem espaços nas pontas.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// NewFingerprint monta "<topico normalizado>:<wordCount>", ex.: "dragon:200".
func NewFingerprint(topic string, tier Tier) Fingerprint {
	return Fingerprint(NormalizeTopic(topic) + ":" + tier.WordCount())
}

// KeySource indica de onde veio a API key usada no upstream.
type KeySource string

const (
	KeySourceUser    KeySource = "user"
	KeySourceDefault KeySource = "default"
)

// ResolveKey aplica a precedência: chave do cliente > chave padrão do processo.
func ResolveKey(userKey, defaultKey string) (string, KeySource) {
	if k := strings.TrimSpace(userKey); k != "" {
		return k, KeySourceUser
	}
	return defaultKey, KeySourceDefault
}

// GenerationRequest é construída a cada chamada de entrada.
type GenerationRequest struct {
	Topic  string
	Tier   Tier
	APIKey string

	// CallerKey identifica o cliente quando o rate limit é por chamador.
	// Vazio significa escopo global.
	CallerKey string
}

// GenerationResult é o que o orquestrador devolve para a camada HTTP.
//
// Payload é sempre um objeto JSON com o formato definido pelo cliente upstream.
type GenerationResult struct {
	Payload         json.RawMessage
	KeySource       KeySource
	Tier            Tier
	ServedFromCache bool
}
