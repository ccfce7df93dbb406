// Package oracleutils is the oracle utility package
package oracleutils

import (
	"fmt"

	"github.com/papercomputeco/engram/pkg/oracle"
	"github.com/papercomputeco/engram/pkg/oracle/ollama"
	"github.com/papercomputeco/engram/pkg/oracle/openai"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
}

func NewEmbedder(o *NewEmbedderOpts) (oracle.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}

type NewPerplexityOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
}

func NewPerplexity(o *NewPerplexityOpts) (oracle.Perplexity, error) {
	switch o.ProviderType {
	case "openai":
		return openai.New(openai.Config{
			BaseURL: o.TargetURL,
			Model:   o.Model,
			APIKey:  o.APIKey,
		})
	default:
		return nil, fmt.Errorf("unsupported perplexity provider: %s", o.ProviderType)
	}
}
