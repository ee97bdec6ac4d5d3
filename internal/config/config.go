// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML do engine N-Quic.
// Apenas tunables: constantes de wire format nunca são configuráveis.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config representa a configuração completa de um socket N-Quic.
type Config struct {
	Transport TransportInfo `yaml:"transport"`
	Stats     StatsInfo     `yaml:"stats"`
	Logging   LoggingInfo   `yaml:"logging"`
}

// TransportInfo contém os tunables do engine de transporte.
type TransportInfo struct {
	// PacingRate limita a taxa de transmissão em bytes/segundo.
	// 0 desabilita o pacing.
	PacingRate int64 `yaml:"pacing_rate"`

	// DSCP é a classe de serviço aplicada ao socket UDP (ex: "AF41",
	// "EF"). Vazio desabilita a marcação.
	DSCP string `yaml:"dscp"`

	// ReorderingThreshold é o gap mínimo entre um packet number e o
	// maior confirmado para declarar perda. Default: 3 (RFC 9002).
	ReorderingThreshold uint32 `yaml:"reordering_threshold"`
}

// StatsInfo contém a configuração do reporter periódico de métricas.
type StatsInfo struct {
	Enabled bool `yaml:"enabled"`
	// Schedule é uma expressão cron do reporter (ex: "@every 5m").
	Schedule string `yaml:"schedule"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`

	// SessionDir, quando não vazio, grava um arquivo de log DEBUG por
	// conexão em {session_dir}/{session_id}.log.
	SessionDir string `yaml:"session_dir"`
}

// Default retorna a configuração padrão para embedders que não usam YAML.
func Default() *Config {
	return &Config{
		Transport: TransportInfo{
			ReorderingThreshold: 3,
		},
		Stats: StatsInfo{
			Schedule: "@every 5m",
		},
		Logging: LoggingInfo{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load lê e valida o arquivo YAML de configuração.
// Campos omitidos assumem os defaults de Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate verifica a consistência da configuração e aplica o default
// de reordering_threshold quando ele está zerado. Os demais campos
// zerados ficam como estão.
func (c *Config) Validate() error {
	if c.Transport.PacingRate < 0 {
		return fmt.Errorf("transport.pacing_rate must be >= 0")
	}
	if c.Transport.ReorderingThreshold == 0 {
		c.Transport.ReorderingThreshold = 3
	}
	if c.Stats.Enabled && c.Stats.Schedule == "" {
		return fmt.Errorf("stats.schedule is required when stats.enabled")
	}
	return nil
}
