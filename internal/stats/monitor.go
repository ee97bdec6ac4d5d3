// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stats emite métricas periódicas do engine no log estruturado.
package stats

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats holds collected system metrics.
type SystemStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
}

// CollectSystemStats tira uma amostra instantânea do sistema.
// Falhas de coleta deixam o campo correspondente em zero — as métricas
// são diagnósticas, nunca bloqueiam o reporter.
func CollectSystemStats() SystemStats {
	var s SystemStats

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		s.LoadAverage = avg.Load1
	}
	return s
}

// Uptime mede o tempo desde start com o relógio monotônico.
func Uptime(start time.Time) float64 {
	return time.Since(start).Seconds()
}
