package ongoingai

import (
	"strings"
	"sync"
)

// ModelCost holds per-token USD rates for a model.
type ModelCost struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// builtinCosts is the read-only shipped cost table, in USD per token.
// Rates reflect published list prices; overrides take precedence.
var builtinCosts = map[string]ModelCost{
	"gpt-4o":                 {Input: 2.5e-6, Output: 10e-6},
	"gpt-4o-mini":            {Input: 0.15e-6, Output: 0.6e-6},
	"gpt-4.1":                {Input: 2e-6, Output: 8e-6},
	"gpt-4.1-mini":           {Input: 0.4e-6, Output: 1.6e-6},
	"gpt-4.1-nano":           {Input: 0.1e-6, Output: 0.4e-6},
	"gpt-4-turbo":            {Input: 10e-6, Output: 30e-6},
	"gpt-3.5-turbo":          {Input: 0.5e-6, Output: 1.5e-6},
	"o1":                     {Input: 15e-6, Output: 60e-6},
	"o1-mini":                {Input: 1.1e-6, Output: 4.4e-6},
	"o3-mini":                {Input: 1.1e-6, Output: 4.4e-6},
	"text-embedding-3-small": {Input: 0.02e-6, Output: 0},
	"text-embedding-3-large": {Input: 0.13e-6, Output: 0},
	"text-embedding-ada-002": {Input: 0.1e-6, Output: 0},

	"claude-opus-4-0":            {Input: 15e-6, Output: 75e-6},
	"claude-sonnet-4-0":          {Input: 3e-6, Output: 15e-6},
	"claude-3-7-sonnet-latest":   {Input: 3e-6, Output: 15e-6},
	"claude-3-5-sonnet-latest":   {Input: 3e-6, Output: 15e-6},
	"claude-3-5-haiku-latest":    {Input: 0.8e-6, Output: 4e-6},
	"claude-3-opus-latest":       {Input: 15e-6, Output: 75e-6},
	"claude-3-haiku-20240307":    {Input: 0.25e-6, Output: 1.25e-6},
	"claude-3-5-sonnet-20241022": {Input: 3e-6, Output: 15e-6},
	"claude-3-5-haiku-20241022":  {Input: 0.8e-6, Output: 4e-6},
}

// costTable resolves model rates with per-client overrides layered over
// the built-in table. Overrides never mutate the built-ins.
type costTable struct {
	mu        sync.RWMutex
	overrides map[string]ModelCost
}

func newCostTable(overrides map[string]ModelCost) *costTable {
	table := &costTable{overrides: make(map[string]ModelCost, len(overrides))}
	for model, cost := range overrides {
		table.overrides[strings.TrimSpace(model)] = cost
	}
	return table
}

// Set installs or replaces an override for model.
func (t *costTable) Set(model string, cost ModelCost) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	t.mu.Lock()
	t.overrides[model] = cost
	t.mu.Unlock()
}

// Rates returns the effective rates for model and whether it is known.
func (t *costTable) Rates(model string) (ModelCost, bool) {
	model = strings.TrimSpace(model)

	t.mu.RLock()
	cost, ok := t.overrides[model]
	t.mu.RUnlock()
	if ok {
		return cost, true
	}

	cost, ok = builtinCosts[model]
	return cost, ok
}

// Cost computes the USD cost of a call. Unknown models cost zero; token
// accounting still flows through unchanged.
func (t *costTable) Cost(model string, inputTokens, outputTokens int) float64 {
	rates, ok := t.Rates(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)*rates.Input + float64(outputTokens)*rates.Output
}
