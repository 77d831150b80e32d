package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunOptionsWithDefaults(t *testing.T) {
	tests := []struct {
		name      string
		in        RunOptions
		wantBatch int
		wantDelay time.Duration
	}{
		{"zero value", RunOptions{}, DefaultBatchSize, DefaultInterBatchDelay},
		{"explicit values", RunOptions{BatchSize: 2, InterBatchDelay: time.Second}, 2, time.Second},
		{"no delay", RunOptions{BatchSize: 1, InterBatchDelay: NoInterBatchDelay}, 1, 0},
		{"negative batch", RunOptions{BatchSize: -3, InterBatchDelay: -time.Minute}, DefaultBatchSize, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.WithDefaults()
			assert.Equal(t, tt.wantBatch, got.BatchSize)
			assert.Equal(t, tt.wantDelay, got.InterBatchDelay)
		})
	}
}
