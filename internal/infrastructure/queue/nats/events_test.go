package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no servers", err: fmt.Errorf("nats publish: %w", nats.ErrNoServers), want: true},
		{name: "reconnecting", err: nats.ErrConnectionReconnecting, want: true},
		{name: "timeout", err: nats.ErrTimeout, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "bad subject", err: nats.ErrBadSubject, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err).Retry)
		})
	}
	assert.False(t, classify(context.Canceled).Trip)
	assert.True(t, classify(errors.New("boom")).Trip)
}
