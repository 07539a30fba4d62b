package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetValid(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   bool
	}{
		{name: "room only", target: Target{RoomID: 1}, want: true},
		{name: "chat only", target: Target{DirectChatID: 2}, want: true},
		{name: "neither", target: Target{}, want: false},
		{name: "both", target: Target{RoomID: 1, DirectChatID: 2}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.target.Valid())
		})
	}
}

func TestDirectChatOther(t *testing.T) {
	dc := &DirectChat{ID: 500, User1ID: 7, User2ID: 8}
	assert.Equal(t, int64(8), dc.Other(7))
	assert.Equal(t, int64(7), dc.Other(8))
	assert.Zero(t, dc.Other(9), "non-participant")
}
