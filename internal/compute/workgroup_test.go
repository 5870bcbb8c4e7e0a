package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkGroupSize(t *testing.T) {
	tests := []struct {
		name string
		info WorkGroupInfo
		want int
	}{
		{"multiple divides max", WorkGroupInfo{MaxSize: 1024, PreferredMultiple: 32}, 1024},
		{"multiple does not divide max", WorkGroupInfo{MaxSize: 1000, PreferredMultiple: 64}, 960},
		{"wavefront of 64 on 256", WorkGroupInfo{MaxSize: 256, PreferredMultiple: 64}, 256},
		{"no multiple reported", WorkGroupInfo{MaxSize: 512}, 512},
		{"multiple larger than max", WorkGroupInfo{MaxSize: 16, PreferredMultiple: 32}, 16},
		{"no limits reported", WorkGroupInfo{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WorkGroupSize(tt.info)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got, max(tt.info.MaxSize, 1))
		})
	}
}

func TestGlobalSize(t *testing.T) {
	assert.Equal(t, 1024, GlobalSize(1000, 256))
	assert.Equal(t, 1024, GlobalSize(1024, 256))
	assert.Equal(t, 64, GlobalSize(1, 64))
	assert.Equal(t, 0, GlobalSize(0, 64))
	assert.Equal(t, 77, GlobalSize(77, 0))

	for n := 1; n < 300; n += 7 {
		g := GlobalSize(n, 64)
		assert.Zero(t, g%64)
		assert.GreaterOrEqual(t, g, n)
		assert.Less(t, g-n, 64)
	}
}
