package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrollAnchor(t *testing.T) {
	t.Run("bottom latch is one-shot", func(t *testing.T) {
		var a ScrollAnchor
		a.RequestBottom()

		assert.True(t, a.ConsumeBottom(), "expected latch set")
		assert.False(t, a.ConsumeBottom(), "expected latch consumed")
	})

	t.Run("adjustment is the height delta, one-shot", func(t *testing.T) {
		var a ScrollAnchor
		a.RequestPreserve(200)

		delta, ok := a.Adjustment(350)
		assert.True(t, ok, "expected pending preserve")
		assert.Equal(t, 150, delta, "expected delta of newly prepended content")

		_, ok = a.Adjustment(350)
		assert.False(t, ok, "expected preserve consumed")
	})

	t.Run("no adjustment without a preserve request", func(t *testing.T) {
		var a ScrollAnchor
		_, ok := a.Adjustment(100)
		assert.False(t, ok, "expected nothing pending")
	})

	t.Run("reset clears everything", func(t *testing.T) {
		var a ScrollAnchor
		a.RequestBottom()
		a.RequestPreserve(10)
		a.Reset()

		assert.False(t, a.ConsumeBottom(), "expected bottom latch cleared")
		_, ok := a.Adjustment(20)
		assert.False(t, ok, "expected preserve cleared")
	})
}
