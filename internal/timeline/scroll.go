package timeline

// ScrollAnchor decides how the viewport moves after a timeline mutation.
// Scroll-to-bottom is a one-shot latch set by the initial load and by live
// arrivals; backward pagination instead records the pre-prepend content
// height so the view can offset by exactly the height the new content
// added. The offset must be applied after the view has laid out the
// inserted content, i.e. on the next render pass, not synchronously.
type ScrollAnchor struct {
	toBottom   bool
	preserve   bool
	prevHeight int
}

// RequestBottom latches scroll-to-bottom. Consumed exactly once.
func (a *ScrollAnchor) RequestBottom() {
	a.toBottom = true
}

// ConsumeBottom reports and clears the scroll-to-bottom latch.
func (a *ScrollAnchor) ConsumeBottom() bool {
	b := a.toBottom
	a.toBottom = false
	return b
}

// RequestPreserve records the content height measured before a prepend.
func (a *ScrollAnchor) RequestPreserve(prevHeight int) {
	a.preserve = true
	a.prevHeight = prevHeight
}

// Adjustment returns the scroll offset delta for a pending preserve
// request given the post-layout content height, clearing the request.
// ok is false when no preserve is pending.
func (a *ScrollAnchor) Adjustment(newHeight int) (delta int, ok bool) {
	if !a.preserve {
		return 0, false
	}
	a.preserve = false
	return newHeight - a.prevHeight, true
}

func (a *ScrollAnchor) Reset() {
	*a = ScrollAnchor{}
}
