package frame

// markerTable maps each swapchain image to the fence of the slot that last
// submitted work against it. A nil entry means the image is free.
type markerTable struct {
	owners []Fence
}

// reset empties the table and sizes it for a swapchain of n images.
func (m *markerTable) reset(n int) {
	m.owners = make([]Fence, n)
}

func (m *markerTable) len() int {
	return len(m.owners)
}

func (m *markerTable) owner(image int) Fence {
	return m.owners[image]
}

// claim records fence as the current writer of image and returns the
// previous owner.
func (m *markerTable) claim(image int, fence Fence) Fence {
	prev := m.owners[image]
	m.owners[image] = fence
	return prev
}
