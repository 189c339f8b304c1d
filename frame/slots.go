package frame

import (
	"github.com/cockroachdb/errors"
)

// slot is one lane of in-flight state. The command buffer lives as long as
// the orchestrator; the three sync objects are replaced on every rebuild.
type slot struct {
	commandBuffer CommandBuffer

	imageAvailable Semaphore
	renderDone     Semaphore
	inFlight       Fence
}

func (s *slot) createSync(device Device) error {
	var err error
	s.imageAvailable, err = device.CreateSemaphore()
	if err != nil {
		return errors.Wrap(err, "create image-available semaphore")
	}

	s.renderDone, err = device.CreateSemaphore()
	if err != nil {
		return errors.Wrap(err, "create render-done semaphore")
	}

	// Created signaled so the first wait on a fresh slot returns immediately.
	s.inFlight, err = device.CreateFence(true)
	if err != nil {
		return errors.Wrap(err, "create in-flight fence")
	}

	return nil
}

func (s *slot) destroySync() {
	if s.inFlight != nil {
		s.inFlight.Destroy()
		s.inFlight = nil
	}

	if s.renderDone != nil {
		s.renderDone.Destroy()
		s.renderDone = nil
	}

	if s.imageAvailable != nil {
		s.imageAvailable.Destroy()
		s.imageAvailable = nil
	}
}

type slotPool struct {
	slots []slot
}

func newSlotPool(device Device, count int) (*slotPool, error) {
	pool := &slotPool{slots: make([]slot, count)}

	for i := range pool.slots {
		buffer, err := device.AllocateCommandBuffer()
		if err != nil {
			pool.destroy()
			return nil, errors.Wrapf(err, "allocate command buffer for slot %d", i)
		}
		pool.slots[i].commandBuffer = buffer

		err = pool.slots[i].createSync(device)
		if err != nil {
			pool.destroy()
			return nil, errors.Wrapf(err, "slot %d", i)
		}
	}

	return pool, nil
}

func (p *slotPool) len() int {
	return len(p.slots)
}

func (p *slotPool) get(i int) *slot {
	return &p.slots[i]
}

// recreate replaces every slot's sync objects. The device must be idle.
func (p *slotPool) recreate(device Device) error {
	for i := range p.slots {
		p.slots[i].destroySync()
	}

	for i := range p.slots {
		err := p.slots[i].createSync(device)
		if err != nil {
			return errors.Wrapf(err, "recreate slot %d", i)
		}
	}

	return nil
}

func (p *slotPool) destroy() {
	for i := range p.slots {
		p.slots[i].destroySync()

		if p.slots[i].commandBuffer != nil {
			p.slots[i].commandBuffer.Free()
			p.slots[i].commandBuffer = nil
		}
	}
}
