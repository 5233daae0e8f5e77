package pfs3

// blockCache keeps recently read reserved blocks in a fixed arena. Slots
// are addressed by index; lru orders slot indices from most to least
// recently used, and index maps a block number to its slot.
type blockCache struct {
	slots []cacheSlot
	index map[uint32]int
	lru   []int
}

type cacheSlot struct {
	block uint32
	data  []byte
}

func newBlockCache(capacity int) *blockCache {
	if capacity < 1 {
		capacity = 1
	}
	return &blockCache{
		slots: make([]cacheSlot, 0, capacity),
		index: make(map[uint32]int, capacity),
		lru:   make([]int, 0, capacity),
	}
}

func (c *blockCache) touch(slot int) {
	for i, s := range c.lru {
		if s == slot {
			copy(c.lru[1:i+1], c.lru[:i])
			c.lru[0] = slot
			return
		}
	}
	c.lru = append(c.lru, 0)
	copy(c.lru[1:], c.lru)
	c.lru[0] = slot
}

func (c *blockCache) get(block uint32) ([]byte, bool) {
	slot, ok := c.index[block]
	if !ok {
		return nil, false
	}
	c.touch(slot)
	return c.slots[slot].data, true
}

// put stores data for block, evicting the least recently used slot when
// the arena is full.
func (c *blockCache) put(block uint32, data []byte) {
	if slot, ok := c.index[block]; ok {
		c.slots[slot].data = data
		c.touch(slot)
		return
	}
	var slot int
	if len(c.slots) < cap(c.slots) {
		slot = len(c.slots)
		c.slots = append(c.slots, cacheSlot{})
	} else {
		slot = c.lru[len(c.lru)-1]
		c.lru = c.lru[:len(c.lru)-1]
		delete(c.index, c.slots[slot].block)
	}
	c.slots[slot] = cacheSlot{block: block, data: data}
	c.index[block] = slot
	c.touch(slot)
}

func (c *blockCache) len() int { return len(c.index) }
