package locator

import "sync"

// AddressBook remembers addresses found while probing so the scan does not
// look them up twice.
type AddressBook struct {
	mu    sync.RWMutex
	addrs map[int64]string
}

func NewAddressBook() *AddressBook {
	return &AddressBook{addrs: make(map[int64]string)}
}

func (b *AddressBook) Get(id int64) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.addrs[id]
	return addr, ok
}

func (b *AddressBook) Put(id int64, addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs[id] = addr
}

func (b *AddressBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addrs)
}
