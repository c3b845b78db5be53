package knowledge

import (
	"sync/atomic"
)

// Holder publishes the current catalogue. Readers take a snapshot with
// Catalogue and keep using it for the whole turn; reloads swap the pointer.
type Holder struct {
	cur atomic.Pointer[Catalogue]
}

// NewHolder returns a holder serving c.
func NewHolder(c *Catalogue) *Holder {
	h := &Holder{}
	h.cur.Store(c)
	return h
}

// Catalogue returns the current snapshot.
func (h *Holder) Catalogue() *Catalogue {
	return h.cur.Load()
}

// Swap installs c and returns the previous catalogue.
func (h *Holder) Swap(c *Catalogue) *Catalogue {
	return h.cur.Swap(c)
}

// Reload loads path and installs it. On error the current catalogue stays.
func (h *Holder) Reload(path string) (*Catalogue, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	h.Swap(c)
	return c, nil
}
