package shared

import (
	"net"
	"slices"
	"strconv"
	"sync"
)

// PeerAddress is where a peer's transfer server listens.
type PeerAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ClientIdentity is what this instance registers with the directory. The
// port is 0 until the transfer server has bound.
type ClientIdentity struct {
	Name string `json:"name"`

	mu      sync.RWMutex
	catalog []string
	port    int
}

func NewClientIdentity(name string, catalog []string) *ClientIdentity {
	return &ClientIdentity{
		Name:    name,
		catalog: slices.Clone(catalog),
	}
}

func (id *ClientIdentity) Catalog() []string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return slices.Clone(id.catalog)
}

func (id *ClientIdentity) SetCatalog(items []string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.catalog = slices.Clone(items)
}

func (id *ClientIdentity) Port() int {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.port
}

func (id *ClientIdentity) SetPort(port int) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.port = port
}
