package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// ===== ACCESS POINT RESOLUTION =====

// APList holds candidate access point addresses in preference order.
type APList struct {
	mu    sync.Mutex
	addrs []string
}

// NewAPList builds a list from host:port addresses.
func NewAPList(addrs ...string) *APList {
	l := &APList{}
	l.addrs = append(l.addrs, addrs...)
	return l
}

// Add appends an address unless it is already present.
func (l *APList) Add(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.addrs {
		if existing == addr {
			return
		}
	}
	l.addrs = append(l.addrs, addr)
}

// Addresses returns a copy of the current list.
func (l *APList) Addresses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.addrs))
	copy(out, l.addrs)
	return out
}

// Dial tries each address in order and returns the first connection that
// succeeds, along with the address that accepted.
func (l *APList) Dial(timeout time.Duration) (net.Conn, string, error) {
	addrs := l.Addresses()
	if len(addrs) == 0 {
		return nil, "", fmt.Errorf("no access points configured")
	}

	var lastErr error
	for _, addr := range addrs {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			log.Printf("Access point %s unreachable: %v", addr, err)
			lastErr = err
			continue
		}
		return conn, addr, nil
	}
	return nil, "", fmt.Errorf("all access points unreachable: %w", lastErr)
}

// resolverReply is the JSON body served by the resolver endpoint.
type resolverReply struct {
	APList []string `json:"ap_list"`
}

// ResolveAPs fetches the current access point list from the resolver
// endpoint, falling back to fallback when the resolver is unreachable or
// returns an empty list.
func ResolveAPs(resolverURL string, fallback []string) *APList {
	list := NewAPList()

	if resolverURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(resolverURL)
		if err != nil {
			log.Printf("Resolver unreachable, using fallback list: %v", err)
		} else {
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err == nil && resp.StatusCode == http.StatusOK {
				var reply resolverReply
				if err := json.Unmarshal(body, &reply); err != nil {
					log.Printf("Malformed resolver reply: %v", err)
				} else {
					for _, addr := range reply.APList {
						list.Add(addr)
					}
				}
			} else {
				log.Printf("Resolver returned status %d", resp.StatusCode)
			}
		}
	}

	for _, addr := range fallback {
		list.Add(addr)
	}
	return list
}
