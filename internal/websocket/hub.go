package websocket

import (
	"encoding/json"
	"sync"
)

const (
	WalletMain      = "main"
	WalletCategory  = "category"
	WalletAffiliate = "affiliate"
)

// BalanceUpdate is pushed to a user's sockets after a committed balance change.
type BalanceUpdate struct {
	Wallet   string `json:"wallet"`
	Category string `json:"category,omitempty"`
	Balance  string `json:"balance"`
	Locked   string `json:"locked,omitempty"`
	Currency string `json:"currency"`
	Reason   string `json:"reason,omitempty"`
}

// Hub fans balance updates out to every socket a user has open. Slow clients
// miss updates instead of blocking the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
