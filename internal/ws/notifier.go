package ws

import (
	"fmt"

	socketio "github.com/googollee/go-socket.io"

	"domainpilot/internal/model"
)

// Publisher broadcasts domain lifecycle transitions to the owning store's
// room. It implements the lifecycle notifier interface.
type Publisher struct {
	server *socketio.Server
}

// NewPublisher creates a Publisher on the given Socket.IO server
func NewPublisher(server *socketio.Server) *Publisher {
	return &Publisher{server: server}
}

// DomainStatusChanged pushes a domain:status event to the store's dashboard
func (p *Publisher) DomainStatusChanged(domain *model.Domain) {
	if p.server == nil {
		return
	}

	payload := map[string]interface{}{
		"domain_id":    domain.PublicID,
		"hostname":     domain.Hostname,
		"status":       domain.Status,
		"dns_verified": domain.DNSVerified,
		"ssl_active":   domain.SSLActive,
	}
	if domain.LastError != nil {
		payload["last_error"] = *domain.LastError
	}

	p.server.BroadcastToRoom("/", storeRoom(domain.StoreID), "domain:status", payload)
}

func storeRoom(storeID int) string {
	return fmt.Sprintf("store:%d", storeID)
}
