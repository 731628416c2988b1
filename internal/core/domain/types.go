package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServiceName identifies a remote collaborator.
type ServiceName string

const (
	ServicePDFExtraction ServiceName = "pdf_extraction"
	ServiceSentiment     ServiceName = "sentiment"
	ServiceChatbot       ServiceName = "chatbot"
	ServiceRAGScraper    ServiceName = "rag_scraper"
	ServiceVectorDB      ServiceName = "vector_db"
)

// HealthStatus represents the reachability of a collaborator
type HealthStatus string

const (
	HealthStatusHealthy     HealthStatus = "healthy"
	HealthStatusUnhealthy   HealthStatus = "unhealthy"
	HealthStatusUnreachable HealthStatus = "unreachable"
)

// ServiceHealth is the result of probing one collaborator.
type ServiceHealth struct {
	Service   ServiceName  `json:"service"`
	Status    HealthStatus `json:"status"`
	Latency   string       `json:"latency,omitempty"`
	Error     string       `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// ServiceRegistry maps collaborator names to base URLs. It is built once at
// startup and read-only afterwards.
type ServiceRegistry struct {
	urls map[ServiceName]string
}

func NewServiceRegistry(urls map[ServiceName]string) (*ServiceRegistry, error) {
	r := &ServiceRegistry{urls: make(map[ServiceName]string, len(urls))}
	for name, u := range urls {
		if name == "" {
			return nil, &ConfigurationError{Msg: "empty service name"}
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, &ConfigurationError{Service: name, Msg: fmt.Sprintf("invalid base url %q", u)}
		}
		r.urls[name] = strings.TrimRight(u, "/")
	}
	return r, nil
}

// BaseURL returns the base URL for name or a ConfigurationError.
func (r *ServiceRegistry) BaseURL(name ServiceName) (string, error) {
	u, ok := r.urls[name]
	if !ok {
		return "", &ConfigurationError{Service: name, Msg: "unknown service"}
	}
	return u, nil
}

// Names returns the registered service names in sorted order.
func (r *ServiceRegistry) Names() []ServiceName {
	out := make([]ServiceName, 0, len(r.urls))
	for n := range r.urls {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultServiceURLs matches the local development layout.
func DefaultServiceURLs() map[ServiceName]string {
	return map[ServiceName]string{
		ServicePDFExtraction: "http://localhost:8001",
		ServiceSentiment:     "http://localhost:8002",
		ServiceChatbot:       "http://localhost:8003",
		ServiceRAGScraper:    "http://localhost:8004",
		ServiceVectorDB:      "http://localhost:8005",
	}
}
