package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
	"github.com/drblury/fluxbridge/internal/runtime/pipeline"
	transportpkg "github.com/drblury/fluxbridge/transport"
)

// DefaultStatusPort serves the status API when status_port is not set.
const DefaultStatusPort = 8081

// StatusResponse is served on /api/status.
type StatusResponse struct {
	Source       string                    `json:"source"`
	Topic        string                    `json:"topic"`
	Sink         string                    `json:"sink"`
	Capabilities transportpkg.Capabilities `json:"capabilities"`
	Halted       bool                      `json:"halted"`
	HaltError    string                    `json:"halt_error,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	Uptime       string                    `json:"uptime"`
	Policy       map[string]string         `json:"policy"`
	Payloads     PayloadStats              `json:"payloads"`
	Resource     ResourceUsage             `json:"resource"`
}

// RuleStatus is one entry of /api/rules.
type RuleStatus struct {
	Name       string                `json:"name"`
	Path       string                `json:"path"`
	Expression string                `json:"expression,omitempty"`
	Tags       map[string]string     `json:"tags,omitempty"`
	Stats      *pipeline.RuleMetrics `json:"stats"`
}

// StartStatusServer mounts the status API when it is enabled.
func (s *Service) StartStatusServer() {
	if !s.Conf.StatusEnabled {
		return
	}

	port := s.Conf.StatusPort
	if port == 0 {
		port = DefaultStatusPort
	}

	s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
	s.RegisterHTTPHandler(port, "/api/rules", http.HandlerFunc(s.handleGetRules))
}

// Status returns the current bridge status.
func (s *Service) Status() StatusResponse {
	status := StatusResponse{
		Source:       s.Conf.GetSource(),
		Topic:        s.Conf.GetTopic(),
		Sink:         s.Conf.GetSinkName(),
		Capabilities: s.capabilities(),
		Halted:       s.pipeline.Halted(),
		StartedAt:    s.startedAt,
		Policy:       s.pipeline.Policy().Snapshot(),
		Payloads:     s.stats.Snapshot(),
		Resource:     s.stats.Resources(),
	}
	if err := s.pipeline.HaltErr(); err != nil {
		status.HaltError = err.Error()
	}
	if !s.startedAt.IsZero() {
		status.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	return status
}

// Rules returns every rule in configuration order with its statistics.
func (s *Service) Rules() []RuleStatus {
	rules := s.pipeline.Rules().Rules()
	out := make([]RuleStatus, 0, len(rules))
	for _, r := range rules {
		stats := s.metrics.Rule(r.Name)
		if stats == nil {
			stats = &pipeline.RuleMetrics{}
		}
		out = append(out, RuleStatus{
			Name:       r.Name,
			Path:       r.Path.String(),
			Expression: r.Expression,
			Tags:       r.Tags,
			Stats:      stats,
		})
	}
	return out
}

func (s *Service) capabilities() transportpkg.Capabilities {
	if provider, ok := s.subscriber.(transportpkg.CapabilitiesProvider); ok {
		return provider.Capabilities()
	}
	return transportpkg.GetCapabilities(s.Conf.GetSource())
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, func() any { return s.Status() })
}

func (s *Service) handleGetRules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, func() any { return s.Rules() })
}

func (s *Service) writeJSON(w http.ResponseWriter, r *http.Request, body func() any) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		if allowedOrigin := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := jsoncodec.Marshal(body())
	if err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
