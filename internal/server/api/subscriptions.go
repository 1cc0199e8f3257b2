package api

import (
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/server/subscriptions"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WithSubscriptions enables change events and the /api/subscriptions
// routes. The caller owns the manager's Start and Stop.
func WithSubscriptions(m *subscriptions.Manager) Option {
	return func(s *Server) { s.subs = m }
}

func (s *Server) subscriptionRoutes(r chi.Router) {
	r.Get("/", s.ListSubscriptions)
	r.Post("/", s.CreateSubscription)
	r.Get("/{id}", s.GetSubscription)
	r.Patch("/{id}", s.UpdateSubscription)
	r.Delete("/{id}", s.DeleteSubscription)
	r.Get("/{id}/ws", s.SubscriptionSocket)
}

// emit reports a change when subscriptions are enabled.
func (s *Server) emit(eventType string, rec element.Record) {
	if s.subs == nil {
		return
	}
	s.subs.Emit(subscriptions.Event{
		Type:       eventType,
		ElementID:  rec.ID,
		TypeTag:    rec.TypeTag,
		Attributes: maps.Clone(rec.Attributes),
	})
}

// CreateSubscription handles POST /api/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	sub, err := s.subs.Register(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("subscription created", "id", sub.ID, "name", sub.Name,
		"request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := s.subs.List()
	out := make([]*subscriptions.Subscription, len(subs))
	for i := range subs {
		out[i] = &subs[i]
	}
	writeJSON(w, http.StatusOK, subscriptions.ListResponse{Subscriptions: out, Count: len(out)})
}

// GetSubscription handles GET /api/subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	sub, err := s.subs.Update(chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.subs.Unregister(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("subscription deleted", "id", id,
		"request_id", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// SubscriptionSocket handles GET /api/subscriptions/{id}/ws. Notifications
// are pushed until the client disconnects; client messages are ignored.
func (s *Server) SubscriptionSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.subs.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !sub.WebSocket {
		s.writeError(w, r, element.Invalid("subscription does not deliver over websocket",
			map[string]string{"websocket": "must be true"}))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Warn("websocket upgrade failed", "subscription", id, "error", err)
		return
	}
	if err := s.subs.RegisterWSClient(id, conn); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}
	defer s.subs.UnregisterWSClient(id, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
