// Package registry tracks live client connections and topic membership.
// It answers "who is subscribed to X" for the dispatcher and "is anyone
// subscribed to X" for the tracking loop.
package registry

import (
	"sync"

	"github.com/transitlk/tracking/internal/pkg/logger"
)

// connection is the registry's view of one open client channel.
type connection struct {
	id      string
	subject string
	topics  map[Topic]struct{}
}

// Registry owns the connection table and the topic index. All operations
// are synchronous in-memory map mutations under one mutex; nothing here
// blocks on I/O.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	topics map[Topic]map[string]struct{}
	log    *logger.Logger
}

// New creates an empty registry.
func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		conns:  make(map[string]*connection),
		topics: make(map[Topic]map[string]struct{}),
		log:    log,
	}
}

// Register creates an entry for a newly connected client. Registering an
// id twice is a no-op beyond a warning; the first registration wins.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		r.log.Warn("connection already registered", "conn", connID)
		return
	}

	r.conns[connID] = &connection{
		id:     connID,
		topics: make(map[Topic]struct{}),
	}
}

// Authenticate binds a subject identity to a connection and subscribes it
// to the subject topic so targeted notifications reach it. Unknown
// connection ids are logged and ignored; the client may have disconnected
// mid-flight.
func (r *Registry) Authenticate(connID, subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		r.log.Warn("authenticate for unknown connection", "conn", connID)
		return
	}

	conn.subject = subjectID
	r.subscribeLocked(conn, SubjectTopic(subjectID))
}

// Subscribe adds the connection to the topic's subscriber set, creating
// the topic entry if absent. Returns false for an unknown connection.
func (r *Registry) Subscribe(connID string, topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		r.log.Warn("subscribe for unknown connection", "conn", connID, "topic", string(topic))
		return false
	}

	r.subscribeLocked(conn, topic)
	return true
}

func (r *Registry) subscribeLocked(conn *connection, topic Topic) {
	set, ok := r.topics[topic]
	if !ok {
		set = make(map[string]struct{})
		r.topics[topic] = set
	}
	set[conn.id] = struct{}{}
	conn.topics[topic] = struct{}{}
}

// Unsubscribe removes the connection from the topic's set and deletes the
// topic entry when the set becomes empty.
func (r *Registry) Unsubscribe(connID string, topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return
	}

	delete(conn.topics, topic)
	r.removeFromTopicLocked(connID, topic)
}

func (r *Registry) removeFromTopicLocked(connID string, topic Topic) {
	set, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.topics, topic)
	}
}

// Disconnect removes the connection from every topic it belonged to and
// deletes its identity mapping. Idempotent: a second call for the same id
// is a no-op.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return
	}

	for topic := range conn.topics {
		r.removeFromTopicLocked(connID, topic)
	}
	delete(r.conns, connID)
}

// HasSubscribers reports whether any connection is subscribed to the topic.
func (r *Registry) HasSubscribers(topic Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.topics[topic]) > 0
}

// SubscribersOf returns the current connection-id set for a topic.
func (r *Registry) SubscribersOf(topic Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.topics[topic]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ConnIDs returns every registered connection id. Used for broadcasts
// that address all clients regardless of subscriptions.
func (r *Registry) ConnIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// SubjectOf returns the authenticated subject bound to a connection.
func (r *Registry) SubjectOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[connID]
	if !exists || conn.subject == "" {
		return "", false
	}
	return conn.subject, true
}

// SubscribedScheduleIDs returns the distinct schedule identifiers with at
// least one direct subscriber. Topics whose subscriber set became empty
// never appear here.
func (r *Registry) SubscribedScheduleIDs() []string {
	return r.idsOfKind(KindSchedule)
}

// SubscribedRouteIDs returns the distinct route identifiers with at least
// one subscriber.
func (r *Registry) SubscribedRouteIDs() []string {
	return r.idsOfKind(KindRoute)
}

func (r *Registry) idsOfKind(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for topic, set := range r.topics {
		if len(set) == 0 {
			continue
		}
		if topic.Kind() == kind {
			out = append(out, topic.ID())
		}
	}
	return out
}

// SubjectsSubscribedTo returns the distinct subject identities reachable
// through any of the given topics. Used by the tracking loop to decide who
// gets an arrival notification for a schedule.
func (r *Registry) SubjectsSubscribedTo(topics ...Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, topic := range topics {
		for connID := range r.topics[topic] {
			conn, ok := r.conns[connID]
			if !ok || conn.subject == "" {
				continue
			}
			if _, dup := seen[conn.subject]; dup {
				continue
			}
			seen[conn.subject] = struct{}{}
			out = append(out, conn.subject)
		}
	}
	return out
}

// Stats summarizes the registry state for the stats endpoint.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	RouteTopics   int `json:"routeTopics"`
	ScheduleTopic int `json:"scheduleTopics"`
	SubjectTopics int `json:"subjectTopics"`
}

// Stats returns current connection and topic counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Connections: len(r.conns)}
	for _, conn := range r.conns {
		if conn.subject != "" {
			s.Authenticated++
		}
	}
	for topic := range r.topics {
		switch topic.Kind() {
		case KindRoute:
			s.RouteTopics++
		case KindSchedule:
			s.ScheduleTopic++
		case KindSubject:
			s.SubjectTopics++
		}
	}
	return s
}
