package registry

import "strings"

// Topic is an addressable broadcast channel. The three kinds are
// route-scoped, schedule-scoped, and subject-scoped (one passenger).
type Topic string

// Topic kinds.
const (
	KindRoute    = "route"
	KindSchedule = "schedule"
	KindSubject  = "subject"
)

// RouteTopic returns the topic for a route's live updates.
func RouteTopic(routeID string) Topic {
	return Topic(KindRoute + ":" + routeID)
}

// ScheduleTopic returns the topic for one schedule's live updates.
func ScheduleTopic(scheduleID string) Topic {
	return Topic(KindSchedule + ":" + scheduleID)
}

// SubjectTopic returns the targeted channel for one authenticated subject.
func SubjectTopic(subjectID string) Topic {
	return Topic(KindSubject + ":" + subjectID)
}

// Kind returns the topic kind, or "" for a malformed topic.
func (t Topic) Kind() string {
	kind, _, ok := strings.Cut(string(t), ":")
	if !ok {
		return ""
	}
	return kind
}

// ID returns the route, schedule, or subject identifier.
func (t Topic) ID() string {
	_, id, _ := strings.Cut(string(t), ":")
	return id
}
