package resolver

import corev1 "k8s.io/api/core/v1"

const (
	EventTypeNormal  = corev1.EventTypeNormal
	EventTypeWarning = corev1.EventTypeWarning

	ReasonResolved     = "Resolved"
	ReasonUnresolved   = "Unresolved"
	ReasonBounced      = "Bounced"
	ReasonJoinConflict = "JoinConflict"
	ReasonNeedsRefresh = "NeedsRefresh"
)

func (r *Registry) recordEventf(u *Unit, eventType, reason, messageFmt string, args ...any) {
	if r.recorder == nil || u == nil || u.object == nil {
		return
	}
	r.recorder.Eventf(u.object, eventType, reason, messageFmt, args...)
}
