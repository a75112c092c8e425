// Package notifications sends operator alerts about curation milestones.
//
// The ntfy implementation posts to the topic from the [notifications] config
// section. With no topic configured NewService returns a no-op, so callers
// never need to check whether alerts are enabled.
package notifications
