package model

import "github.com/google/uuid"

// Actor identifies who is performing an operation and from where. A nil
// UserID marks a system action (seeding, operator CLI).
type Actor struct {
	UserID    *uuid.UUID
	Origin    string
	UserAgent string
}

func UserActor(id uuid.UUID, origin, userAgent string) Actor {
	return Actor{UserID: &id, Origin: origin, UserAgent: userAgent}
}

func SystemActor(origin string) Actor {
	return Actor{Origin: origin}
}

func (a Actor) IsSystem() bool {
	return a.UserID == nil
}

// OriginPtr returns the origin for storage, nil when unknown.
func (a Actor) OriginPtr() *string {
	if a.Origin == "" {
		return nil
	}
	o := a.Origin
	return &o
}
