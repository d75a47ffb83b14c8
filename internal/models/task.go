package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessTask is the message published to NATS for worker processing.
type ProcessTask struct {
	ID          uuid.UUID `json:"id"`
	PhotoID     int64     `json:"photo_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Face event types.
const (
	EventFacesDetected = "faces_detected"
	EventFaceTagged    = "face_tagged"
)

// FaceEvent is published after the face data of a photo changed.
type FaceEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id"`
	PhotoID   int64     `json:"photo_id"`
	RegionID  int64     `json:"region_id,omitempty"`
	PersonID  int64     `json:"person_id,omitempty"`
	Detected  int       `json:"detected,omitempty"`
	Inserted  int       `json:"inserted,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
