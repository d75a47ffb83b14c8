// Package dto holds the JSON bodies of the HTTP and WebSocket API.
package dto

// Every response carries Success so callers can branch without inspecting
// the status code.

type TagRequest struct {
	PersonID int64 `json:"person_id" binding:"required,gt=0"`
}

type TagResponse struct {
	Success bool            `json:"success"`
	Region  *RegionResponse `json:"region,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type ProcessResponse struct {
	Success     bool   `json:"success"`
	Queued      bool   `json:"queued,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	PhotoID     int64  `json:"photo_id"`
	Detected    int    `json:"detected"`
	Inserted    int    `json:"inserted"`
	Undecodable bool   `json:"undecodable,omitempty"`
	Error       string `json:"error,omitempty"`
}

type RegionResponse struct {
	ID         int64   `json:"id"`
	PhotoID    int64   `json:"photo_id"`
	PersonID   *int64  `json:"person_id"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Verified   bool    `json:"verified"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

type RegionListResponse struct {
	Success bool             `json:"success"`
	Regions []RegionResponse `json:"regions"`
	Error   string           `json:"error,omitempty"`
}

type CandidateResponse struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

type DetectResponse struct {
	Success   bool                `json:"success"`
	Available bool                `json:"detection_available"`
	Faces     []CandidateResponse `json:"faces"`
	Error     string              `json:"error,omitempty"`
}

type StatsResponse struct {
	Success            bool   `json:"success"`
	UserID             int64  `json:"user_id"`
	TotalPhotos        int    `json:"total_photos"`
	PhotosWithFaces    int    `json:"photos_with_faces"`
	VerifiedTags       int    `json:"verified_tags"`
	UnverifiedTags     int    `json:"unverified_tags"`
	UniquePeople       int    `json:"unique_people"`
	DetectionAvailable bool   `json:"detection_available"`
	Error              string `json:"error,omitempty"`
}

// WSEvent is a WebSocket message for real-time face event delivery.
type WSEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // faces_detected, face_tagged
	UserID    int64  `json:"user_id"`
	PhotoID   int64  `json:"photo_id"`
	RegionID  int64  `json:"region_id,omitempty"`
	PersonID  int64  `json:"person_id,omitempty"`
	Detected  int    `json:"detected,omitempty"`
	Inserted  int    `json:"inserted,omitempty"`
	Timestamp string `json:"timestamp"`
}
