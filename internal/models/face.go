package models

import "time"

// Rect is a face rectangle in pixel coordinates, origin top-left.
// Within one photo it is the deduplication key for face regions.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether every coordinate is non-negative and the area is non-empty.
func (r Rect) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0
}

// FaceRegion is a detected or confirmed face location within one photo.
// PersonID is nil until the region is tagged; tagging sets Verified.
type FaceRegion struct {
	ID         int64     `json:"id" db:"id"`
	PhotoID    int64     `json:"photo_id" db:"photo_id"`
	PersonID   *int64    `json:"person_id,omitempty" db:"person_id"`
	Rect       Rect      `json:"rect"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Verified   bool      `json:"verified" db:"verified"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// FaceCounts are the raw per-user counts behind FaceStats.
type FaceCounts struct {
	TotalPhotos     int `json:"total_photos"`
	PhotosWithFaces int `json:"photos_with_faces"`
	VerifiedTags    int `json:"verified_tags"`
	UnverifiedTags  int `json:"unverified_tags"`
	UniquePeople    int `json:"unique_people"`
}

// FaceStats is the reporting view for one user. It is always well formed:
// on failure the counts are zero and Error is set.
type FaceStats struct {
	FaceCounts
	DetectionAvailable bool   `json:"detection_available"`
	Error              string `json:"error,omitempty"`
}
