package models

import "time"

// Photo is a stored image owned by a user. Photos are created by the upload
// path and only read by the face pipeline.
type Photo struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	FilePath  string    `json:"file_path" db:"file_path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Person is a named identity a user tags faces with.
type Person struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
