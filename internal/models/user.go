package models

// Contact is the read-only patient record the notification transport needs.
type Contact struct {
	ID       string `bson:"_id,omitempty" json:"id"`
	FullName string `bson:"fullName" json:"fullName"`
	Email    string `bson:"email" json:"email"`
	Phone    string `bson:"phone" json:"phone"` // Optional, can be empty
}
