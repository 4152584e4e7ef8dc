package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Site is one published WebGL module. The prefix is derived when the row
// is created and never recomputed, so random padding stays stable.
type Site struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	CourseID    int64      `json:"course_id" gorm:"not null;uniqueIndex:idx_sites_course_module"`
	ModuleID    int64      `json:"module_id" gorm:"not null;uniqueIndex:idx_sites_course_module"`
	Prefix      string     `json:"prefix" gorm:"not null;uniqueIndex"`
	Backend     string     `json:"backend" gorm:"not null"` // azure, s3, local
	IndexURL    string     `json:"index_url"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Releases    []Release  `json:"releases,omitempty" gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate generates a UUID for the site ID
func (s *Site) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Release records one successful publish of a site
type Release struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SiteID      uuid.UUID `json:"site_id" gorm:"type:uuid;not null;index"`
	Version     string    `json:"version" gorm:"not null"`
	ZipName     string    `json:"zip_name"`
	ObjectCount int       `json:"object_count"`
	Bytes       int64     `json:"bytes"`
	SHA256      string    `json:"sha256" gorm:"index"`
	PublishedBy string    `json:"published_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the release ID
func (r *Release) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// APIKey is a long-lived credential for a host. Only a bcrypt hash of the
// secret is stored; the lookup ID locates the row.
type APIKey struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Name       string     `json:"name" gorm:"not null"`
	LookupID   string     `json:"lookup_id" gorm:"not null;uniqueIndex"`
	KeyHash    string     `json:"-" gorm:"not null"`
	IsAdmin    bool       `json:"is_admin" gorm:"default:false"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	IsActive   bool       `json:"is_active" gorm:"default:true"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BeforeCreate generates a UUID for the API key ID
func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Principal is the authenticated caller of a request
type Principal struct {
	Subject string    `json:"subject"`
	IsAdmin bool      `json:"is_admin"`
	KeyID   uuid.UUID `json:"key_id,omitempty"`
}

// AuthToken represents an issued JWT
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject"`
}

// CreateAPIKeyRequest is the body of an API key request
type CreateAPIKeyRequest struct {
	Name      string        `json:"name" binding:"required,min=1,max=100"`
	IsAdmin   bool          `json:"is_admin"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// SiteResponse is a site plus its current listing
type SiteResponse struct {
	Site     *Site       `json:"site"`
	Manifest interface{} `json:"manifest,omitempty"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
