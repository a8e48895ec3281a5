// Package card designs business cards with the AI gateway and manages the
// profiles and cards they are built from.
package card

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a profile or card does not exist,
// and by Service when a card belongs to someone else.
var ErrNotFound = errors.New("not found")

// ErrInvalid is wrapped by validation failures on user input.
var ErrInvalid = errors.New("invalid input")

// Profile is what a user tells us about themselves. Cards copy the company
// fields from it at generation time.
type Profile struct {
	ID             string    `json:"id"`
	FullName       string    `json:"full_name"`
	Username       string    `json:"username,omitempty"`
	Email          string    `json:"email,omitempty"`
	Company        string    `json:"company,omitempty"`
	JobTitle       string    `json:"job_title,omitempty"`
	Website        string    `json:"website,omitempty"`
	LinkedInURL    string    `json:"linkedin_url,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CompanyLogoURL string    `json:"company_logo_url,omitempty"`
	XHandle        string    `json:"xhandle,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Style is the visual design of a card.
type Style struct {
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
	PrimaryColor    string `json:"primaryColor"`
	BackgroundImage string `json:"backgroundImage,omitempty"`
}

// Card is a generated business card.
type Card struct {
	ID        string    `json:"id"`
	Owner     string    `json:"user_id"`
	Name      string    `json:"businesscard_name"`
	Company   string    `json:"company_name"`
	Website   string    `json:"website"`
	Style     Style     `json:"style"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileStore persists profiles keyed by user ID.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}

// CardStore persists cards. ListCards returns a user's cards newest first.
type CardStore interface {
	CreateCard(ctx context.Context, c *Card) error
	GetCard(ctx context.Context, cardID string) (*Card, error)
	ListCards(ctx context.Context, userID string) ([]*Card, error)
	UpdateCard(ctx context.Context, c *Card) error
	DeleteCard(ctx context.Context, cardID string) error
}

// ObjectStore holds binary objects such as generated images and hands out
// URLs that browsers can load them from.
type ObjectStore interface {
	Upload(ctx context.Context, namespace, path string, data []byte, contentType string) error
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, namespace, path string) error
	PublicURL(namespace, path string) string
}

// PaletteExtractor returns the dominant colours of an image as #rrggbb
// strings, most frequent first.
type PaletteExtractor interface {
	Colors(ctx context.Context, imageRef string) ([]string, error)
}
