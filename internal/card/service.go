package card

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service applies profile edits and keeps the user's cards in step with
// them.
type Service struct {
	Profiles ProfileStore
	Cards    CardStore

	now func() time.Time
}

// InfoUpdate is the form a user submits when editing the details printed
// on a card.
type InfoUpdate struct {
	FullName       string `json:"full_name"`
	Company        string `json:"company"`
	JobTitle       string `json:"job_title"`
	Website        string `json:"website"`
	LinkedInURL    string `json:"linkedin_url"`
	AvatarURL      string `json:"avatar_url"`
	CompanyLogoURL string `json:"company_logo_url"`
	XHandle        string `json:"xhandle"`
}

// UpdateInfo writes u to userID's profile and copies the company and
// website onto cardID. A card owned by another user is reported as
// ErrNotFound and nothing is written.
func (s *Service) UpdateInfo(ctx context.Context, userID, cardID string, u InfoUpdate) (*Card, error) {
	if userID == "" || cardID == "" {
		return nil, fmt.Errorf("%w: user and card IDs are required", ErrInvalid)
	}

	c, err := s.Cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("loading card: %w", err)
	}
	if c.Owner != userID {
		return nil, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}

	p, err := s.Profiles.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		p = &Profile{ID: userID}
	case err != nil:
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	website := withScheme(u.Website)
	p.FullName = u.FullName
	p.Company = u.Company
	p.JobTitle = u.JobTitle
	p.Website = website
	p.LinkedInURL = withScheme(u.LinkedInURL)
	p.AvatarURL = u.AvatarURL
	p.CompanyLogoURL = u.CompanyLogoURL
	p.XHandle = u.XHandle
	p.UpdatedAt = s.clock().UTC()
	if err := s.Profiles.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}

	c.Company = u.Company
	c.Website = website
	if err := s.Cards.UpdateCard(ctx, c); err != nil {
		return nil, fmt.Errorf("updating card: %w", err)
	}
	return c, nil
}

// SaveProfile normalises p's links and stores it, deriving a username from
// the full name when none is given.
func (s *Service) SaveProfile(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		return fmt.Errorf("%w: profile ID is required", ErrInvalid)
	}
	if p.FullName == "" || p.Email == "" {
		return fmt.Errorf("%w: full name and email are required", ErrInvalid)
	}
	if p.Username == "" {
		p.Username = strings.ToLower(strings.Join(strings.Fields(p.FullName), "_"))
	}
	p.Website = withScheme(p.Website)
	p.LinkedInURL = withScheme(p.LinkedInURL)
	p.UpdatedAt = s.clock().UTC()
	return s.Profiles.SaveProfile(ctx, p)
}

// withScheme prefixes https:// onto a non-empty link without an http
// scheme.
func withScheme(link string) string {
	if link == "" || strings.HasPrefix(link, "http") {
		return link
	}
	return "https://" + link
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
