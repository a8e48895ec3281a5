package card

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/howard-nolan/cardforge/internal/provider"
)

// Namespace is the object store namespace card images are uploaded to.
const Namespace = "business-cards"

// ChatCompleter is the part of provider.Client the designer needs for
// the card style.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, req *provider.ChatRequest, opts ...provider.CallOption) (*provider.ChatResponse, error)
}

// ImageGenerator is the part of provider.Client the designer needs for the
// background image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *provider.ImageRequest, opts ...provider.CallOption) (*provider.ImageResponse, error)
}

// Designer generates new cards: a chat model picks the colours, an image
// model paints the background.
type Designer struct {
	Chat      ChatCompleter
	Images    ImageGenerator
	Profiles  ProfileStore
	Cards     CardStore
	Objects   ObjectStore
	Palette   PaletteExtractor // optional
	ImageSize provider.ImageSize
	Logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// designTemperature leaves the model room to vary designs between calls.
const designTemperature = 0.7

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// design is the JSON object the chat model is asked to produce.
type design struct {
	Name  string `json:"businesscard_name"`
	Style struct {
		BackgroundColor string `json:"backgroundColor"`
		TextColor       string `json:"textColor"`
		PrimaryColor    string `json:"primaryColor"`
	} `json:"style"`
}

// Generate designs a card called name in the given style for userID,
// uploads its background and stores it.
func (d *Designer) Generate(ctx context.Context, userID, name, style string) (*Card, error) {
	log := d.logger().With("user_id", userID)

	profile, err := d.Profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	var logoColors []string
	if profile.CompanyLogoURL != "" && d.Palette != nil {
		logoColors, err = d.Palette.Colors(ctx, profile.CompanyLogoURL)
		if err != nil {
			log.Warn("logo palette extraction failed, continuing without it", "error", err)
			logoColors = nil
		}
	}

	temperature := designTemperature
	resp, err := d.Chat.ChatCompletion(ctx, &provider.ChatRequest{
		Messages: []provider.Message{{
			Role:    provider.RoleUser,
			Content: provider.TextContent(designPrompt(name, style, profile, logoColors)),
		}},
		Temperature:    &temperature,
		ResponseFormat: provider.JSONObject,
	})
	if err != nil {
		return nil, fmt.Errorf("generating card style: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("generating card style: model returned no choices")
	}
	text := resp.Choices[0].Message.Content.String()
	log.Debug("card style generated", "model", resp.Model, "text", text)

	des, err := parseDesign(text)
	if err != nil {
		return nil, err
	}
	if des.Name == "" {
		des.Name = name
	}

	cardID := d.id()
	imagePath := userID + "/" + cardID + ".png"
	imageURL, err := d.background(ctx, imagePath, profile.Company, style)
	if err != nil {
		return nil, err
	}

	c := &Card{
		ID:      cardID,
		Owner:   userID,
		Name:    des.Name,
		Company: profile.Company,
		Website: profile.Website,
		Style: Style{
			BackgroundColor: des.Style.BackgroundColor,
			TextColor:       des.Style.TextColor,
			PrimaryColor:    des.Style.PrimaryColor,
			BackgroundImage: imageURL,
		},
		ImageURL:  imageURL,
		CreatedAt: d.clock().UTC(),
	}
	if err := d.Cards.CreateCard(ctx, c); err != nil {
		if derr := d.Objects.Delete(context.WithoutCancel(ctx), Namespace, imagePath); derr != nil {
			log.Warn("removing orphaned background image", "path", imagePath, "error", derr)
		}
		return nil, fmt.Errorf("saving card: %w", err)
	}
	log.Info("card generated", "card_id", c.ID)
	return c, nil
}

// background generates the card's background image, uploads it to path and
// returns its public URL.
func (d *Designer) background(ctx context.Context, path, company, style string) (string, error) {
	resp, err := d.Images.GenerateImage(ctx, &provider.ImageRequest{
		Prompt: fmt.Sprintf("Create a business card background image for %s in a %s style. "+
			"The image should be subtle and not interfere with text readability.", company, style),
		N:              1,
		Size:           d.ImageSize,
		ResponseFormat: provider.ImageFormatBase64,
	})
	if err != nil {
		return "", fmt.Errorf("generating background image: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", errors.New("generating background image: no image returned")
	}
	img := resp.Data[0]
	if img.Error != "" {
		return "", fmt.Errorf("generating background image: %s", img.Error)
	}
	if img.B64JSON == "" {
		return "", errors.New("generating background image: response carries no image data")
	}
	data, err := base64.StdEncoding.DecodeString(img.B64JSON)
	if err != nil {
		return "", fmt.Errorf("decoding background image: %w", err)
	}

	if err := d.Objects.Upload(ctx, Namespace, path, data, "image/png"); err != nil {
		return "", fmt.Errorf("uploading background image: %w", err)
	}
	return d.Objects.PublicURL(Namespace, path), nil
}

func designPrompt(name, style string, p *Profile, logoColors []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Generate a business card design in JSON format with the following properties:
- businesscard_name: %q
- style: an object containing:
  - backgroundColor: a suitable hex color for the background
  - textColor: a suitable hex color for the text
  - primaryColor: a suitable hex color for primary elements

The response should be valid JSON only, with no additional text.

The style should be %q themed.
`, name, style)
	if len(logoColors) > 0 {
		fmt.Fprintf(&b, "Incorporate these colors from the company logo: %s\n", strings.Join(logoColors, ", "))
	}
	if p.CompanyLogoURL != "" {
		fmt.Fprintf(&b, "The card should complement this company logo: %s\n", p.CompanyLogoURL)
	}
	fmt.Fprintf(&b, "Consider the company name %q and industry when designing the card.\n", p.Company)
	b.WriteString("Ensure the design is professional and aligns with the company's branding.")
	return b.String()
}

// parseDesign pulls the design object out of the model's reply. Models
// wrap JSON in prose or code fences and sometimes break it, so the span
// from the first '{' to the last '}' is taken and repaired before decoding.
func parseDesign(text string) (*design, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, errors.New("model reply contains no JSON object")
	}
	raw := text[start : end+1]

	var des design
	if err := json.Unmarshal([]byte(raw), &des); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("model reply is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &des); err != nil {
			return nil, fmt.Errorf("decoding repaired model reply: %w", err)
		}
	}

	for field, v := range map[string]string{
		"backgroundColor": des.Style.BackgroundColor,
		"textColor":       des.Style.TextColor,
		"primaryColor":    des.Style.PrimaryColor,
	} {
		if !hexColor.MatchString(v) {
			return nil, fmt.Errorf("model reply: style.%s %q is not a hex colour", field, v)
		}
	}
	return &des, nil
}

func (d *Designer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Designer) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Designer) id() string {
	if d.newID != nil {
		return d.newID()
	}
	return uuid.NewString()
}
