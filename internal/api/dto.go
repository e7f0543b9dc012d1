package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/models"
)

// OpenRequest is the request body for opening a document.
type OpenRequest struct {
	Path string `json:"path" example:"/home/me/notes/readme.md" validate:"required"`
}

// Validate checks the request fields.
func (r OpenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

// ConvertRequest is the request body for converting the current document.
type ConvertRequest struct {
	Format string `json:"format" example:"docx" validate:"required"`
	Output string `json:"output,omitempty" example:"/tmp/readme.docx"`
}

// Validate checks the request fields.
func (r ConvertRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Format, validation.Required, validation.In(toAny(converter.Formats)...)),
	)
}

// AddTagRequest is the request body for tagging a scroll position.
type AddTagRequest struct {
	Name     string `json:"name" example:"intro" validate:"required"`
	Position int    `json:"position" example:"420"`
}

// Validate checks the request fields.
func (r AddTagRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Position, validation.Min(0)),
	)
}

// JumpRequest carries a tag listing's display text.
type JumpRequest struct {
	Text string `json:"text" example:"readme.md: intro (位置: 420)" validate:"required"`
}

// Validate checks the request fields.
func (r JumpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required),
	)
}

// TaskResponse is returned when background work was started.
type TaskResponse struct {
	TaskID string `json:"task_id" example:"0f8fad5b-d9cb-469f-a165-70867728950e" validate:"required"`
}

// TagListing is one tag in a listing response.
type TagListing struct {
	Doc      string `json:"doc" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Position int    `json:"position" validate:"required"`
	Display  string `json:"display" example:"readme.md: intro (位置: 420)" validate:"required"`
}

// TagListResponse wraps tag listings.
type TagListResponse struct {
	Tags []TagListing `json:"tags" validate:"required"`
}

// AddTagResponse reports whether the tag was new.
type AddTagResponse struct {
	Added bool `json:"added"`
}

// JumpResponse carries the recovered scroll position.
type JumpResponse struct {
	Position int `json:"position" example:"420"`
}

func toListings(in []models.Listing) []TagListing {
	out := make([]TagListing, 0, len(in))
	for _, l := range in {
		out = append(out, TagListing{
			Doc:      l.Doc,
			Name:     l.Tag.Name,
			Position: l.Tag.Position,
			Display:  l.Display(),
		})
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
