package export

import (
	"fmt"
	"strings"
)

// Service renders draft letters to downloadable documents. Access
// checks happen before a Letter reaches this package.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export renders the letter in the requested format
func (s *Service) Export(letter Letter, format Format) (*Result, error) {
	if strings.TrimSpace(letter.Content) == "" {
		return nil, ErrContentUnavailable
	}

	data := TemplateData{
		CaseTitle: letter.CaseTitle,
		Version:   letter.Version,
		BodyHTML:  contentToHTML(letter.Content),
		Author:    letter.Author,
		SavedAt:   letter.SavedAt,
	}

	html, err := RenderLetterHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("%s v%d", letter.CaseTitle, letter.Version)

	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
