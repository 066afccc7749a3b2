package service

import (
	"regexp"
	"strings"

	"github.com/propline/campaign-engine/internal/models"
)

// TemplateService renders campaign templates against per-recipient
// variables. Placeholders use the {variable_name} form.
type TemplateService interface {
	Render(template string, vars map[string]string) string
	ValidateTemplate(template string) error
	ExtractPlaceholders(template string) []string
}

type templateService struct {
	placeholderPattern *regexp.Regexp
}

// NewTemplateService creates a new template service
func NewTemplateService() TemplateService {
	return &templateService{
		placeholderPattern: regexp.MustCompile(`\{([a-z0-9_]+)\}`),
	}
}

// Render replaces placeholders in template with recipient variables.
// Missing variables are replaced with empty strings.
func (s *templateService) Render(template string, vars map[string]string) string {
	return s.placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.Trim(match, "{}")
		return vars[name]
	})
}

// ValidateTemplate checks if template syntax is valid
func (s *templateService) ValidateTemplate(template string) error {
	if template == "" {
		return models.ErrInvalidInput("template cannot be empty")
	}
	if strings.Count(template, "{") != strings.Count(template, "}") {
		return models.ErrInvalidInput("template has unbalanced braces")
	}
	return nil
}

// ExtractPlaceholders returns all placeholders found in template
func (s *templateService) ExtractPlaceholders(template string) []string {
	matches := s.placeholderPattern.FindAllStringSubmatch(template, -1)
	placeholders := make([]string, 0, len(matches))

	for _, match := range matches {
		if len(match) > 1 {
			placeholders = append(placeholders, match[1])
		}
	}

	return placeholders
}
