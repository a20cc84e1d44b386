package router

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/whatnick/aws-tf-vibe/internal/core/model"
)

// SearchPayload is the JSON body shared by the search, count and summary
// routes. Field names follow the web client.
type SearchPayload struct {
	BBox       []float64 `json:"bbox" validate:"omitempty,len=4"`
	Collection string    `json:"collection" validate:"omitempty,max=256"`
	StartDate  string    `json:"startDate" validate:"omitempty,stacdate"`
	EndDate    string    `json:"endDate" validate:"omitempty,stacdate"`
	CloudCover *float64  `json:"cloudCover" validate:"omitempty,gte=0,lte=100"`
	CatalogURL string    `json:"catalogUrl" validate:"omitempty,url"`
}

// Filter converts the payload. A missing cloudCover means no cloud filter and
// a missing catalogUrl falls back to defaultEndpoint.
func (p SearchPayload) Filter(defaultEndpoint string) model.Filter {
	endpoint := strings.TrimSpace(p.CatalogURL)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	f := model.NewFilter(endpoint)
	if len(p.BBox) == 4 {
		b := model.BBox{p.BBox[0], p.BBox[1], p.BBox[2], p.BBox[3]}
		f.BBox = &b
	}
	f.CollectionID = strings.TrimSpace(p.Collection)
	f.StartDate = strings.TrimSpace(p.StartDate)
	f.EndDate = strings.TrimSpace(p.EndDate)
	if p.CloudCover != nil {
		f.CloudCoverCeiling = *p.CloudCover
	}
	return f
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("stacdate", func(fl validator.FieldLevel) bool {
			return isStacDate(fl.Field().String())
		})
	})
	return validate
}

// isStacDate accepts a calendar date or an RFC 3339 timestamp.
func isStacDate(s string) bool {
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

var messages = map[string]string{
	"len":      "%s must have exactly %s values",
	"max":      "%s must be at most %s characters",
	"gte":      "%s must be greater than or equal to %s",
	"lte":      "%s must be less than or equal to %s",
	"url":      "%s must be a valid URL",
	"stacdate": "%s must be a date (YYYY-MM-DD) or RFC3339 timestamp",
}

// validatePayload returns a single readable error for all failing fields.
func validatePayload(p *SearchPayload) error {
	err := getValidator().Struct(p)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("validate payload: %w", err)
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		tmpl, ok := messages[fe.Tag()]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
			continue
		}
		if strings.Count(tmpl, "%s") == 2 {
			msgs = append(msgs, fmt.Sprintf(tmpl, fe.Field(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf(tmpl, fe.Field()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
