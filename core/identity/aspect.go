package identity

import (
	"context"
	"fmt"
	"regexp"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/filter"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// PropertyType is the declared type of an aspect property.
type PropertyType string

const (
	PropString  PropertyType = "string"
	PropNumber  PropertyType = "number"
	PropBoolean PropertyType = "boolean"
	PropObject  PropertyType = "object"
	PropArray   PropertyType = "array"
)

// AspectProperty is one field of an aspect's schema, with optional
// validation rules: a regex and an allowed-value list. Validating a value
// against a filter is not supported.
type AspectProperty struct {
	Name          string       `json:"name"`
	Type          PropertyType `json:"type"`
	Regex         string       `json:"regex,omitempty"`
	AllowedValues []string     `json:"allowedValues,omitempty"`
	Required      bool         `json:"required,omitempty"`
}

// Aspect is a typed schema attachable to nodes, defining which nodes it may
// apply to via Filter.
type Aspect struct {
	UUID       string           `json:"uuid"`
	Title      string           `json:"title"`
	Properties []AspectProperty `json:"properties"`
	Filter     filter.DNF       `json:"filter,omitempty"`
}

// AspectService is the Aspect CRUD service atop the configuration repository.
type AspectService struct {
	repo ConfigRepository[Aspect]
}

// NewAspectService builds an AspectService atop repo.
func NewAspectService(repo ConfigRepository[Aspect]) *AspectService {
	return &AspectService{repo: repo}
}

func (s *AspectService) Create(ctx context.Context, a Aspect) (Aspect, error) {
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return Aspect{}, err
	}
	if a.UUID == "" {
		return Aspect{}, antboxerrors.Validation(antboxerrors.FieldError{Field: "uuid", Reason: "required"})
	}
	if err := s.repo.Add(ctx, a.UUID, a); err != nil {
		return Aspect{}, err
	}
	return a, nil
}

func (s *AspectService) Get(ctx context.Context, uuid string) (Aspect, error) {
	return s.repo.Get(ctx, uuid)
}

func (s *AspectService) List(ctx context.Context) ([]Aspect, error) {
	return s.repo.List(ctx)
}

func (s *AspectService) Delete(ctx context.Context, uuid string) error {
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return err
	}
	return s.repo.Delete(ctx, uuid)
}

// Validator implements node.AspectValidator, enforcing invariant 7: property
// values satisfy the validations of every aspect listed on a node.
type Validator struct {
	aspects ConfigRepository[Aspect]
}

// NewValidator builds a Validator bound to the aspect collection.
func NewValidator(aspects ConfigRepository[Aspect]) *Validator {
	return &Validator{aspects: aspects}
}

// Validate checks properties against every aspect in aspectUUIDs.
func (v *Validator) Validate(aspectUUIDs []string, properties map[string]any) error {
	ctx := context.Background()
	var fieldErrors []antboxerrors.FieldError
	for _, id := range aspectUUIDs {
		a, err := v.aspects.Get(ctx, id)
		if err != nil {
			fieldErrors = append(fieldErrors, antboxerrors.FieldError{Field: "aspects", Reason: "unknown aspect: " + id})
			continue
		}
		for _, p := range a.Properties {
			value, present := properties[p.Name]
			if !present {
				if p.Required {
					fieldErrors = append(fieldErrors, antboxerrors.FieldError{Field: p.Name, Reason: "required by aspect " + id})
				}
				continue
			}
			if err := validateProperty(p, value); err != nil {
				fieldErrors = append(fieldErrors, antboxerrors.FieldError{Field: p.Name, Reason: err.Error()})
			}
		}
	}
	if len(fieldErrors) > 0 {
		return antboxerrors.Validation(fieldErrors...)
	}
	return nil
}

func validateProperty(p AspectProperty, value any) error {
	if p.Regex != "" {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string for regex validation")
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return fmt.Errorf("invalid regex on aspect property: %w", err)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("value does not match pattern")
		}
	}
	if len(p.AllowedValues) > 0 {
		s := fmt.Sprint(value)
		ok := false
		for _, allowed := range p.AllowedValues {
			if allowed == s {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("value not in allowed list")
		}
	}
	return nil
}
